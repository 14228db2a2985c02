package feed

import (
	"context"
	"encoding/json"
	"strings"

	"CryptoBotListener/internal/services"

	"github.com/gorilla/websocket"
)

// Frame is one chat message pushed by the relay.
type Frame struct {
	Text        string `json:"text"`
	ReplyToText string `json:"reply_to_text"`
	Sender      string `json:"sender"`
}

func (f Frame) Message() services.TextMessage {
	return services.NewTextMessage(f.Text, f.ReplyToText)
}

// ParseFrame reports ok=false for frames without text (keepalives, acks).
func ParseFrame(msg []byte) (Frame, bool, error) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, false, err
	}
	if strings.TrimSpace(f.Text) == "" {
		return Frame{}, false, nil
	}
	return f, true, nil
}

type Client struct {
	Endpoint string
	Conn     *websocket.Conn
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint}
}

func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *Client) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *Client) Read() ([]byte, error) {
	_, msg, err := c.Conn.ReadMessage()
	return msg, err
}
