package services

import "context"

// Message is one chat message as delivered by a transport.
type Message interface {
	Text() string
	IsReply() bool
	// ReplyText resolves the message this one replies to.
	ReplyText(ctx context.Context) (string, error)
}

// TextMessage is a Message whose reply, if any, is already resolved.
type TextMessage struct {
	Body      string
	ReplyBody string
	Reply     bool
}

func (m TextMessage) Text() string  { return m.Body }
func (m TextMessage) IsReply() bool { return m.Reply }

func (m TextMessage) ReplyText(context.Context) (string, error) {
	return m.ReplyBody, nil
}

// NewTextMessage marks the message as a reply when replyText is not empty.
func NewTextMessage(text, replyText string) TextMessage {
	return TextMessage{Body: text, ReplyBody: replyText, Reply: replyText != ""}
}
