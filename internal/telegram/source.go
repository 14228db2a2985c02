// Package telegram long-polls the Bot API for payment confirmations posted by
// the configured sender bots.
package telegram

import (
	"context"
	"log/slog"
	"strings"

	"CryptoBotListener/internal/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const pollTimeoutSeconds = 30

// Updater is the subset of *tgbotapi.BotAPI used by Source.
type Updater interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Source struct {
	bot     Updater
	senders map[string]struct{}
}

func New(token string, senders []string) (*Source, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	slog.Default().Info("telegram bot authorized", "bot", bot.Self.UserName)
	return NewWithUpdater(bot, senders), nil
}

func NewWithUpdater(bot Updater, senders []string) *Source {
	set := make(map[string]struct{}, len(senders))
	for _, s := range senders {
		s = normalize(s)
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return &Source{bot: bot, senders: set}
}

func (s *Source) Name() string { return "telegram" }

func (s *Source) Run(ctx context.Context, out chan<- services.Message) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := s.bot.GetUpdatesChan(u)
	defer s.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			msg, ok := s.Accept(upd)
			if !ok {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Accept maps an update to a Message when it carries text from one of the senders,
// either directly or as a forward.
func (s *Source) Accept(upd tgbotapi.Update) (services.TextMessage, bool) {
	m := upd.Message
	if m == nil {
		m = upd.ChannelPost
	}
	if m == nil || !s.fromSender(m) {
		return services.TextMessage{}, false
	}
	text := messageText(m)
	if text == "" {
		return services.TextMessage{}, false
	}
	msg := services.TextMessage{Body: text}
	if m.ReplyToMessage != nil {
		msg.Reply = true
		msg.ReplyBody = messageText(m.ReplyToMessage)
	}
	return msg, true
}

func (s *Source) fromSender(m *tgbotapi.Message) bool {
	for _, name := range []string{
		userName(m.From),
		userName(m.ForwardFrom),
		userName(m.ViaBot),
	} {
		if _, ok := s.senders[normalize(name)]; ok {
			return true
		}
	}
	return false
}

func userName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return u.UserName
}

func messageText(m *tgbotapi.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}
