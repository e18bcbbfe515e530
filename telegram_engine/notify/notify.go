// Package notify posts operational notices to the admin chat.
package notify

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/moneyscripter/copytrade/models"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Admin sends notices to a single chat through the Bot API.
type Admin struct {
	api    sender
	chatID int64
	log    *zap.Logger
}

func NewAdmin(token string, chatID int64, log *zap.Logger) (*Admin, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "admin bot api")
	}
	return &Admin{api: api, chatID: chatID, log: log}, nil
}

func (a *Admin) Notify(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(a.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := a.api.Send(msg); err != nil {
		a.log.Warn("Admin notice failed", zap.Int64("chat_id", a.chatID), zap.Error(err))
		return errors.Wrapf(models.ErrTransport, "admin notice: %v", err)
	}
	return nil
}

// Started is the notice sent once the relay is accepting messages.
func Started(scope, leader string) string {
	return fmt.Sprintf("Relay has been started! Leader @%s, referral %s", leader, scope)
}

// Summary describes one completed broadcast.
func Summary(sig models.Signal, signalID string, targeted, inserted, failed int) string {
	return fmt.Sprintf("%s %s size %v @ %v x%v\nsignal %s: %d subscribers, %d stored, %d failed",
		sig.Side, sig.Symbol, sig.Size, sig.Price, sig.Leverage, signalID, targeted, inserted, failed)
}

type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }
