// Package client listens to leader posts over MTProto with a user account,
// for chats where a bot cannot read other bots' messages.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/moneyscripter/copytrade/models"
)

// channelIDOffset converts MTProto channel ids to Bot API chat ids so both
// transports produce the same message refs.
const channelIDOffset = 1_000_000_000_000

type Intake interface {
	Handle(ctx context.Context, in models.Inbound) bool
}

type Engine struct {
	Phone       string
	AppID       int
	AppHash     string
	Password    string
	SessionPath string
	// ChannelIDs limits intake to these MTProto channel ids. Empty accepts all.
	ChannelIDs []int64

	Intake Intake
	Log    *zap.Logger
	// CodeInput supplies the login code on first run. Defaults to stdin.
	CodeInput io.Reader
}

// Run connects, logs in when the session is missing and forwards new
// messages to Intake until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, entities tg.Entities, u *tg.UpdateNewChannelMessage) error {
		e.handle(ctx, entities, u.Message)
		return nil
	})
	dispatcher.OnNewMessage(func(ctx context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
		e.handle(ctx, entities, u.Message)
		return nil
	})

	client := telegram.NewClient(e.AppID, e.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: e.SessionPath},
		UpdateHandler:  dispatcher,
		Logger:         e.Log.Named("mtproto"),
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter().WithMaxRetries(5),
			ratelimit.New(rate.Every(100*time.Millisecond), 5),
		},
	})

	return client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(
			auth.Constant(e.Phone, e.Password, auth.CodeAuthenticatorFunc(e.code)),
			auth.SendCodeOptions{},
		)
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return errors.Wrap(err, "auth")
		}
		self, err := client.Self(ctx)
		if err != nil {
			return errors.Wrap(err, "self")
		}
		e.Log.Info("Telegram client started", zap.String("username", self.Username), zap.Int64s("channels", e.ChannelIDs))
		<-ctx.Done()
		return ctx.Err()
	})
}

func (e *Engine) code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	in := e.CodeInput
	if in == nil {
		in = os.Stdin
	}
	fmt.Print("Enter code: ")
	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

func (e *Engine) handle(ctx context.Context, entities tg.Entities, m tg.MessageClass) {
	msg, ok := m.(*tg.Message)
	if !ok || msg.Out {
		return
	}
	in, ok := inbound(msg, entities)
	if !ok || !e.accepts(msg) {
		return
	}
	e.Intake.Handle(ctx, in)
}

func (e *Engine) accepts(msg *tg.Message) bool {
	if len(e.ChannelIDs) == 0 {
		return true
	}
	ch, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return false
	}
	for _, id := range e.ChannelIDs {
		if id == ch.ChannelID {
			return true
		}
	}
	return false
}

// inbound maps an MTProto message onto the transport-neutral event, resolving
// the sender username from the update entities.
func inbound(msg *tg.Message, entities tg.Entities) (models.Inbound, bool) {
	if msg.Message == "" {
		return models.Inbound{}, false
	}
	in := models.Inbound{MessageID: msg.ID, Text: msg.Message}

	switch peer := msg.PeerID.(type) {
	case *tg.PeerChannel:
		in.ChatID = -(channelIDOffset + peer.ChannelID)
	case *tg.PeerChat:
		in.ChatID = -peer.ChatID
	case *tg.PeerUser:
		in.ChatID = peer.UserID
	}

	from, ok := msg.GetFromID()
	if !ok {
		// Channel posts carry no sender; the channel itself speaks.
		from = msg.PeerID
	}
	switch peer := from.(type) {
	case *tg.PeerUser:
		in.SenderID = peer.UserID
		if u, ok := entities.Users[peer.UserID]; ok {
			in.SenderUsername = u.Username
		}
	case *tg.PeerChannel:
		in.SenderID = -(channelIDOffset + peer.ChannelID)
		if c, ok := entities.Channels[peer.ChannelID]; ok {
			in.SenderUsername = c.Username
		}
	}
	return in, true
}
