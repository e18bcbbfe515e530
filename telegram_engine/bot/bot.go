// Package bot is the Bot API side of the relay: follower commands, leader
// message intake and outbound replies.
package bot

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/moneyscripter/copytrade/models"
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"

	callbackSubscribe = "subscribe"
)

// Intake receives every non-command text message.
type Intake interface {
	Handle(ctx context.Context, in models.Inbound) bool
}

type Options struct {
	Token         string
	Mode          string
	WebhookURL    string
	WebhookSecret string
	// SendRate is messages per second across all chats.
	SendRate  float64
	SendBurst int
}

type Engine struct {
	opts     Options
	b        *bot.Bot
	limiter  *rate.Limiter
	commands *Commands
	intake   Intake
	log      *zap.Logger
}

// New connects to the Bot API. SetCommands must be called before Run.
func New(opts Options, intake Intake, log *zap.Logger) (*Engine, error) {
	if opts.SendRate <= 0 {
		opts.SendRate = 25
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 5
	}
	e := &Engine{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.SendRate), opts.SendBurst),
		intake:  intake,
		log:     log,
	}

	botOpts := []bot.Option{
		bot.WithDefaultHandler(e.userInputHandler),
	}
	if opts.Mode == ModeWebhook && opts.WebhookSecret != "" {
		botOpts = append(botOpts, bot.WithWebhookSecretToken(opts.WebhookSecret))
	}
	b, err := bot.New(opts.Token, botOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create bot")
	}
	e.b = b
	return e, nil
}

type route struct {
	pattern string
	match   bot.MatchType
	home    bool
}

// textRoutes are matched by prefix so "/start@CopyTradeBot" and deep-link
// payloads such as "/start ref" reach their handler.
func textRoutes() []route {
	var routes []route
	for _, name := range Names() {
		routes = append(routes, route{pattern: name, match: bot.MatchTypePrefix, home: name == "/start"})
	}
	return routes
}

func (e *Engine) SetCommands(c *Commands) {
	e.commands = c
	for _, r := range textRoutes() {
		h := e.commandHandler
		if r.home {
			h = e.homeHandler
		}
		e.b.RegisterHandler(bot.HandlerTypeMessageText, r.pattern, r.match, h)
	}
	e.b.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackSubscribe, bot.MatchTypeExact, e.callbackQueryHandler)
}

// SendText implements Transport, throttled to stay under Bot API limits.
func (e *Engine) SendText(ctx context.Context, chatID int64, text string) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := e.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return errors.Wrapf(models.ErrTransport, "send to %d: %v", chatID, err)
	}
	return nil
}

// WebhookHandler is mounted on the HTTP server in webhook mode.
func (e *Engine) WebhookHandler() http.Handler {
	return e.b.WebhookHandler()
}

// Run receives updates until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("Telegram bot started", zap.String("mode", e.opts.Mode))
	if e.opts.Mode == ModeWebhook {
		ok, err := e.b.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         e.opts.WebhookURL,
			SecretToken: e.opts.WebhookSecret,
		})
		if err != nil || !ok {
			return errors.Wrapf(models.ErrTransport, "set webhook %s: %v", e.opts.WebhookURL, err)
		}
		e.b.StartWebhook(ctx)
		return nil
	}
	if _, err := e.b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		e.log.Warn("Delete webhook failed", zap.Error(err))
	}
	e.b.Start(ctx)
	return nil
}

func (e *Engine) commandHandler(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	in, ok := inbound(update)
	if !ok {
		return
	}
	if !e.commands.Handle(ctx, in) {
		e.intake.Handle(ctx, in)
	}
}

func (e *Engine) homeHandler(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil {
		return
	}
	// The prefix also matches words like "/startup".
	if !isStart(update.Message.Text) {
		e.commandHandler(ctx, b, update)
		return
	}
	e.sendWithKeyboard(ctx, b, update.Message.Chat.ID, e.commands.help())
}

func isStart(text string) bool {
	name, _ := splitCommand(text)
	return name == "/start"
}

func (e *Engine) sendWithKeyboard(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	buttons := [][]tgmodels.InlineKeyboardButton{{{
		Text:         "Subscribe",
		CallbackData: callbackSubscribe,
	}}}
	if err := e.limiter.Wait(ctx); err != nil {
		return
	}
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
		ReplyMarkup: &tgmodels.InlineKeyboardMarkup{
			InlineKeyboard: buttons,
		},
	})
	if err != nil {
		e.log.Warn("Reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// callbackQueryHandler subscribes from the inline button under /start.
func (e *Engine) callbackQueryHandler(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	query := update.CallbackQuery
	if query == nil || query.Message.Message == nil {
		return
	}
	e.commands.Handle(ctx, models.Inbound{
		UpdateID:       update.ID,
		ChatID:         query.Message.Message.Chat.ID,
		SenderID:       query.From.ID,
		SenderUsername: query.From.Username,
		Text:           "/subscribe ref=" + e.commands.subs.Scope(),
	})

	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
	}); err != nil {
		e.log.Debug("Answer callback failed", zap.Error(err))
	}
}

func (e *Engine) userInputHandler(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	in, ok := inbound(update)
	if !ok {
		return
	}
	e.intake.Handle(ctx, in)
}

// inbound maps a message or channel post onto the transport-neutral event.
func inbound(update *tgmodels.Update) (models.Inbound, bool) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil || msg.Text == "" {
		return models.Inbound{}, false
	}
	in := models.Inbound{
		UpdateID:  update.ID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Text:      msg.Text,
	}
	switch {
	case msg.From != nil:
		in.SenderID = msg.From.ID
		in.SenderUsername = msg.From.Username
	case msg.SenderChat != nil:
		in.SenderID = msg.SenderChat.ID
		in.SenderUsername = msg.SenderChat.Username
	}
	return in, true
}
