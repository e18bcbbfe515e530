package bot

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/subscription"
)

// Transport delivers a text reply to a chat.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

var refPattern = regexp.MustCompile(`ref=([A-Za-z0-9_]+)`)

// Commands answers follower chat commands.
type Commands struct {
	subs *subscription.Service
	out  Transport
	log  *zap.Logger
}

func NewCommands(subs *subscription.Service, out Transport, log *zap.Logger) *Commands {
	return &Commands{subs: subs, out: out, log: log}
}

// Names lists the commands Handle understands.
func Names() []string {
	return []string{"/subscribe", "/unsubscribe", "/risk", "/status", "/help", "/start"}
}

// Handle runs the command in in.Text. It returns false when the text is not
// a known command.
func (c *Commands) Handle(ctx context.Context, in models.Inbound) bool {
	name, args := splitCommand(in.Text)
	var reply string
	switch name {
	case "/subscribe":
		reply = c.subscribe(ctx, in, args)
	case "/unsubscribe":
		reply = c.unsubscribe(ctx, in)
	case "/risk":
		reply = c.risk(ctx, in, args)
	case "/status":
		reply = c.status(ctx, in)
	case "/help", "/start":
		reply = c.help()
	default:
		return false
	}
	if err := c.out.SendText(ctx, in.ChatID, reply); err != nil {
		c.log.Warn("Reply failed", zap.String("command", name), zap.Int64("chat_id", in.ChatID), zap.Error(err))
	}
	return true
}

// splitCommand returns "/name" without a trailing @botname and the rest.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	name, args, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func subscriberID(in models.Inbound) string {
	return strconv.FormatInt(in.SenderID, 10)
}

func (c *Commands) subscribe(ctx context.Context, in models.Inbound, args string) string {
	var ref string
	if m := refPattern.FindStringSubmatch(args); m != nil {
		ref = m[1]
	}
	err := c.subs.Subscribe(ctx, subscriberID(in), ref)
	switch {
	case errors.Is(err, subscription.ErrInvalidReferral):
		return "Invalid referral code. Please use: /subscribe ref=" + c.subs.Scope()
	case err != nil:
		c.log.Error("Subscribe failed", zap.Int64("sender_id", in.SenderID), zap.Error(err))
		return "❌ Error subscribing. Please try again."
	}
	return "✅ Successfully subscribed!\n\n" +
		"Your default risk multiplier is " + formatRisk(c.subs.DefaultRisk()) + "x\n" +
		"Use /risk <value> to adjust (0.1 to 2.0)\n\n" +
		"Example: /risk 1.0"
}

func (c *Commands) unsubscribe(ctx context.Context, in models.Inbound) string {
	existed, err := c.subs.Unsubscribe(ctx, subscriberID(in))
	if err != nil {
		c.log.Error("Unsubscribe failed", zap.Int64("sender_id", in.SenderID), zap.Error(err))
		return "❌ Error unsubscribing. Please try again."
	}
	if !existed {
		return "❌ You are not subscribed."
	}
	return "✅ Successfully unsubscribed. All your signals have been deleted."
}

func (c *Commands) risk(ctx context.Context, in models.Inbound, args string) string {
	value, _, _ := strings.Cut(args, " ")
	if value == "" {
		return "Please specify a risk value.\n\n" +
			"Usage: /risk <value>\n" +
			"Example: /risk 1.0\n\n" +
			"Valid range: 0.1 to 2.0"
	}

	r, err := strconv.ParseFloat(value, 64)
	if err == nil {
		err = c.subs.SetRisk(ctx, subscriberID(in), r)
	} else {
		err = models.ErrValidation
	}
	switch {
	case errors.Is(err, models.ErrValidation):
		return "❌ Invalid risk value.\n\n" +
			"Risk must be between 0.1 and 2.0\n" +
			"Examples:\n" +
			"• /risk 0.5 (conservative)\n" +
			"• /risk 1.0 (standard)\n" +
			"• /risk 2.0 (aggressive)"
	case errors.Is(err, models.ErrNotSubscribed):
		return "❌ Please subscribe first using: /subscribe ref=" + c.subs.Scope()
	case err != nil:
		c.log.Error("Risk update failed", zap.Int64("sender_id", in.SenderID), zap.Error(err))
		return "❌ Error updating risk. Please try again."
	}
	return "✅ Risk multiplier updated to " + formatRisk(r) + "x"
}

func (c *Commands) status(ctx context.Context, in models.Inbound) string {
	st, err := c.subs.Status(ctx, subscriberID(in))
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "❌ You are not subscribed.\n\n" +
			"To subscribe, use: /subscribe ref=" + c.subs.Scope()
	case err != nil:
		c.log.Error("Status failed", zap.Int64("sender_id", in.SenderID), zap.Error(err))
		return "❌ Error fetching status. Please try again."
	}
	return "📊 Your Status:\n\n" +
		"✅ Subscribed: Yes\n" +
		"🎯 Risk Multiplier: " + formatRisk(st.Risk) + "x\n" +
		"🔑 Referral: " + st.ReferralScope + "\n" +
		"📈 Active Signals: " + strconv.Itoa(st.Signals) + "\n" +
		"📅 Subscribed Since: " + st.SubscribedAt.Format("1/2/2006")
}

func (c *Commands) help() string {
	return "🤖 Trade Copier Bot Commands:\n\n" +
		"/subscribe ref=" + c.subs.Scope() + " - Subscribe to signals\n" +
		"/unsubscribe - Unsubscribe from signals\n" +
		"/risk <value> - Set risk multiplier (0.1-2.0)\n" +
		"/status - Check your subscription status\n" +
		"/help - Show this help message\n\n" +
		"For support, contact the admin."
}

func formatRisk(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}
