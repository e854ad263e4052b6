// Package notify delivers watcher messages to Telegram chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/policy/ratelimit"
)

// ErrNotify reports a failed delivery to at least one recipient.
var ErrNotify = errors.New("notify failed")

// Config carries the bot credentials and delivery settings.
type Config struct {
	Token   string
	ChatIDs []string
	// APIURL overrides the Bot API base URL. Empty means api.telegram.org.
	APIURL  string
	Timeout time.Duration
	// RatePerChat caps messages per second to a single chat. Zero disables it.
	RatePerChat float64
}

// Telegram sends HTML messages through the Bot API. Without credentials it
// is a no-op that logs a warning on every call.
type Telegram struct {
	bot        *tele.Bot
	recipients []tele.Recipient
	limiter    *ratelimit.Limiter
	logger     *zap.Logger
}

// chatRecipient accepts numeric chat ids as well as @channel usernames.
type chatRecipient string

func (c chatRecipient) Recipient() string { return string(c) }

// NewTelegram builds the notifier. The bot is created offline so startup
// does not depend on Telegram being reachable.
func NewTelegram(cfg Config, logger *zap.Logger) (*Telegram, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telegram{
		limiter: ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RatePerChat, DefaultBurst: 1}),
		logger:  logger,
	}
	for _, id := range cfg.ChatIDs {
		if id = strings.TrimSpace(id); id != "" {
			t.recipients = append(t.recipients, chatRecipient(id))
		}
	}
	if strings.TrimSpace(cfg.Token) == "" || len(t.recipients) == 0 {
		logger.Warn("telegram token or chat ids missing; notifications disabled")
		return t, nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	return t, nil
}

// Enabled reports whether credentials were supplied.
func (t *Telegram) Enabled() bool {
	return t.bot != nil
}

// Notify delivers message and never fails: errors are logged and dropped so
// a broken messaging endpoint cannot stall the watch loop.
func (t *Telegram) Notify(ctx context.Context, message string) {
	if err := t.Send(ctx, message); err != nil {
		t.logger.Error("telegram delivery failed", zap.Error(err))
	}
}

// Send delivers message to every recipient and reports failures.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.Enabled() {
		t.logger.Warn("telegram credentials missing; message not sent")
		metrics.ObserveNotification("skipped")
		return nil
	}
	t.logger.Debug("sending telegram message", zap.Int("recipients", len(t.recipients)))

	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	}
	var errs []error
	for _, to := range t.recipients {
		if err := t.limiter.Wait(ctx, to.Recipient()); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := t.bot.Send(to, message, opts); err != nil {
			metrics.ObserveNotification("failed")
			errs = append(errs, fmt.Errorf("chat %s: %w", to.Recipient(), err))
			continue
		}
		metrics.ObserveNotification("sent")
		t.logger.Info("telegram message sent", zap.String("chat_id", to.Recipient()))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrNotify, errors.Join(errs...))
	}
	return nil
}
