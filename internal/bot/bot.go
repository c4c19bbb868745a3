// Package bot is the Telegram front end: one /start command and three
// inline buttons (create user, get key, renew key).
package bot

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	tele "gopkg.in/telebot.v3"

	"github.com/officialvpn/remnabot/internal/store"
)

// Subscriptions is the slice of the service layer the handlers need.
type Subscriptions interface {
	CreateSubscription(ctx context.Context, tgID int64, username, firstName, lastName string) (*store.User, *store.Subscription, string, error)
	Subscription(ctx context.Context, tgID int64) (*store.Subscription, string, error)
	Renew(ctx context.Context, tgID int64) (*store.Subscription, string, error)
}

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Bot struct {
	api *tele.Bot
	svc Subscriptions
	log *log.Logger
	ctx context.Context

	menu      *tele.ReplyMarkup
	btnCreate tele.Btn
	btnGet    tele.Btn
	btnRenew  tele.Btn
}

func New(cfg Config, svc Subscriptions, logger *log.Logger) (*Bot, error) {
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	}

	api, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	b := &Bot{api: api, svc: svc, log: logger, ctx: context.Background()}
	b.buildMenu()
	b.register()
	return b, nil
}

// Start begins long polling and blocks until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	b.ctx = ctx
	b.log.Info("bot online", "username", b.api.Me.Username)

	go func() {
		<-ctx.Done()
		b.api.Stop()
	}()
	b.api.Start()
}

func (b *Bot) buildMenu() {
	b.menu = &tele.ReplyMarkup{}
	b.btnCreate = b.menu.Data(btnCreateText, "create_user")
	b.btnGet = b.menu.Data(btnGetText, "get_key")
	b.btnRenew = b.menu.Data(btnRenewText, "renew_key")
	b.menu.Inline(
		b.menu.Row(b.btnCreate),
		b.menu.Row(b.btnGet),
		b.menu.Row(b.btnRenew),
	)
}

func (b *Bot) register() {
	b.api.Handle("/start", b.handleStart)
	b.api.Handle(&b.btnCreate, b.handleCreate)
	b.api.Handle(&b.btnGet, b.handleGet)
	b.api.Handle(&b.btnRenew, b.handleRenew)
}
