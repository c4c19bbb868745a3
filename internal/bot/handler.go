package bot

import (
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"github.com/officialvpn/remnabot/internal/service"
)

const (
	btnCreateText = "Create user"
	btnGetText    = "Get key"
	btnRenewText  = "Renew key"

	msgWelcome = "Hi! I am the VPN subscription bot. Choose an action:"
	msgError   = "Something went wrong. Please try again later."

	msgNoSubscription = "❌ You have no active subscription ❌\n\n" +
		"Press 'Create user' to start a new one."
)

const expiryLayout = "2006-01-02 15:04:05 UTC"

func (b *Bot) handleStart(c tele.Context) error {
	b.log.Info("user started the bot", "tg_user_id", c.Sender().ID)
	return c.Send(msgWelcome, b.menu)
}

func (b *Bot) handleCreate(c tele.Context) error {
	sender := c.Sender()
	b.log.Info("create user requested", "tg_user_id", sender.ID)
	c.Respond()

	_, sub, link, err := b.svc.CreateSubscription(b.ctx, sender.ID, sender.Username, sender.FirstName, sender.LastName)
	if err != nil {
		b.log.Error("create subscription failed", "tg_user_id", sender.ID, "err", err)
		return c.Send(msgError)
	}

	text := fmt.Sprintf("✅ User created!\n\nLink: `%s`\n\nExpires: %s",
		link, sub.ExpiresAt.UTC().Format(expiryLayout))
	b.log.Info("subscription key sent", "tg_user_id", sender.ID)
	return c.Send(text, tele.ModeMarkdown)
}

func (b *Bot) handleGet(c tele.Context) error {
	sender := c.Sender()
	b.log.Info("get key requested", "tg_user_id", sender.ID)
	c.Respond()

	sub, link, err := b.svc.Subscription(b.ctx, sender.ID)
	if errors.Is(err, service.ErrNoSubscription) {
		b.log.Info("user has no subscription", "tg_user_id", sender.ID)
		return c.Send(msgNoSubscription)
	}
	if err != nil {
		b.log.Error("get subscription failed", "tg_user_id", sender.ID, "err", err)
		return c.Send(msgError)
	}

	text := fmt.Sprintf("🔑 Your subscription key\n\nLink: `%s`\n\nExpires: %s",
		link, sub.ExpiresAt.UTC().Format(expiryLayout))
	b.log.Info("subscription key sent", "tg_user_id", sender.ID)
	return c.Send(text, tele.ModeMarkdown)
}

func (b *Bot) handleRenew(c tele.Context) error {
	sender := c.Sender()
	b.log.Info("renew key requested", "tg_user_id", sender.ID)
	c.Respond()

	sub, link, err := b.svc.Renew(b.ctx, sender.ID)
	if errors.Is(err, service.ErrNoSubscription) {
		b.log.Info("user has no subscription to renew", "tg_user_id", sender.ID)
		return c.Send(msgNoSubscription)
	}
	if err != nil {
		b.log.Error("renew subscription failed", "tg_user_id", sender.ID, "err", err)
		return c.Send(msgError)
	}

	text := fmt.Sprintf("✅ Subscription renewed! New expiry: %s\n\nLink: `%s`",
		sub.ExpiresAt.UTC().Format(expiryLayout), link)
	b.log.Info("subscription renewed", "tg_user_id", sender.ID)
	return c.Send(text, tele.ModeMarkdown)
}
