// Package service orchestrates the local store and the Remnawave panel:
// every bot action goes through here.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/officialvpn/remnabot/internal/remnawave"
	"github.com/officialvpn/remnabot/internal/store"
)

// ErrNoSubscription is returned when the caller has no active subscription
// to serve or renew.
var ErrNoSubscription = errors.New("no active subscription")

// Panel is the slice of the Remnawave client the service needs.
type Panel interface {
	CreateUser(ctx context.Context, telegramID int64, username string, expireAt time.Time) (*remnawave.User, error)
	UpdateUser(ctx context.Context, uuid string, expireAt time.Time) (*remnawave.User, error)
	UserByTelegramID(ctx context.Context, telegramID int64) (*remnawave.User, error)
	SubscriptionLink(ctx context.Context, u *remnawave.User) (string, error)
}

type Service struct {
	db    *store.DB
	panel Panel
	days  int
	log   *log.Logger
}

func New(db *store.DB, panel Panel, subscriptionDays int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{db: db, panel: panel, days: subscriptionDays, log: logger}
}

// GetOrCreateUser returns the local user row for a Telegram account,
// inserting it on first contact.
func (s *Service) GetOrCreateUser(tgID int64, username, firstName, lastName string) (*store.User, error) {
	user, err := s.db.UserByTelegramID(tgID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &store.User{
		TelegramID: tgID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
	}
	if err := s.db.InsertUser(user); err != nil {
		return nil, err
	}
	s.log.Info("created local user", "tg_user_id", tgID)
	return user, nil
}

// CreateSubscription makes sure a Telegram account has a subscription and
// returns it together with its link.
//
// The panel is the source of truth: an account already known there is
// adopted (and mirrored locally when no local row exists); otherwise a new
// panel account is registered first.
func (s *Service) CreateSubscription(ctx context.Context, tgID int64, username, firstName, lastName string) (*store.User, *store.Subscription, string, error) {
	user, err := s.GetOrCreateUser(tgID, username, firstName, lastName)
	if err != nil {
		return nil, nil, "", err
	}

	existing, err := s.db.SubscriptionByUserID(user.ID)
	if err != nil {
		return nil, nil, "", err
	}

	panelUser, err := s.panel.UserByTelegramID(ctx, tgID)
	if err != nil {
		// Lookup failures fall through to registration, same as the
		// panel not knowing the account.
		s.log.Warn("panel lookup failed", "tg_user_id", tgID, "err", err)
		panelUser = nil
	}

	if panelUser != nil {
		link, err := s.panel.SubscriptionLink(ctx, panelUser)
		if err != nil {
			return nil, nil, "", err
		}

		if existing != nil {
			s.log.Info("reusing existing subscription", "tg_user_id", tgID)
			return user, existing, link, nil
		}

		sub, err := s.mirrorSubscription(user, panelUser, link)
		if err != nil {
			return nil, nil, "", err
		}
		s.log.Info("mirrored panel subscription", "tg_user_id", tgID)
		return user, sub, link, nil
	}

	panelUsername := username
	if panelUsername == "" {
		panelUsername = fmt.Sprintf("tg_%d", tgID)
	}

	panelUser, err = s.panel.CreateUser(ctx, tgID, panelUsername, time.Now().UTC().AddDate(0, 0, s.days))
	if err != nil {
		return nil, nil, "", fmt.Errorf("register panel account: %w", err)
	}

	link, err := s.panel.SubscriptionLink(ctx, panelUser)
	if err != nil {
		return nil, nil, "", err
	}

	sub, err := s.mirrorSubscription(user, panelUser, link)
	if err != nil {
		return nil, nil, "", err
	}
	s.log.Info("created subscription", "tg_user_id", tgID, "expires_at", sub.ExpiresAt)
	return user, sub, link, nil
}

// Subscription returns the caller's subscription and link, refreshing the
// stored link and panel uuid when the panel's view drifted from ours.
// ErrNoSubscription when the caller has none.
func (s *Service) Subscription(ctx context.Context, tgID int64) (*store.Subscription, string, error) {
	sub, err := s.localSubscription(tgID)
	if err != nil {
		return nil, "", err
	}

	panelUser, err := s.panel.UserByTelegramID(ctx, tgID)
	if err != nil {
		s.log.Warn("panel lookup failed, serving stored key", "tg_user_id", tgID, "err", err)
		return sub, sub.Key, nil
	}
	if panelUser == nil || panelUser.ShortUUID == "" {
		return sub, sub.Key, nil
	}

	link, err := s.panel.SubscriptionLink(ctx, panelUser)
	if err != nil {
		return sub, sub.Key, nil
	}

	if sub.Key != link || sub.VPNID != panelUser.UUID {
		if err := s.db.UpdateSubscriptionKey(sub.ID, link, panelUser.UUID); err != nil {
			return nil, "", err
		}
		sub.Key = link
		sub.VPNID = panelUser.UUID
		s.log.Info("refreshed subscription key", "tg_user_id", tgID)
	}

	return sub, link, nil
}

// Renew extends the caller's subscription by the configured period, counted
// from the current expiry when it is still in the future, from now when it
// already lapsed. The panel is updated first, then the local row.
func (s *Service) Renew(ctx context.Context, tgID int64) (*store.Subscription, string, error) {
	sub, err := s.localSubscription(tgID)
	if err != nil {
		return nil, "", err
	}

	panelUser, err := s.panel.UserByTelegramID(ctx, tgID)
	if err != nil {
		return nil, "", err
	}
	if panelUser == nil {
		return nil, "", ErrNoSubscription
	}

	from := time.Now().UTC()
	if cur := panelUser.ExpireTime(); cur.After(from) {
		from = cur
	}
	expiresAt := from.AddDate(0, 0, s.days)

	updated, err := s.panel.UpdateUser(ctx, panelUser.UUID, expiresAt)
	if err != nil {
		return nil, "", fmt.Errorf("renew panel account: %w", err)
	}

	link, err := s.panel.SubscriptionLink(ctx, updated)
	if err != nil {
		link = sub.Key
	}

	if err := s.db.UpdateSubscriptionExpiry(sub.ID, expiresAt); err != nil {
		return nil, "", err
	}
	sub.ExpiresAt = expiresAt

	s.log.Info("renewed subscription", "tg_user_id", tgID, "expires_at", expiresAt)
	return sub, link, nil
}

// localSubscription resolves a Telegram account to its local subscription
// row, or ErrNoSubscription.
func (s *Service) localSubscription(tgID int64) (*store.Subscription, error) {
	user, err := s.db.UserByTelegramID(tgID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoSubscription
	}

	sub, err := s.db.SubscriptionByUserID(user.ID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoSubscription
	}
	return sub, nil
}

// mirrorSubscription inserts the local row for a panel account. The panel
// reply must carry both identifiers, and uuid must actually be a UUID.
func (s *Service) mirrorSubscription(user *store.User, panelUser *remnawave.User, link string) (*store.Subscription, error) {
	if panelUser.ShortUUID == "" {
		return nil, errors.New("panel reply has no shortUuid")
	}
	if panelUser.UUID == "" {
		return nil, errors.New("panel reply has no uuid")
	}
	if _, err := uuid.Parse(panelUser.UUID); err != nil {
		return nil, fmt.Errorf("panel uuid %q: %w", panelUser.UUID, err)
	}

	expiresAt := panelUser.ExpireTime()
	if expiresAt.IsZero() {
		s.log.Warn("panel reply has no usable expireAt, using default period", "tg_user_id", user.TelegramID)
		expiresAt = time.Now().UTC().AddDate(0, 0, s.days)
	}

	sub := &store.Subscription{
		UserID:       user.ID,
		Key:          link,
		VPNID:        panelUser.UUID,
		ExpiresAt:    expiresAt,
		TrafficLimit: panelUser.TrafficLimitBytes,
	}
	if err := s.db.InsertSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}
