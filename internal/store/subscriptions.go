package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SubscriptionByUserID returns the subscription for a local user ID, or nil
// when the user has none. When several rows exist the oldest wins, matching
// how the bot always served the first subscription.
func (d *DB) SubscriptionByUserID(userID int64) (*Subscription, error) {
	s := new(Subscription)
	err := d.QueryRow(`
		SELECT id, user_id, vpn_key, vpn_id, expires_at, traffic_limit, traffic_used, created
		FROM subscriptions WHERE user_id = ? ORDER BY id LIMIT 1`, userID).
		Scan(&s.ID, &s.UserID, &s.Key, &s.VPNID, &s.ExpiresAt, &s.TrafficLimit, &s.TrafficUsed, &s.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription for user %d: %w", userID, err)
	}
	return s, nil
}

// InsertSubscription stores a new subscription row.
func (d *DB) InsertSubscription(s *Subscription) error {
	if s.Created.IsZero() {
		s.Created = time.Now().UTC()
	}
	res, err := d.Exec(`
		INSERT INTO subscriptions (user_id, vpn_key, vpn_id, expires_at, traffic_limit, traffic_used, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.UserID, s.Key, s.VPNID, s.ExpiresAt, s.TrafficLimit, s.TrafficUsed, s.Created)
	if err != nil {
		return fmt.Errorf("insert subscription for user %d: %w", s.UserID, err)
	}
	s.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	return nil
}

// UpdateSubscriptionKey rewrites the stored link and panel uuid after they
// drifted from the panel's view.
func (d *DB) UpdateSubscriptionKey(id int64, key, vpnID string) error {
	return d.updateSubscription(id,
		`UPDATE subscriptions SET vpn_key = ?, vpn_id = ? WHERE id = ?`, key, vpnID, id)
}

// UpdateSubscriptionExpiry moves the expiry date after a renewal.
func (d *DB) UpdateSubscriptionExpiry(id int64, expiresAt time.Time) error {
	return d.updateSubscription(id,
		`UPDATE subscriptions SET expires_at = ? WHERE id = ?`, expiresAt, id)
}

func (d *DB) updateSubscription(id int64, query string, args ...any) error {
	res, err := d.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update subscription %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update subscription %d: %w", id, sql.ErrNoRows)
	}
	return nil
}
