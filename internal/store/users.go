package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UserByTelegramID returns the user row for a Telegram account, or nil when
// the account is unknown.
func (d *DB) UserByTelegramID(tgID int64) (*User, error) {
	u := new(User)
	err := d.QueryRow(`
		SELECT id, tg_user_id, username, first_name, last_name, referral_link, created
		FROM users WHERE tg_user_id = ?`, tgID).
		Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.ReferralLink, &u.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user %d: %w", tgID, err)
	}
	return u, nil
}

// InsertUser stores a new user and fills in its row ID and creation time.
func (d *DB) InsertUser(u *User) error {
	if u.Created.IsZero() {
		u.Created = time.Now().UTC()
	}
	res, err := d.Exec(`
		INSERT INTO users (tg_user_id, username, first_name, last_name, referral_link, created)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.TelegramID, u.Username, u.FirstName, u.LastName, u.ReferralLink, u.Created)
	if err != nil {
		return fmt.Errorf("insert user %d: %w", u.TelegramID, err)
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	return nil
}
