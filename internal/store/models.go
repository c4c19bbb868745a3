package store

import "time"

// User is a Telegram account known to the bot.
type User struct {
	ID           int64
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	ReferralLink string
	Created      time.Time
}

// Subscription is the local mirror of a panel subscription. VPNID is the
// panel's uuid for the account, Key the subscription link handed to the user.
type Subscription struct {
	ID           int64
	UserID       int64
	Key          string
	VPNID        string
	ExpiresAt    time.Time
	TrafficLimit int64
	TrafficUsed  int64
	Created      time.Time
}
