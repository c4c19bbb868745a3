package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUsers(t *testing.T) {
	db := openTestDB(t)

	u, err := db.UserByTelegramID(42)
	if err != nil {
		t.Fatal(err)
	}
	if u != nil {
		t.Fatalf("expected no user, got %+v", u)
	}

	user := &User{TelegramID: 42, Username: "alice", FirstName: "Alice"}
	if err := db.InsertUser(user); err != nil {
		t.Fatal(err)
	}
	if user.ID == 0 {
		t.Fatal("ID not filled in after insert")
	}

	got, err := db.UserByTelegramID(42)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Username != "alice" || got.TelegramID != 42 {
		t.Fatalf("got %+v", got)
	}
	if got.Created.IsZero() {
		t.Fatal("created not stored")
	}

	// UNIQUE on tg_user_id
	if err := db.InsertUser(&User{TelegramID: 42}); err == nil {
		t.Fatal("expected unique constraint error")
	}
}

func TestSubscriptions(t *testing.T) {
	db := openTestDB(t)

	user := &User{TelegramID: 7}
	if err := db.InsertUser(user); err != nil {
		t.Fatal(err)
	}

	s, err := db.SubscriptionByUserID(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Fatalf("expected no subscription, got %+v", s)
	}

	expires := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	sub := &Subscription{
		UserID:    user.ID,
		Key:       "https://sub.example.org/sub/abc123",
		VPNID:     "7b0af3a4-7d6d-43a4-9f3f-7a2f1e8f8a11",
		ExpiresAt: expires,
	}
	if err := db.InsertSubscription(sub); err != nil {
		t.Fatal(err)
	}

	got, err := db.SubscriptionByUserID(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Key != sub.Key || got.VPNID != sub.VPNID {
		t.Fatalf("got %+v", got)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Fatalf("expires_at = %v, want %v", got.ExpiresAt, expires)
	}

	t.Run("UpdateKey", func(t *testing.T) {
		if err := db.UpdateSubscriptionKey(got.ID, "https://sub.example.org/sub/new", "11111111-2222-3333-4444-555555555555"); err != nil {
			t.Fatal(err)
		}
		got, err := db.SubscriptionByUserID(user.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Key != "https://sub.example.org/sub/new" {
			t.Fatalf("key = %q", got.Key)
		}
	})

	t.Run("UpdateExpiry", func(t *testing.T) {
		renewed := expires.AddDate(0, 0, 7)
		if err := db.UpdateSubscriptionExpiry(got.ID, renewed); err != nil {
			t.Fatal(err)
		}
		got, err := db.SubscriptionByUserID(user.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !got.ExpiresAt.Equal(renewed) {
			t.Fatalf("expires_at = %v, want %v", got.ExpiresAt, renewed)
		}
	})

	t.Run("UpdateMissingRow", func(t *testing.T) {
		if err := db.UpdateSubscriptionExpiry(9999, expires); err == nil {
			t.Fatal("expected error for missing row")
		}
	})
}
