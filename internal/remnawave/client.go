// Package remnawave is a thin client for the Remnawave panel API, the
// backend that actually provisions VPN accounts.
package remnawave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	usersPath             = "/users"
	usersByTelegramIDPath = "/users/by-telegram-id"
	usersByUsernamePath   = "/users/by-username"

	statusActive       = "ACTIVE"
	strategyNoReset    = "NO_RESET"
	defaultTrafficByte = 0
)

type Client struct {
	BaseURL             string
	SubscriptionBaseURL string
	Token               string
	HTTP                *http.Client
}

func NewClient(baseURL, subscriptionBaseURL, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:             baseURL,
		SubscriptionBaseURL: subscriptionBaseURL,
		Token:               token,
		HTTP:                &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx panel reply, carrying the status and raw body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("panel API error %d: %s", e.Status, e.Body)
}

// User is a panel account. The panel keys subscriptions by UUID and exposes
// a ShortUUID used to form the public subscription link.
type User struct {
	UUID                 string `json:"uuid"`
	ShortUUID            string `json:"shortUuid"`
	Username             string `json:"username"`
	TelegramID           int64  `json:"telegramId"`
	ExpireAt             string `json:"expireAt"`
	TrafficLimitBytes    int64  `json:"trafficLimitBytes"`
	TrafficLimitStrategy string `json:"trafficLimitStrategy"`
	Status               string `json:"status"`
}

// ExpireTime parses the panel's expireAt timestamp. Returns the zero time
// when the field is absent or malformed; callers fall back to their own
// default expiry in that case.
func (u *User) ExpireTime() time.Time {
	if u.ExpireAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, u.ExpireAt)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

type createUserRequest struct {
	Username             string `json:"username"`
	TelegramID           int64  `json:"telegramId"`
	ExpireAt             string `json:"expireAt"`
	TrafficLimitBytes    int64  `json:"trafficLimitBytes"`
	TrafficLimitStrategy string `json:"trafficLimitStrategy"`
	Status               string `json:"status"`
}

type updateUserRequest struct {
	UUID     string `json:"uuid"`
	ExpireAt string `json:"expireAt"`
}

// CreateUser registers a new panel account for a Telegram user.
func (c *Client) CreateUser(ctx context.Context, telegramID int64, username string, expireAt time.Time) (*User, error) {
	body := createUserRequest{
		Username:             username,
		TelegramID:           telegramID,
		ExpireAt:             expireAt.UTC().Format(time.RFC3339),
		TrafficLimitBytes:    defaultTrafficByte,
		TrafficLimitStrategy: strategyNoReset,
		Status:               statusActive,
	}
	return c.doUser(ctx, http.MethodPost, c.BaseURL+usersPath, body)
}

// UpdateUser moves a panel account's expiry, used for renewals.
func (c *Client) UpdateUser(ctx context.Context, uuid string, expireAt time.Time) (*User, error) {
	body := updateUserRequest{
		UUID:     uuid,
		ExpireAt: expireAt.UTC().Format(time.RFC3339),
	}
	return c.doUser(ctx, http.MethodPatch, c.BaseURL+usersPath, body)
}

// UserByTelegramID looks up a panel account. A 404 reply is not an error:
// it returns (nil, nil).
func (c *Client) UserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	u, err := c.getUser(ctx, fmt.Sprintf("%s%s/%d", c.BaseURL, usersByTelegramIDPath, telegramID))
	if err != nil {
		return nil, fmt.Errorf("user by telegram id %d: %w", telegramID, err)
	}
	return u, nil
}

// UserByUsername looks up a panel account by its panel username.
func (c *Client) UserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := c.getUser(ctx, fmt.Sprintf("%s%s/%s", c.BaseURL, usersByUsernamePath, url.PathEscape(username)))
	if err != nil {
		return nil, fmt.Errorf("user by username %q: %w", username, err)
	}
	return u, nil
}

// SubscriptionLink derives the public subscription URL for a panel account.
// When the account record lacks a shortUuid, the full record is re-fetched
// by username once.
func (c *Client) SubscriptionLink(ctx context.Context, u *User) (string, error) {
	if u.ShortUUID != "" {
		return c.SubscriptionBaseURL + "/" + u.ShortUUID, nil
	}

	if u.Username != "" {
		full, err := c.UserByUsername(ctx, u.Username)
		if err != nil {
			return "", err
		}
		if full != nil && full.ShortUUID != "" {
			return c.SubscriptionBaseURL + "/" + full.ShortUUID, nil
		}
	}

	return "", fmt.Errorf("panel account %q has no shortUuid", u.Username)
}

func (c *Client) doUser(ctx context.Context, method, url string, body any) (*User, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("panel connection failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	u, err := decodeUser(data)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("panel returned an empty reply")
	}
	return u, nil
}

func (c *Client) getUser(ctx context.Context, url string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("panel connection failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	return decodeUser(data)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")
}

type envelope struct {
	Response json.RawMessage `json:"response"`
}

// decodeUser unwraps the panel's {"response": ...} envelope and tolerates
// list-shaped replies, taking the first element. An empty list decodes to
// (nil, nil).
func decodeUser(data []byte) (*User, error) {
	raw := bytes.TrimSpace(data)

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Response) > 0 {
		raw = bytes.TrimSpace(env.Response)
	}

	if len(raw) > 0 && raw[0] == '[' {
		var list []User
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode panel user list: %w", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}

	u := new(User)
	if err := json.Unmarshal(raw, u); err != nil {
		return nil, fmt.Errorf("decode panel user: %w", err)
	}
	return u, nil
}
