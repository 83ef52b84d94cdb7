package tonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tonkeeper/tongo/ton"
)

// APIError is a non-2xx TonAPI response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tonapi error %d: %s", e.StatusCode, e.Body)
}

// Client talks to the TonAPI REST endpoints the bot needs
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	// one request per interval, shared by the loop and the webhook manager
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

// NewClient creates a new TonAPI client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		interval: 250 * time.Millisecond, // ~4 RPS on the free tier
	}
}

// wait blocks until the client may send its next request
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d := time.Until(c.next); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.next = time.Now().Add(c.interval)
	return nil
}

// call sends a JSON request and decodes the response into out when out is non-nil
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// GetEvents returns the newest events where address is a subject
func (c *Client) GetEvents(ctx context.Context, address string, limit int) ([]Event, error) {
	q := url.Values{
		"limit":        {strconv.Itoa(limit)},
		"subject_only": {"true"},
	}

	var resp EventsResponse
	if err := c.call(ctx, http.MethodGet, "/accounts/"+url.PathEscape(address)+"/events?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// --- Webhooks ---

func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var resp WebhookListResponse
	if err := c.call(ctx, http.MethodGet, "/webhooks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Webhooks, nil
}

func (c *Client) CreateWebhook(ctx context.Context, endpoint string) (*Webhook, error) {
	var wh Webhook
	if err := c.call(ctx, http.MethodPost, "/webhooks", map[string]string{"endpoint": endpoint}, &wh); err != nil {
		return nil, err
	}
	return &wh, nil
}

// SubscribeAccounts adds account-tx subscriptions to a webhook
func (c *Client) SubscribeAccounts(ctx context.Context, webhookID int64, accounts []string) error {
	path := fmt.Sprintf("/webhooks/%d/account-tx/subscribe", webhookID)
	return c.call(ctx, http.MethodPost, path, map[string][]string{"accounts": accounts}, nil)
}

// UnsubscribeAccounts removes account-tx subscriptions from a webhook
func (c *Client) UnsubscribeAccounts(ctx context.Context, webhookID int64, accounts []string) error {
	path := fmt.Sprintf("/webhooks/%d/account-tx/unsubscribe", webhookID)
	return c.call(ctx, http.MethodPost, path, map[string][]string{"accounts": accounts}, nil)
}

// --- Address Utilities ---

// NanoToTON converts nanoTON to TON
func NanoToTON(nano int64) decimal.Decimal {
	return decimal.New(nano, -9)
}

// RawToFriendly converts raw address (0:...) to friendly format (UQ.../EQ...)
func RawToFriendly(raw string) string {
	if raw == "" {
		return ""
	}

	acc, err := ton.ParseAccountID(raw)
	if err != nil {
		return raw
	}

	// non-bounceable, the form wallets display for user accounts
	return acc.ToHuman(false, false)
}

// NormalizeAddress converts any address format to raw (0:...).
// Unparseable input is returned unchanged.
func NormalizeAddress(addr string) string {
	if addr == "" {
		return ""
	}

	acc, err := ton.ParseAccountID(addr)
	if err != nil {
		return addr
	}

	return acc.ToRaw()
}

// ParseAddress converts any address format to raw, failing on invalid input
func ParseAddress(addr string) (string, error) {
	acc, err := ton.ParseAccountID(strings.TrimSpace(addr))
	if err != nil {
		return "", err
	}
	return acc.ToRaw(), nil
}

// ShortAddr returns a shortened address for display
func ShortAddr(addr string, n int) string {
	if addr == "" {
		return "unknown"
	}
	if len(addr) < n*2+3 {
		return addr
	}
	return addr[:n] + "..." + addr[len(addr)-n:]
}
