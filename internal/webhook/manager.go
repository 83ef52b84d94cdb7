package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/suspectuso/ton-airdrop/internal/tonapi"
)

// API is the TonAPI webhook management surface
type API interface {
	ListWebhooks(ctx context.Context) ([]tonapi.Webhook, error)
	CreateWebhook(ctx context.Context, endpoint string) (*tonapi.Webhook, error)
	SubscribeAccounts(ctx context.Context, webhookID int64, accounts []string) error
	UnsubscribeAccounts(ctx context.Context, webhookID int64, accounts []string) error
}

// WalletSource returns the raw address deposits are watched on, or "" when unset
type WalletSource func() string

// Manager keeps the TonAPI webhook subscribed to the monitored wallet
type Manager struct {
	api      API
	wallet   WalletSource
	endpoint string
	log      *slog.Logger

	mu         sync.Mutex
	webhookID  int64
	subscribed map[string]bool
}

// NewManager creates a new webhook manager
func NewManager(api API, wallet WalletSource, endpoint string, log *slog.Logger) *Manager {
	return &Manager{
		api:        api,
		wallet:     wallet,
		endpoint:   endpoint,
		log:        log,
		subscribed: make(map[string]bool),
	}
}

// Init finds the webhook for our endpoint, creating it if necessary
func (m *Manager) Init(ctx context.Context) error {
	if m.endpoint == "" {
		m.log.Warn("webhook endpoint not set, relying on polling only")
		return nil
	}

	webhooks, err := m.api.ListWebhooks(ctx)
	if err != nil {
		return err
	}

	for _, wh := range webhooks {
		if wh.Endpoint == m.endpoint {
			m.mu.Lock()
			m.webhookID = wh.ID
			for _, acc := range wh.Accounts {
				m.subscribed[tonapi.NormalizeAddress(acc)] = true
			}
			m.mu.Unlock()
			m.log.Info("using existing webhook", "id", wh.ID, "accounts", len(wh.Accounts))
			return nil
		}
	}

	webhook, err := m.api.CreateWebhook(ctx, m.endpoint)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.webhookID = webhook.ID
	m.mu.Unlock()
	m.log.Info("created new webhook", "id", webhook.ID)

	return nil
}

// SyncLoop follows monitored_wallet changes made at runtime
func (m *Manager) SyncLoop(ctx context.Context, interval time.Duration) {
	if m.endpoint == "" {
		return
	}

	if err := m.Sync(ctx); err != nil {
		m.log.Error("sync subscriptions", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("webhook sync loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil {
				m.log.Error("sync subscriptions", "error", err)
			}
		}
	}
}

// Sync subscribes the current monitored wallet and drops any other account
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.webhookID == 0 {
		return nil
	}

	needed := make(map[string]bool)
	if w := m.wallet(); w != "" {
		needed[w] = true
	}

	var toAdd []string
	for addr := range needed {
		if !m.subscribed[addr] {
			toAdd = append(toAdd, addr)
		}
	}

	var toRemove []string
	for addr := range m.subscribed {
		if !needed[addr] {
			toRemove = append(toRemove, addr)
		}
	}

	if len(toAdd) > 0 {
		if err := m.api.SubscribeAccounts(ctx, m.webhookID, toAdd); err != nil {
			return err
		}
		for _, addr := range toAdd {
			m.subscribed[addr] = true
		}
		m.log.Info("subscribed accounts", "accounts", toAdd)
	}

	if len(toRemove) > 0 {
		if err := m.api.UnsubscribeAccounts(ctx, m.webhookID, toRemove); err != nil {
			return err
		}
		for _, addr := range toRemove {
			delete(m.subscribed, addr)
		}
		m.log.Info("unsubscribed accounts", "accounts", toRemove)
	}

	return nil
}

// WebhookID returns the current webhook ID
func (m *Manager) WebhookID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.webhookID
}
