package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suspectuso/ton-airdrop/internal/tonapi"
)

// Server receives TonAPI account-tx webhooks and serves health and metrics.
// A webhook for the monitored wallet only wakes the reconciler; the feed stays
// the source of truth for deposits.
type Server struct {
	wallet   WalletSource
	nudge    func()
	gatherer prometheus.Gatherer
	log      *slog.Logger

	server *http.Server
}

// NewServer creates a new webhook server
func NewServer(wallet WalletSource, nudge func(), gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	return &Server{
		wallet:   wallet,
		nudge:    nudge,
		gatherer: gatherer,
		log:      log,
	}
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/webhook/", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.handleHealth)
	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting webhook server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleWebhook always answers 200 for well-formed payloads so TonAPI does not redeliver
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload tonapi.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.log.Warn("invalid webhook payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if s.wakes(payload) {
		s.log.Debug("deposit webhook, nudging reconciler", "tx_hash", tonapi.ShortAddr(payload.TxHash, 6))
		s.nudge()
	}
	w.WriteHeader(http.StatusOK)
}

// wakes reports whether payload is a settled transaction on the monitored wallet
func (s *Server) wakes(p tonapi.WebhookPayload) bool {
	switch p.EventType {
	case "mempool_msg", "new_contract":
		return false
	}
	if p.AccountID == "" {
		return false
	}
	monitored := s.wallet()
	return monitored != "" && tonapi.NormalizeAddress(p.AccountID) == monitored
}
