package apiserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/megayours/megaforwarder/pkg/eventbus"
)

// heliusTransaction is the slice of Helius's enhanced-webhook transaction
// shape this handler reads: the token balance deltas it carries.
type heliusTransaction struct {
	Signature      string               `json:"signature"`
	TokenTransfers []heliusTokenTransfer `json:"tokenTransfers"`
}

type heliusTokenTransfer struct {
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
}

// handleHeliusWebhook authenticates via shared secret, filters against the
// configured tracked-mint allow-list, dedups each (mint, userAccount) pair
// on a short TTL, then publishes onto the internal event bus rather than
// dispatching a Task inline.
func (s *Server) handleHeliusWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
		return
	}

	if !s.authenticatesWebhook(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body", nil)
		return
	}
	var transactions []heliusTransaction
	if err := json.Unmarshal(body, &transactions); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to decode webhook payload", nil)
		return
	}

	allowed := make(map[string]bool, len(s.cfg.Webhook.TrackedMints))
	for _, mint := range s.cfg.Webhook.TrackedMints {
		allowed[mint] = true
	}

	ctx := r.Context()
	now := time.Now()
	for _, tx := range transactions {
		for _, transfer := range tx.TokenTransfers {
			if !allowed[transfer.Mint] {
				continue
			}
			for _, account := range []string{transfer.FromUserAccount, transfer.ToUserAccount} {
				if account == "" {
					continue
				}
				if err := s.dispatchBalanceDelta(ctx, transfer, account, now); err != nil {
					if s.logger != nil {
						s.logger.Error("helius webhook dispatch failed",
							zap.String("mint", transfer.Mint), zap.String("account", account), zap.Error(err))
					}
					writeError(w, http.StatusInternalServerError, "internal_error", "failed to dispatch balance delta", nil)
					return
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "OK"})
}

func (s *Server) authenticatesWebhook(r *http.Request) bool {
	expected := s.cfg.Webhook.SharedSecret
	if expected == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

func (s *Server) dedupeKey(mint, account string) string {
	return "helius:dedupe:" + mint + ":" + account
}

// dispatchBalanceDelta dedups the (mint, account) pair in the short-TTL
// cache, to absorb bursts from a single on-chain event, and if fresh
// publishes the delta onto the event bus — the bus itself decides whether
// that publish lands synchronously on the coordinator or onto Kafka for a
// dedicated consumer to drain.
func (s *Server) dispatchBalanceDelta(ctx context.Context, transfer heliusTokenTransfer, account string, now time.Time) error {
	key := s.dedupeKey(transfer.Mint, account)
	_, found, err := s.cache.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("apiserver: dedup lookup: %w", err)
	}
	if found {
		return nil
	}
	if err := s.cache.Set(ctx, key, []byte{1}, s.cfg.WebhookDedupTTL); err != nil {
		return fmt.Errorf("apiserver: dedup mark: %w", err)
	}

	payload, err := json.Marshal(transfer)
	if err != nil {
		return fmt.Errorf("apiserver: marshal balance delta: %w", err)
	}
	event := eventbus.NewEvent(transfer.Mint, account, payload, now)
	if err := s.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("apiserver: publish: %w", err)
	}
	return nil
}
