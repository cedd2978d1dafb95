package apikey

import (
	"context"
	"time"

	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/store"
)

// KeyEventFunc receives lifecycle notifications: renewed, expiring_soon,
// expired. The default just logs.
type KeyEventFunc func(ctx context.Context, event string, key *APIKey)

// Scanner is the periodic maintenance task: auto-renews opted-in keys and
// emits expiry notifications, deduplicated per key and event for 24h.
type Scanner struct {
	service  *Service
	store    store.Store
	onEvent  KeyEventFunc
	interval time.Duration
}

// NewScanner wires the scanner. interval <= 0 defaults to 1h.
func NewScanner(service *Service, st store.Store, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scanner{
		service:  service,
		store:    st,
		interval: interval,
		onEvent: func(ctx context.Context, event string, key *APIKey) {
			logger.Info("api key notification", "event", event, "key_id", key.ID, "owner_id", key.OwnerID)
		},
	}
}

// OnEvent replaces the notification hook.
func (s *Scanner) OnEvent(fn KeyEventFunc) {
	if fn != nil {
		s.onEvent = fn
	}
}

// Run scans on the interval until ctx is cancelled. It blocks.
func (s *Scanner) Run(ctx context.Context) {
	logger.Info("api key scanner started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass.
func (s *Scanner) Sweep(ctx context.Context) {
	now := time.Now()

	expiringSoon, err := s.service.repo.ListExpiringBefore(ctx, now.AddDate(0, 0, 7))
	if err != nil {
		logger.Warn("key expiry scan failed", "error", err.Error())
		return
	}

	for _, key := range expiringSoon {
		if now.After(key.ExpiresAt) {
			// Already past expiry. Validate flips the status lazily, the
			// scanner only notifies.
			s.notifyOnce(ctx, "expired", key)
			continue
		}
		if key.AutoRenew {
			if err := s.service.Renew(ctx, key.ID, key.OwnerID, "", 0); err != nil {
				logger.Warn("auto renew failed", "key_id", key.ID, "error", err.Error())
				continue
			}
			s.notifyOnce(ctx, "renewed", key)
			continue
		}
		s.notifyOnce(ctx, "expiring_soon", key)
	}
}

// notifyOnce suppresses duplicate notifications for 24h per key and event.
func (s *Scanner) notifyOnce(ctx context.Context, event string, key *APIKey) {
	dedupKey := "apikey:notified:" + key.ID + ":" + event
	fresh, err := s.store.SetNX(ctx, dedupKey, "1", 24*time.Hour)
	if err != nil {
		logger.Debug("notification dedup check failed", "key_id", key.ID, "error", err.Error())
		return
	}
	if !fresh {
		return
	}
	s.onEvent(ctx, event, key)
}
