// Package manage is the in-process management surface over the running
// gateway: pool inspection and tuning, gateway enable/disable, and ledger
// queries and maintenance. It is consumed by the hosting application
// directly and is not a network endpoint.
package manage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jqwei/codex-relay/internal/account"
	"github.com/jqwei/codex-relay/internal/ledger"
	"github.com/jqwei/codex-relay/internal/store"
)

// Service bundles the gateway's mutable state behind management operations.
type Service struct {
	pool    *account.Pool
	ledger  *ledger.Ledger
	store   store.Store
	enabled *atomic.Bool
}

func NewService(pool *account.Pool, led *ledger.Ledger, st store.Store, enabled *atomic.Bool) *Service {
	return &Service{pool: pool, ledger: led, store: st, enabled: enabled}
}

// Accounts returns a snapshot of every pooled account.
func (s *Service) Accounts() []account.Account {
	return s.pool.Accounts()
}

// PoolStatus returns the aggregate pool view at now.
func (s *Service) PoolStatus(now time.Time) account.PoolStatus {
	return s.pool.Status(now)
}

// RebuildPool reloads the credential store and swaps the account set in,
// preserving in-memory usage counters and cooldowns.
func (s *Service) RebuildPool(ctx context.Context) error {
	sources, err := s.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("manage: rebuild pool: %w", err)
	}
	s.pool.ReplaceAll(store.Accounts(sources))
	log.Info().Int("accounts", len(sources)).Msg("Rebuilt pool from store")
	return nil
}

// SetStrategy switches the pool's selection strategy at runtime. The change
// is not persisted; config owns the default.
func (s *Service) SetStrategy(strategy string) error {
	return s.pool.SetStrategy(strategy)
}

// SetPinned pins the single strategy to the given account id.
func (s *Service) SetPinned(id string) {
	s.pool.SetPinned(id)
}

// Strategy returns the active selection strategy.
func (s *Service) Strategy() string {
	return s.pool.Strategy()
}

// SetEnabled switches request serving on or off. Disabled, the gateway
// answers 503 without consuming accounts.
func (s *Service) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
	log.Info().Bool("enabled", enabled).Msg("Gateway serving toggled")
}

// Enabled reports whether the gateway serves proxy traffic.
func (s *Service) Enabled() bool {
	return s.enabled.Load()
}

// QueryLogs returns one page of ledger entries.
func (s *Service) QueryLogs(q ledger.Query) (ledger.Page, error) {
	return s.ledger.Query(q)
}

// ModelStats aggregates per-model usage between the given unix timestamps.
func (s *Service) ModelStats(startTimestamp, endTimestamp int64) ([]ledger.ModelStat, error) {
	return s.ledger.ModelStats(startTimestamp, endTimestamp)
}

// PeriodStats aggregates the today / 7 day / 30 day windows.
func (s *Service) PeriodStats(now time.Time) (ledger.PeriodStats, error) {
	return s.ledger.PeriodStats(now)
}

// DailyStats aggregates the trailing days window, oldest first.
func (s *Service) DailyStats(now time.Time, days int) ([]ledger.DailyStat, error) {
	return s.ledger.DailyStats(now, days)
}

// AllTimeStats aggregates the whole ledger.
func (s *Service) AllTimeStats() (ledger.AllTimeStats, error) {
	return s.ledger.AllTimeStats()
}

// ClearLogs deletes every ledger entry and returns the number removed.
func (s *Service) ClearLogs() (int64, error) {
	n, err := s.ledger.Clear()
	if err == nil {
		log.Info().Int64("deleted", n).Msg("Cleared usage ledger")
	}
	return n, err
}

// DeleteLogsBefore removes entries older than the given YYYYMMDD date key.
func (s *Service) DeleteLogsBefore(dateKey string) (int64, error) {
	n, err := s.ledger.DeleteBefore(dateKey)
	if err == nil {
		log.Info().Int64("deleted", n).Str("before", dateKey).Msg("Pruned usage ledger")
	}
	return n, err
}

// StorageStatus describes the ledger database on disk.
type StorageStatus struct {
	Entries   int64 `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
}

// Storage reports ledger entry count and database file size.
func (s *Service) Storage() (StorageStatus, error) {
	count, err := s.ledger.Count()
	if err != nil {
		return StorageStatus{}, err
	}
	size, err := s.ledger.SizeBytes()
	if err != nil {
		return StorageStatus{}, err
	}
	return StorageStatus{Entries: count, SizeBytes: size}, nil
}
