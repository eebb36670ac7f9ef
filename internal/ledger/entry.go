// Package ledger persists one entry per gateway request to a local SQLite
// database and serves the query and aggregation surface over it.
package ledger

import "time"

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one completed (or failed) gateway request.
type Entry struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Timestamp int64  `gorm:"index" json:"timestamp"`
	DateKey   string `gorm:"index" json:"date_key"` // YYYYMMDD, UTC

	AccountID    string `gorm:"index" json:"account_id"` // empty when no account served
	AccountEmail string `json:"account_email,omitempty"`

	Model  string `gorm:"index" json:"model,omitempty"`
	Format string `json:"format,omitempty"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`

	Status       string `gorm:"index" json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// Query filters and paginates ledger entries. Zero values mean "no filter".
// Model and Format match as substrings; Status and AccountID match exactly.
type Query struct {
	StartTimestamp int64
	EndTimestamp   int64
	Model          string
	Format         string
	Status         string
	AccountID      string
	Limit          int
	Offset         int
}

// Page is one page of query results plus the total count of matching rows,
// which stays stable across pagination.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int64   `json:"total"`
}

// ModelStat aggregates usage for one model.
type ModelStat struct {
	Model        string `json:"model"`
	Requests     int64  `json:"requests"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
}

// PeriodBucket is the request and token count over one window.
type PeriodBucket struct {
	Requests    int64 `json:"requests"`
	TotalTokens int64 `json:"total_tokens"`
}

// PeriodStats aggregates the standard reporting windows, each anchored to a
// UTC midnight of the anchor time.
type PeriodStats struct {
	Today      PeriodBucket `json:"today"`
	Last7Days  PeriodBucket `json:"last_7_days"`
	Last30Days PeriodBucket `json:"last_30_days"`
}

// DailyStat aggregates one UTC day.
type DailyStat struct {
	DateKey      string `json:"date_key"`
	Requests     int64  `json:"requests"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
}

// AllTimeStats is the lifetime aggregate over the whole ledger.
type AllTimeStats struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// DateKey formats t as the ledger's UTC day key.
func DateKey(t time.Time) string {
	return t.UTC().Format("20060102")
}
