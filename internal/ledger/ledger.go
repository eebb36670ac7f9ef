package ledger

import (
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// defaultQueryLimit caps unbounded queries.
const defaultQueryLimit = 100

// Ledger is the durable request log. All methods are safe for concurrent use;
// gorm serializes access to the underlying SQLite handle.
type Ledger struct {
	db   *gorm.DB
	path string
}

// Open creates or opens the ledger database at path and migrates the schema.
func Open(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}

	log.Info().Str("path", path).Msg("Opened usage ledger")
	return &Ledger{db: db, path: path}, nil
}

// Append writes one entry. A missing id, timestamp, or date key is filled in.
func (l *Ledger) Append(entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}
	if entry.DateKey == "" {
		entry.DateKey = DateKey(time.Unix(entry.Timestamp, 0))
	}

	if err := l.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// AppendFailure records a request that no account served. The account fields
// stay empty so failed rows are distinguishable from account usage.
func (l *Ledger) AppendFailure(model, format, errMessage string, durationMs int64) error {
	return l.Append(Entry{
		Model:        model,
		Format:       format,
		Status:       StatusError,
		ErrorMessage: errMessage,
		DurationMs:   durationMs,
	})
}

// Query returns one page of entries matching q, newest first, plus the total
// matching count.
func (l *Ledger) Query(q Query) (Page, error) {
	tx := l.db.Model(&Entry{})

	if q.StartTimestamp != 0 {
		tx = tx.Where("timestamp >= ?", q.StartTimestamp)
	}
	if q.EndTimestamp != 0 {
		tx = tx.Where("timestamp <= ?", q.EndTimestamp)
	}
	if q.Model != "" {
		tx = tx.Where("model LIKE ?", "%"+q.Model+"%")
	}
	if q.Format != "" {
		tx = tx.Where("format LIKE ?", "%"+q.Format+"%")
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.AccountID != "" {
		tx = tx.Where("account_id = ?", q.AccountID)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return Page{}, fmt.Errorf("ledger: count: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var entries []Entry
	err := tx.Order("timestamp DESC").Limit(limit).Offset(q.Offset).Find(&entries).Error
	if err != nil {
		return Page{}, fmt.Errorf("ledger: query: %w", err)
	}

	return Page{Entries: entries, Total: total}, nil
}

// ModelStats aggregates per-model usage between the given unix timestamps
// (0 = unbounded), busiest models first.
func (l *Ledger) ModelStats(startTimestamp, endTimestamp int64) ([]ModelStat, error) {
	tx := l.db.Model(&Entry{}).
		Select("model, COUNT(*) AS requests, " +
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, " +
			"COALESCE(SUM(output_tokens), 0) AS output_tokens, " +
			"COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Where("model != ''").
		Group("model").
		Order("total_tokens DESC")

	if startTimestamp != 0 {
		tx = tx.Where("timestamp >= ?", startTimestamp)
	}
	if endTimestamp != 0 {
		tx = tx.Where("timestamp <= ?", endTimestamp)
	}

	var stats []ModelStat
	if err := tx.Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("ledger: model stats: %w", err)
	}
	return stats, nil
}

// PeriodStats aggregates the today / 7 day / 30 day windows. Each window
// starts at a UTC midnight derived from now, so "7 days" means today plus the
// six days before it.
func (l *Ledger) PeriodStats(now time.Time) (PeriodStats, error) {
	midnight := now.UTC().Truncate(24 * time.Hour)

	today, err := l.bucketSince(midnight.Unix())
	if err != nil {
		return PeriodStats{}, err
	}
	week, err := l.bucketSince(midnight.AddDate(0, 0, -6).Unix())
	if err != nil {
		return PeriodStats{}, err
	}
	month, err := l.bucketSince(midnight.AddDate(0, 0, -29).Unix())
	if err != nil {
		return PeriodStats{}, err
	}

	return PeriodStats{Today: today, Last7Days: week, Last30Days: month}, nil
}

func (l *Ledger) bucketSince(startTimestamp int64) (PeriodBucket, error) {
	var bucket PeriodBucket
	err := l.db.Model(&Entry{}).
		Select("COUNT(*) AS requests, COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Where("timestamp >= ?", startTimestamp).
		Scan(&bucket).Error
	if err != nil {
		return PeriodBucket{}, fmt.Errorf("ledger: period stats: %w", err)
	}
	return bucket, nil
}

// DailyStats aggregates the trailing days window up to now, oldest day first.
// Days with no traffic appear with zero counts.
func (l *Ledger) DailyStats(now time.Time, days int) ([]DailyStat, error) {
	if days <= 0 {
		return nil, nil
	}

	start := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, -(days - 1))

	var rows []DailyStat
	err := l.db.Model(&Entry{}).
		Select("date_key, COUNT(*) AS requests, "+
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, "+
			"COALESCE(SUM(output_tokens), 0) AS output_tokens, "+
			"COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Where("timestamp >= ?", start.Unix()).
		Group("date_key").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: daily stats: %w", err)
	}

	byKey := make(map[string]DailyStat, len(rows))
	for _, r := range rows {
		byKey[r.DateKey] = r
	}

	out := make([]DailyStat, 0, days)
	for i := 0; i < days; i++ {
		key := DateKey(start.AddDate(0, 0, i))
		if stat, ok := byKey[key]; ok {
			out = append(out, stat)
		} else {
			out = append(out, DailyStat{DateKey: key})
		}
	}
	return out, nil
}

// AllTimeStats aggregates the whole ledger.
func (l *Ledger) AllTimeStats() (AllTimeStats, error) {
	var stats AllTimeStats
	err := l.db.Model(&Entry{}).
		Select("COUNT(*) AS requests, " +
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, " +
			"COALESCE(SUM(output_tokens), 0) AS output_tokens, " +
			"COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Scan(&stats).Error
	if err != nil {
		return AllTimeStats{}, fmt.Errorf("ledger: all time stats: %w", err)
	}
	return stats, nil
}

// Clear deletes every entry and returns the number removed.
func (l *Ledger) Clear() (int64, error) {
	res := l.db.Where("1 = 1").Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("ledger: clear: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteBefore removes entries with a date key strictly before the given one
// and returns the number removed.
func (l *Ledger) DeleteBefore(dateKey string) (int64, error) {
	res := l.db.Where("date_key < ?", dateKey).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("ledger: delete before %s: %w", dateKey, res.Error)
	}
	return res.RowsAffected, nil
}

// Count returns the number of entries.
func (l *Ledger) Count() (int64, error) {
	var n int64
	if err := l.db.Model(&Entry{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}

// SizeBytes returns the database file size.
func (l *Ledger) SizeBytes() (int64, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return 0, fmt.Errorf("ledger: stat %s: %w", l.path, err)
	}
	return info.Size(), nil
}
