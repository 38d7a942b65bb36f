// Package stats records LLM generations and summarises them per day.
package stats

import (
	"context"
	"fmt"
	"time"

	"cheonkimoon/internal/db"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type VariantStats struct {
	Requests  int `json:"requests"`
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
	Errors    int `json:"errors"`
}

type DailyStats struct {
	Date     string                  `json:"date"`
	Summary  map[string]VariantStats `json:"summary"`  // Variant -> Stats
	ByModel  map[string]VariantStats `json:"by_model"` // Model -> Stats
	TotalReq int                     `json:"total_requests"`
}

type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewManager(gdb *gorm.DB, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: gdb, logger: logger}
}

// Record stores one generation. CreatedAt defaults to now.
func (m *Manager) Record(ctx context.Context, entry db.ReadingLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := m.db.WithContext(ctx).Create(&entry).Error; err != nil {
		m.logger.Warn("failed to record reading log", zap.String("variant", entry.Variant), zap.Error(err))
		return err
	}
	return nil
}

type groupRow struct {
	GroupKey  string
	Requests  int
	TokensIn  int
	TokensOut int
	Errors    int
}

// Daily aggregates the logs of date (YYYY-MM-DD, local time).
func (m *Manager) Daily(ctx context.Context, date string) (*DailyStats, error) {
	start, err := time.ParseInLocation(dateLayout, date, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	end := start.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:    date,
		Summary: make(map[string]VariantStats),
		ByModel: make(map[string]VariantStats),
	}

	for _, g := range []struct {
		column string
		into   map[string]VariantStats
	}{
		{"variant", stats.Summary},
		{"model", stats.ByModel},
	} {
		var rows []groupRow
		err := m.db.WithContext(ctx).Model(&db.ReadingLog{}).
			Select(g.column+" AS group_key, COUNT(*) AS requests, "+
				"COALESCE(SUM(input_tokens), 0) AS tokens_in, "+
				"COALESCE(SUM(output_tokens), 0) AS tokens_out, "+
				"COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) AS errors").
			Where("created_at >= ? AND created_at < ?", start, end).
			Group(g.column).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("aggregate by %s: %w", g.column, err)
		}
		for _, r := range rows {
			g.into[r.GroupKey] = VariantStats{Requests: r.Requests, TokensIn: r.TokensIn, TokensOut: r.TokensOut, Errors: r.Errors}
		}
	}

	for _, s := range stats.Summary {
		stats.TotalReq += s.Requests
	}
	return stats, nil
}

// Today is Daily for the current local date.
func (m *Manager) Today(ctx context.Context) (*DailyStats, error) {
	return m.Daily(ctx, time.Now().Format(dateLayout))
}
