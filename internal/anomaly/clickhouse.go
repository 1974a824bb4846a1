package anomaly

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/ppiankov/credible/internal/model"
)

// Rows is the slice of a ClickHouse result set the source reads
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Querier runs a ClickHouse query
type Querier func(ctx context.Context, query string, args ...any) (Rows, error)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSource reads bars from a table shaped
//
//	(entity_id String, ts DateTime64(3), close Float64, volume Float64)
type ClickHouseSource struct {
	query Querier
	table string
	close func() error
}

// NewClickHouseSource connects to the warehouse described by cfg
func NewClickHouseSource(ctx context.Context, cfg model.ClickHouseConfig) (*ClickHouseSource, error) {
	table := cfg.Table
	if table == "" {
		table = "market_bars"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "credible", Version: "0.1"}},
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	query := func(ctx context.Context, q string, args ...any) (Rows, error) {
		return conn.Query(ctx, q, args...)
	}
	src := NewClickHouseSourceWith(query, table)
	src.close = conn.Close
	return src, nil
}

// NewClickHouseSourceWith builds a source over an existing query function
func NewClickHouseSourceWith(query Querier, table string) *ClickHouseSource {
	return &ClickHouseSource{query: query, table: table, close: func() error { return nil }}
}

// Close releases the connection
func (s *ClickHouseSource) Close() error {
	return s.close()
}

func (s *ClickHouseSource) Series(ctx context.Context, entityID string, window model.Window) (series model.MarketSeries, err error) {
	q := fmt.Sprintf("SELECT ts, close, volume FROM %s WHERE entity_id = ? AND ts >= ? AND ts <= ? ORDER BY ts", s.table)
	rows, err := s.query(ctx, q, entityID, window.Start, window.End)
	if err != nil {
		return model.MarketSeries{}, fmt.Errorf("query market bars: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	series.EntityID = entityID
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.Time, &b.Close, &b.Volume); err != nil {
			return model.MarketSeries{}, fmt.Errorf("scan market bar: %w", err)
		}
		b.Time = b.Time.UTC()
		series.Bars = append(series.Bars, b)
	}
	if err := rows.Err(); err != nil {
		return model.MarketSeries{}, err
	}
	return series, nil
}
