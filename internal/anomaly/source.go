package anomaly

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/credible/internal/model"
)

// MarketSource fetches the price/volume series of one entity
type MarketSource interface {
	Series(ctx context.Context, entityID string, window model.Window) (model.MarketSeries, error)
}

var entityFilePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// CSVSource reads one "<entity>.csv" file per entity from a directory.
// Files have a header row with time, close and volume columns.
type CSVSource struct {
	dir string
}

// NewCSVSource creates a source over dir
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

func (s *CSVSource) Series(ctx context.Context, entityID string, window model.Window) (model.MarketSeries, error) {
	if err := ctx.Err(); err != nil {
		return model.MarketSeries{}, err
	}
	if !entityFilePattern.MatchString(entityID) || strings.Contains(entityID, "..") {
		return model.MarketSeries{}, fmt.Errorf("invalid entity id %q", entityID)
	}

	f, err := os.Open(filepath.Join(s.dir, strings.ToUpper(entityID)+".csv"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.MarketSeries{}, fmt.Errorf("market data for %s: %w", entityID, model.ErrNotFound)
		}
		return model.MarketSeries{}, err
	}
	defer f.Close()

	bars, err := ReadBars(f)
	if err != nil {
		return model.MarketSeries{}, fmt.Errorf("market data for %s: %w", entityID, err)
	}
	return model.MarketSeries{EntityID: entityID, Bars: clip(bars, window)}, nil
}

// ReadBars parses CSV bars sorted by time
func ReadBars(r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	ti, ok := col["time"]
	if !ok {
		if ti, ok = col["date"]; !ok {
			return nil, fmt.Errorf("missing time column")
		}
	}
	ci, ok := col["close"]
	if !ok {
		return nil, fmt.Errorf("missing close column")
	}
	vi, ok := col["volume"]
	if !ok {
		return nil, fmt.Errorf("missing volume column")
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		t, err := parseBarTime(rec[ti])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		closePrice, err := strconv.ParseFloat(strings.TrimSpace(rec[ci]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: close: %w", line, err)
		}
		volume, err := strconv.ParseFloat(strings.TrimSpace(rec[vi]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: volume: %w", line, err)
		}
		bars = append(bars, model.Bar{Time: t, Close: closePrice, Volume: volume})
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

var barTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range barTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func clip(bars []model.Bar, w model.Window) []model.Bar {
	if w.Start.IsZero() && w.End.IsZero() {
		return bars
	}
	out := bars[:0:0]
	for _, b := range bars {
		if (w.Start.IsZero() || !b.Time.Before(w.Start)) && (w.End.IsZero() || !b.Time.After(w.End)) {
			out = append(out, b)
		}
	}
	return out
}
