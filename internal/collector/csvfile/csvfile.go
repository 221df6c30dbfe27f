// Package csvfile reads cleaned OHLCV candles from CSV files.
//
// A file needs a header row. Recognised columns, in any order and case:
// time (or date, timestamp), symbol, interval, open, high, low, close,
// volume. symbol, interval and volume are optional; a file without a
// symbol column takes the symbol from its name.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"20060102",
}

var aliases = map[string]string{
	"date":      "time",
	"datetime":  "time",
	"timestamp": "time",
	"ticker":    "symbol",
	"o":         "open",
	"h":         "high",
	"l":         "low",
	"c":         "close",
	"v":         "volume",
	"vol":       "volume",
}

// Source is a Collector over a directory holding one <SYMBOL>.csv per symbol
type Source struct {
	dir string
}

// NewSource creates a source rooted at dir
func NewSource(dir string) *Source {
	return &Source{dir: dir}
}

// Name returns the collector name
func (s *Source) Name() string {
	return "csv"
}

// FetchHistory reads <dir>/<symbol>.csv and keeps candles in [start, end]
func (s *Source) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candles, err := Load(filepath.Join(s.dir, symbol+".csv"))
	if err != nil {
		return nil, err
	}
	out := candles[:0]
	for _, c := range candles {
		if c.Symbol != symbol {
			continue
		}
		if !start.IsZero() && c.Time.Before(start) {
			continue
		}
		if !end.IsZero() && c.Time.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Load reads a candle file. Candles come back ordered by time, then symbol.
func Load(path string) ([]core.OHLCV, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.Errorf(core.ErrNotFound, "candle file %s not found", path)
	}
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	defer f.Close()

	symbol := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	candles, err := Read(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}

// Read parses candles from r. defaultSymbol is used when the data has no
// symbol column.
func Read(r io.Reader, defaultSymbol string) ([]core.OHLCV, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, core.Errorf(core.ErrEmptyInput, "no header row")
	}
	if err != nil {
		return nil, core.WrapError(core.ErrInvalidInput, err)
	}
	cols, err := columns(header)
	if err != nil {
		return nil, err
	}

	var candles []core.OHLCV
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.WrapError(core.ErrInvalidInput, err)
		}
		c, err := parseRow(rec, cols, defaultSymbol)
		if err != nil {
			return nil, core.Errorf(core.ErrInvalidInput, "line %d: %v", line, err)
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, core.Errorf(core.ErrEmptyInput, "no candles")
	}

	sort.SliceStable(candles, func(i, j int) bool {
		if !candles[i].Time.Equal(candles[j].Time) {
			return candles[i].Time.Before(candles[j].Time)
		}
		return candles[i].Symbol < candles[j].Symbol
	})
	return candles, nil
}

func columns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := aliases[name]; ok {
			name = alias
		}
		cols[name] = i
	}
	for _, required := range []string{"time", "open", "high", "low", "close"} {
		if _, ok := cols[required]; !ok {
			return nil, core.Errorf(core.ErrInvalidInput, "missing %q column", required)
		}
	}
	return cols, nil
}

func parseRow(rec []string, cols map[string]int, defaultSymbol string) (core.OHLCV, error) {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	c := core.OHLCV{Symbol: field("symbol"), Interval: field("interval")}
	if c.Symbol == "" {
		c.Symbol = defaultSymbol
	}
	if c.Interval == "" {
		c.Interval = "1d"
	}

	t, err := parseTime(field("time"))
	if err != nil {
		return c, err
	}
	c.Time = t

	prices := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"open", &c.Open},
		{"high", &c.High},
		{"low", &c.Low},
		{"close", &c.Close},
		{"volume", &c.Volume},
	}
	for _, p := range prices {
		raw := field(p.name)
		if raw == "" && p.name == "volume" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return c, fmt.Errorf("bad %s %q", p.name, raw)
		}
		*p.dst = d
	}
	return c, nil
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	// Unix seconds or milliseconds
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time %q", raw)
}
