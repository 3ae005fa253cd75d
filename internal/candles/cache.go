package candles

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// layout selects which on-disk naming convention a cache file uses.
type layout int

const (
	layoutNone   layout = iota
	layoutPrimary        // <root>/<timeframe>/<contract>.csv
	layoutLegacy         // <root>/<contract>_<timeframe>.csv
)

func primaryPath(root, timeframe, contract string) string {
	return filepath.Join(root, timeframe, contract+".csv")
}

func legacyPath(root, timeframe, contract string) string {
	return filepath.Join(root, fmt.Sprintf("%s_%s.csv", contract, timeframe))
}

// resolveLayout probes both on-disk layouts for contract, preferring the
// primary layout if both happen to exist.
func resolveLayout(root, timeframe, contract string) (layout, string) {
	p := primaryPath(root, timeframe, contract)
	if _, err := os.Stat(p); err == nil {
		return layoutPrimary, p
	}
	l := legacyPath(root, timeframe, contract)
	if _, err := os.Stat(l); err == nil {
		return layoutLegacy, l
	}
	return layoutNone, ""
}

// readCacheFile loads a candle CSV at path. The CSV contract is
// timestamp(RFC3339),open,high,low,close,volume with a header row.
func readCacheFile(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("candles: open cache file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("candles: read cache file %s: %w", path, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	out := make([]Candle, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 6 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		cl, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)
		out = append(out, Candle{Timestamp: ts, Open: open, High: high, Low: low, Close: cl, Volume: vol})
	}
	return SortAndDedup(out), nil
}

// writeCacheFile persists series to path in layout (a)'s CSV format,
// creating parent directories as needed.
func writeCacheFile(path string, series Series) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("candles: create cache dir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("candles: create cache file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, c := range series {
		row := []string{
			c.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// loadFromCache probes both layouts for (root, timeframe, contract), reading
// whichever exists first. When the found layout is legacy, the result is
// opportunistically rewritten to the primary layout.
func loadFromCache(root, timeframe, contract string) (Series, bool, error) {
	l, path := resolveLayout(root, timeframe, contract)
	if l == layoutNone {
		return nil, false, nil
	}

	series, err := readCacheFile(path)
	if err != nil {
		return nil, false, err
	}

	if l == layoutLegacy {
		dst := primaryPath(root, timeframe, contract)
		if err := writeCacheFile(dst, series); err != nil {
			log.Warn().Err(err).Str("contract", contract).Msg("candles: failed to migrate legacy cache layout")
		} else {
			log.Info().Str("contract", contract).Str("from", path).Str("to", dst).Msg("candles: migrated legacy cache layout")
		}
	}
	return series, true, nil
}

// saveToCache always writes to the primary layout, per the "writes go to
// layout (a)" rule.
func saveToCache(root, timeframe, contract string, series Series) error {
	return writeCacheFile(primaryPath(root, timeframe, contract), series)
}
