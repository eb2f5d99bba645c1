package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"ordergate/internal/domain"
)

// FillLog is an append-only Parquet audit trail of executed fills, organized
// by symbol and date. Files are rewritten on append with deduplication by
// order ID, so replays are idempotent.
type FillLog struct {
	mu      sync.Mutex
	dataDir string
}

// NewFillLog creates a FillLog rooted at the given data directory.
func NewFillLog(dataDir string) *FillLog {
	return &FillLog{dataDir: dataDir}
}

// FillRecord is the Parquet schema for the fill audit log.
type FillRecord struct {
	OrderID       string  `parquet:"order_id"`
	Symbol        string  `parquet:"symbol"`
	Side          string  `parquet:"side"`
	Quantity      float64 `parquet:"quantity"`
	Price         float64 `parquet:"price"`
	ExecutedPrice float64 `parquet:"executed_price"`
	Commission    float64 `parquet:"commission"`
	StrategyID    string  `parquet:"strategy_id"`
	Exchange      string  `parquet:"exchange"`
	Timestamp     int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// Append writes one executed order into the day's file for its symbol.
func (l *FillLog) Append(order domain.Order) error {
	rec := FillRecord{
		OrderID:       order.ID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Quantity:      order.Quantity.InexactFloat64(),
		Price:         order.Price.InexactFloat64(),
		ExecutedPrice: order.ExecutedPrice.InexactFloat64(),
		Commission:    order.Commission.InexactFloat64(),
		StrategyID:    order.StrategyID,
		Exchange:      order.Exchange,
		Timestamp:     order.UpdatedAt.UnixMilli(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.fillPath(order.Symbol, order.UpdatedAt)
	existing, _ := readParquetFile[FillRecord](path)
	merged := mergeFillRecords(existing, []FillRecord{rec})

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing fill for %s: %w", order.ID, err)
	}
	return nil
}

// Read returns the fills recorded for a symbol within [start, end].
func (l *FillLog) Read(symbol string, start, end time.Time) ([]FillRecord, error) {
	var fills []FillRecord
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		records, err := readParquetFile[FillRecord](l.fillPath(symbol, d))
		if err != nil {
			// No file for this day.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if !ts.Before(start) && !ts.After(end) {
				fills = append(fills, r)
			}
		}
	}
	return fills, nil
}

// fillPath returns the filesystem path for a day's fills.
// Layout: <dataDir>/fills/<SYMBOL>/<YYYY-MM-DD>.parquet
func (l *FillLog) fillPath(symbol string, t time.Time) string {
	date := t.UTC().Format("2006-01-02")
	return filepath.Join(l.dataDir, "fills", strings.ToUpper(symbol), date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeFillRecords deduplicates fills by order ID, preferring new records
// over existing ones. Results are sorted by timestamp.
func mergeFillRecords(existing, incoming []FillRecord) []FillRecord {
	seen := make(map[string]FillRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.OrderID] = r
	}
	for _, r := range incoming {
		seen[r.OrderID] = r
	}

	merged := make([]FillRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp == merged[j].Timestamp {
			return merged[i].OrderID < merged[j].OrderID
		}
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
