package hist

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// Candle is one OHLCV bar.
type Candle struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Tick is one trade print.
type Tick struct {
	Symbol    string
	Timestamp time.Time
	Price     decimal.Decimal
	Size      int64
}

// CandleSeries walks candles in the order the platform returned them,
// oldest first. Not safe for concurrent use.
type CandleSeries struct {
	candles []Candle
	pos     int
}

// Next returns the next candle until the series is exhausted.
func (s *CandleSeries) Next() (Candle, bool) {
	if s.pos >= len(s.candles) {
		return Candle{}, false
	}
	c := s.candles[s.pos]
	s.pos++
	return c, true
}

// Reset rewinds the cursor to the first candle.
func (s *CandleSeries) Reset() { s.pos = 0 }

// Len returns the number of candles.
func (s *CandleSeries) Len() int { return len(s.candles) }

// All returns a copy of the whole series; the cursor is unaffected.
func (s *CandleSeries) All() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// TickSeries walks ticks in the order the platform returned them, oldest
// first. Not safe for concurrent use.
type TickSeries struct {
	ticks []Tick
	pos   int
}

// Next returns the next tick until the series is exhausted.
func (s *TickSeries) Next() (Tick, bool) {
	if s.pos >= len(s.ticks) {
		return Tick{}, false
	}
	tk := s.ticks[s.pos]
	s.pos++
	return tk, true
}

// Reset rewinds the cursor to the first tick.
func (s *TickSeries) Reset() { s.pos = 0 }

// Len returns the number of ticks.
func (s *TickSeries) Len() int { return len(s.ticks) }

// All returns a copy of the whole series; the cursor is unaffected.
func (s *TickSeries) All() []Tick {
	out := make([]Tick, len(s.ticks))
	copy(out, s.ticks)
	return out
}

func candleFromRecord(rec wire.Record) (Candle, error) {
	at, err := parseStamp(rec.Str("date"), rec.Str("time"))
	if err != nil {
		return Candle{}, fmt.Errorf("candle %s: %w", rec.Str("symbol"), err)
	}
	return Candle{
		Symbol:    rec.Str("symbol"),
		Timestamp: at,
		Open:      rec.Dec("open"),
		High:      rec.Dec("high"),
		Low:       rec.Dec("low"),
		Close:     rec.Dec("close"),
		Volume:    rec.Int("volume"),
	}, nil
}

func tickFromRecord(rec wire.Record) (Tick, error) {
	at, err := parseStamp(rec.Str("date"), rec.Str("time"))
	if err != nil {
		return Tick{}, fmt.Errorf("tick %s: %w", rec.Str("symbol"), err)
	}
	return Tick{
		Symbol:    rec.Str("symbol"),
		Timestamp: at,
		Price:     rec.Dec("price"),
		Size:      rec.Int("qty"),
	}, nil
}

// parseStamp combines a record's date and time fields. The daemon stamps
// with its local clock; there is no zone on the wire.
func parseStamp(date, tod string) (time.Time, error) {
	at, err := time.ParseInLocation(wire.TimestampLayout, date+tod, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", date+tod)
	}
	return at, nil
}
