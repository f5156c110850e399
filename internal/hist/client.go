// Package hist is the client for the Darwin historical data port: candle
// and tick series pulled over the same line protocol the trading port
// speaks. It runs its own session, so market data never queues behind
// order traffic.
package hist

import (
	"context"
	"time"

	"github.com/NiccoloSalvini/directa-api-go/internal/observ"
	"github.com/NiccoloSalvini/directa-api-go/internal/session"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// DefaultPort is the daemon's historical data port.
const DefaultPort = 10003

// Client pulls historical series from the daemon.
type Client struct {
	conn *session.Conn
}

// New builds a client. A zero Port selects the historical port.
func New(cfg session.Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return &Client{conn: session.NewConn(cfg)}
}

// Connect dials and requires one status answer before declaring the
// session usable, same as the trading side.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Dial(ctx); err != nil {
		return err
	}
	if _, err := c.conn.Call(ctx, wire.StatusQuery{}, wire.KindDarwinStatus); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}

// Close tears the session down.
func (c *Client) Close() error { return c.conn.Close() }

// Metrics returns session health counters.
func (c *Client) Metrics() session.Metrics { return c.conn.Metrics() }

// DailyCandles returns daily bars going back days.
func (c *Client) DailyCandles(ctx context.Context, symbol string, days int) (*CandleSeries, error) {
	return c.candles(ctx, "daily_candles", wire.CandleQuery{Symbol: symbol, Days: days})
}

// IntradayCandles returns periodSec-second bars going back days.
func (c *Client) IntradayCandles(ctx context.Context, symbol string, days, periodSec int) (*CandleSeries, error) {
	if periodSec <= 0 {
		return nil, &wire.ValidationError{Field: "period", Reason: "must be positive"}
	}
	return c.candles(ctx, "intraday_candles", wire.CandleQuery{Symbol: symbol, Days: days, PeriodSec: periodSec})
}

// CandleRange returns periodSec-second bars between from and to.
func (c *Client) CandleRange(ctx context.Context, symbol string, from, to time.Time, periodSec int) (*CandleSeries, error) {
	q := wire.CandleRangeQuery{Symbol: symbol, From: from, To: to, PeriodSec: periodSec}
	return c.candles(ctx, "candle_range", q)
}

// TickByTick returns individual trades going back days.
func (c *Client) TickByTick(ctx context.Context, symbol string, days int) (*TickSeries, error) {
	return c.ticks(ctx, "tick_by_tick", wire.TickQuery{Symbol: symbol, Days: days})
}

// TickRange returns individual trades between from and to.
func (c *Client) TickRange(ctx context.Context, symbol string, from, to time.Time) (*TickSeries, error) {
	return c.ticks(ctx, "tick_range", wire.TickRangeQuery{Symbol: symbol, From: from, To: to})
}

// IncludeAfterHours toggles whether candle volume counts after-hours
// trades. The setting sticks for the rest of the session.
func (c *Client) IncludeAfterHours(ctx context.Context, on bool) error {
	observ.IncCounter("hist_requests_total", map[string]string{"op": "after_hours"})
	_, err := c.conn.Call(ctx, wire.AfterHoursVolume{Enabled: on}, wire.KindVolumeAH)
	return err
}

func (c *Client) candles(ctx context.Context, op string, q wire.Command) (*CandleSeries, error) {
	observ.IncCounter("hist_requests_total", map[string]string{"op": op})
	recs, err := c.conn.CallList(ctx, q, wire.ListCandles, wire.KindCandle)
	if err != nil {
		return nil, err
	}
	candles := make([]Candle, 0, len(recs))
	for _, rec := range recs {
		cd, err := candleFromRecord(rec)
		if err != nil {
			return nil, err
		}
		candles = append(candles, cd)
	}
	observ.Observe("hist_series_len", float64(len(candles)), map[string]string{"op": op})
	return &CandleSeries{candles: candles}, nil
}

func (c *Client) ticks(ctx context.Context, op string, q wire.Command) (*TickSeries, error) {
	observ.IncCounter("hist_requests_total", map[string]string{"op": op})
	recs, err := c.conn.CallList(ctx, q, wire.ListTicks, wire.KindTick)
	if err != nil {
		return nil, err
	}
	ticks := make([]Tick, 0, len(recs))
	for _, rec := range recs {
		tk, err := tickFromRecord(rec)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, tk)
	}
	observ.Observe("hist_series_len", float64(len(ticks)), map[string]string{"op": op})
	return &TickSeries{ticks: ticks}, nil
}
