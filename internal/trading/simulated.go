package trading

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/NiccoloSalvini/directa-api-go/internal/session"
	"github.com/NiccoloSalvini/directa-api-go/internal/sim"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// simBackend answers everything from an in-process engine. No socket, no
// daemon, deterministic fills driven by the caller.
type simBackend struct {
	eng *sim.Engine
}

func newSimBackend(cfg sim.Config) *simBackend {
	return &simBackend{eng: sim.NewEngine(cfg)}
}

// Engine exposes the simulation for scenario setup and driving fills.
func (b *simBackend) engine() *sim.Engine { return b.eng }

func (b *simBackend) connect(ctx context.Context) error { return ctx.Err() }

func (b *simBackend) close() error { return nil }

func (b *simBackend) status(ctx context.Context) (wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return wire.Record{}, err
	}
	return b.eng.Status(), nil
}

func (b *simBackend) account(ctx context.Context) (wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return wire.Record{}, err
	}
	return b.eng.AccountInfo(), nil
}

func (b *simBackend) availability(ctx context.Context) (wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return wire.Record{}, err
	}
	return b.eng.Availability(), nil
}

func (b *simBackend) portfolio(ctx context.Context) ([]wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.eng.Portfolio(), nil
}

func (b *simBackend) position(ctx context.Context, symbol string) (wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return wire.Record{}, err
	}
	rec, ok := b.eng.Position(symbol)
	if !ok {
		return wire.Record{}, &NoPositionError{Symbol: symbol}
	}
	return rec, nil
}

func (b *simBackend) orders(ctx context.Context, pendingOnly bool, symbol string) ([]wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.eng.Orders(pendingOnly, symbol), nil
}

func (b *simBackend) place(ctx context.Context, req wire.OrderRequest) (wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return wire.Record{}, err
	}
	return b.eng.Place(req)
}

func (b *simBackend) cancel(ctx context.Context, orderID string) (wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return wire.Record{}, err
	}
	rec, err := b.eng.Cancel(orderID)
	if err != nil {
		return wire.Record{}, normalizeOrderErr(err, orderID)
	}
	return rec, nil
}

func (b *simBackend) cancelAll(ctx context.Context, symbol string) ([]wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.eng.CancelAll(symbol), nil
}

func (b *simBackend) modify(ctx context.Context, orderID string, price, trigger decimal.Decimal) (wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return wire.Record{}, err
	}
	rec, err := b.eng.Modify(orderID, price, trigger)
	if err != nil {
		return wire.Record{}, normalizeOrderErr(err, orderID)
	}
	return rec, nil
}

func (b *simBackend) confirm(ctx context.Context, orderID string) (wire.Record, error) {
	if err := ctx.Err(); err != nil {
		return wire.Record{}, err
	}
	rec, err := b.eng.Confirm(orderID)
	if err != nil {
		return wire.Record{}, normalizeOrderErr(err, orderID)
	}
	return rec, nil
}

func (b *simBackend) subscribe(kinds []wire.Kind, fn func(wire.Record)) func() {
	want := make(map[wire.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return b.eng.Subscribe(func(rec wire.Record) {
		if want[rec.Kind()] {
			fn(rec)
		}
	})
}

func (b *simBackend) metrics() session.Metrics {
	return session.Metrics{State: session.StateConnected, UptimePct: 100}
}
