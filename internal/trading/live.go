package trading

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/NiccoloSalvini/directa-api-go/internal/session"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// liveBackend speaks to the Darwin daemon over a socket session.
type liveBackend struct {
	conn *session.Conn
}

func newLiveBackend(cfg session.Config) *liveBackend {
	return &liveBackend{conn: session.NewConn(cfg)}
}

func (b *liveBackend) connect(ctx context.Context) error {
	if err := b.conn.Dial(ctx); err != nil {
		return err
	}
	// The socket accepts even when the platform behind it is wedged, so
	// require one status answer before declaring the session usable.
	if _, err := b.conn.Call(ctx, wire.StatusQuery{}, wire.KindDarwinStatus); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

func (b *liveBackend) close() error {
	return b.conn.Close()
}

func (b *liveBackend) status(ctx context.Context) (wire.Record, error) {
	return b.conn.Call(ctx, wire.StatusQuery{}, wire.KindDarwinStatus)
}

func (b *liveBackend) account(ctx context.Context) (wire.Record, error) {
	return b.conn.Call(ctx, wire.AccountQuery{}, wire.KindAccountInfo)
}

func (b *liveBackend) availability(ctx context.Context) (wire.Record, error) {
	return b.conn.Call(ctx, wire.AvailabilityQuery{}, wire.KindAvailability)
}

func (b *liveBackend) portfolio(ctx context.Context) ([]wire.Record, error) {
	return b.conn.CallList(ctx, wire.PortfolioQuery{}, wire.ListStocks, wire.KindStock)
}

func (b *liveBackend) position(ctx context.Context, symbol string) (wire.Record, error) {
	rec, err := b.conn.Call(ctx, wire.PositionQuery{Symbol: symbol}, wire.KindStock)
	if err != nil {
		return wire.Record{}, normalizePositionErr(err, symbol)
	}
	return rec, nil
}

func (b *liveBackend) orders(ctx context.Context, pendingOnly bool, symbol string) ([]wire.Record, error) {
	q := wire.OrdersQuery{Symbol: symbol, PendingOnly: pendingOnly}
	return b.conn.CallList(ctx, q, wire.ListOrders, wire.KindOrder)
}

func (b *liveBackend) place(ctx context.Context, req wire.OrderRequest) (wire.Record, error) {
	return b.conn.Call(ctx, req, wire.KindTradOK, wire.KindTradErr, wire.KindTradConfirm)
}

func (b *liveBackend) cancel(ctx context.Context, orderID string) (wire.Record, error) {
	rec, err := b.conn.Call(ctx, wire.CancelRequest{OrderID: orderID}, wire.KindTradOK, wire.KindTradErr)
	if err != nil {
		return wire.Record{}, normalizeOrderErr(err, orderID)
	}
	return rec, nil
}

// cancelAll revokes the pending book one order at a time. REVALL exists,
// but the daemon answers it with an unframed TRADOK stream that cannot be
// told apart from other order traffic, so per-order REVORD calls are the
// only correlatable way to do it.
func (b *liveBackend) cancelAll(ctx context.Context, symbol string) ([]wire.Record, error) {
	pending, err := b.orders(ctx, true, "")
	if err != nil {
		return nil, err
	}
	recs := make([]wire.Record, 0, len(pending))
	for _, o := range pending {
		if symbol != "" && o.Str("symbol") != symbol {
			continue
		}
		rec, err := b.cancel(ctx, o.Str("order_id"))
		if err != nil {
			// An order filled or vanished between the list and the
			// revoke; skip it and keep going.
			var notFound *OrderNotFoundError
			var state *OrderStateError
			if errors.As(err, &notFound) || errors.As(err, &state) {
				continue
			}
			return recs, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (b *liveBackend) modify(ctx context.Context, orderID string, price, trigger decimal.Decimal) (wire.Record, error) {
	req := wire.ModifyRequest{OrderID: orderID, Price: price, Trigger: trigger}
	rec, err := b.conn.Call(ctx, req, wire.KindTradOK, wire.KindTradErr)
	if err != nil {
		return wire.Record{}, normalizeOrderErr(err, orderID)
	}
	return rec, nil
}

func (b *liveBackend) confirm(ctx context.Context, orderID string) (wire.Record, error) {
	rec, err := b.conn.Call(ctx, wire.ConfirmRequest{OrderID: orderID}, wire.KindTradOK, wire.KindTradErr)
	if err != nil {
		return wire.Record{}, normalizeOrderErr(err, orderID)
	}
	return rec, nil
}

func (b *liveBackend) subscribe(kinds []wire.Kind, fn func(wire.Record)) func() {
	cancels := make([]func(), 0, len(kinds))
	for _, k := range kinds {
		cancels = append(cancels, b.conn.Subscribe(k, fn))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (b *liveBackend) metrics() session.Metrics {
	return b.conn.Metrics()
}
