package trading

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NiccoloSalvini/directa-api-go/internal/session"
	"github.com/NiccoloSalvini/directa-api-go/internal/sim"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newSimClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.Mode == "" {
		opts.Mode = ModeSim
	}
	c := New(opts)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSimStatusReportsSimulated(t *testing.T) {
	c := newSimClient(t, Options{})

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Simulated)
	assert.True(t, st.ConnectionOK())
	assert.Equal(t, session.StateConnected, st.Session.State)
	assert.InDelta(t, 100.0, st.Session.UptimePct, 0.01)
}

func TestPlaceFillAndInspect(t *testing.T) {
	ctx := context.Background()
	c := newSimClient(t, Options{})

	res, err := c.BuyLimit(ctx, "AAPL", 100, d("50.25"))
	require.NoError(t, err)
	require.False(t, res.Rejected())
	assert.Equal(t, wire.StatusSent, res.Status)
	assert.True(t, strings.HasPrefix(res.OrderID, "ORD-"), "generated ref %q", res.OrderID)

	_, err = c.Sim().Fill(res.OrderID, d("50"), 0)
	require.NoError(t, err)

	positions, err := c.Portfolio(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.EqualValues(t, 100, positions[0].QtyPortfolio)
	assert.True(t, positions[0].AvgPrice.Equal(d("50")), "avg price %s", positions[0].AvgPrice)

	pos, err := c.Position(ctx, "AAPL")
	require.NoError(t, err)
	assert.EqualValues(t, 100, pos.QtyTrading)

	acct, err := c.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SIM", acct.Kind)
	assert.True(t, acct.Liquidity.Equal(d("5000")), "liquidity %s", acct.Liquidity)
	assert.True(t, acct.Equity.Equal(d("10000")), "equity %s", acct.Equity)

	avail, err := c.Availability(ctx)
	require.NoError(t, err)
	assert.True(t, avail.Cash.Equal(d("5000")), "cash %s", avail.Cash)
}

func TestFlatSymbolIsNoPositionError(t *testing.T) {
	c := newSimClient(t, Options{})

	_, err := c.Position(context.Background(), "MSFT")
	var noPos *NoPositionError
	require.ErrorAs(t, err, &noPos)
	assert.Equal(t, "MSFT", noPos.Symbol)
}

func TestRejectionIsResultNotError(t *testing.T) {
	c := newSimClient(t, Options{})

	// Default cash is 10000; this order costs 50000.
	res, err := c.BuyLimit(context.Background(), "AAPL", 1000, d("50"))
	require.NoError(t, err)
	require.True(t, res.Rejected())
	assert.Equal(t, 1001, res.Rejection.Code)
	assert.NotEmpty(t, res.Rejection.Message)
	assert.Equal(t, wire.StatusRejected, res.Status)
}

func TestAutoConfirmReleasesGatedOrder(t *testing.T) {
	ctx := context.Background()
	c := newSimClient(t, Options{AutoConfirm: true, Sim: sim.Config{RequireConfirm: true}})

	res, err := c.BuyLimit(ctx, "AAPL", 10, d("50"))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSent, res.Status)
	assert.Equal(t, "CONFORD "+res.OrderID, res.Echo)

	_, err = c.Sim().Fill(res.OrderID, decimal.Zero, 0)
	require.NoError(t, err)
}

func TestManualConfirmFlow(t *testing.T) {
	ctx := context.Background()
	c := newSimClient(t, Options{Sim: sim.Config{RequireConfirm: true}})

	res, err := c.BuyLimit(ctx, "AAPL", 10, d("50"))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusConfirmRequired, res.Status)

	_, err = c.Sim().Fill(res.OrderID, decimal.Zero, 0)
	require.Error(t, err, "gated order must not fill before confirmation")

	confirmed, err := c.ConfirmOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSent, confirmed.Status)

	_, err = c.Sim().Fill(res.OrderID, decimal.Zero, 0)
	require.NoError(t, err)
}

func TestCancelErrorsNormalized(t *testing.T) {
	ctx := context.Background()
	c := newSimClient(t, Options{})

	_, err := c.CancelOrder(ctx, "NOPE")
	var notFound *OrderNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "NOPE", notFound.OrderID)

	res, err := c.BuyLimit(ctx, "AAPL", 10, d("50"))
	require.NoError(t, err)
	_, err = c.Sim().Fill(res.OrderID, decimal.Zero, 0)
	require.NoError(t, err)

	_, err = c.CancelOrder(ctx, res.OrderID)
	var stateErr *OrderStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, res.OrderID, stateErr.OrderID)
	assert.Contains(t, stateErr.Reason, "cancel")
}

func TestOrderListViews(t *testing.T) {
	ctx := context.Background()
	c := newSimClient(t, Options{})

	filled, err := c.BuyLimit(ctx, "AAPL", 10, d("50"))
	require.NoError(t, err)
	resting, err := c.BuyLimit(ctx, "MSFT", 20, d("30"))
	require.NoError(t, err)
	_, err = c.Sim().Fill(filled.OrderID, decimal.Zero, 0)
	require.NoError(t, err)

	all, err := c.Orders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := c.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, resting.OrderID, pending[0].ID)
	assert.Equal(t, wire.StatusPending, pending[0].Status)

	aapl, err := c.OrdersFor(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, aapl, 1)
	assert.Equal(t, wire.StatusFilled, aapl[0].Status)
}

func TestCancelAllBySymbol(t *testing.T) {
	ctx := context.Background()
	c := newSimClient(t, Options{})

	_, err := c.BuyLimit(ctx, "AAPL", 10, d("50"))
	require.NoError(t, err)
	_, err = c.BuyLimit(ctx, "AAPL", 10, d("49"))
	require.NoError(t, err)
	keep, err := c.BuyLimit(ctx, "MSFT", 10, d("30"))
	require.NoError(t, err)

	results, err := c.CancelAll(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, wire.StatusCancelled, r.Status)
	}

	pending, err := c.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, keep.OrderID, pending[0].ID)
}

func TestModifyThroughFacade(t *testing.T) {
	ctx := context.Background()
	c := newSimClient(t, Options{})

	res, err := c.BuyLimit(ctx, "AAPL", 10, d("50"))
	require.NoError(t, err)

	mod, err := c.ModifyOrder(ctx, res.OrderID, d("51.5"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, mod.Price.Equal(d("51.5")), "price %s", mod.Price)
	assert.Equal(t, "MODORD "+res.OrderID+",51.5", mod.Echo)
}

func TestSubscribeOrderUpdatesSim(t *testing.T) {
	ctx := context.Background()
	c := newSimClient(t, Options{})

	var updates []OrderUpdate
	cancel := c.SubscribeOrderUpdates(func(u OrderUpdate) { updates = append(updates, u) })

	res, err := c.BuyLimit(ctx, "AAPL", 100, d("50"))
	require.NoError(t, err)
	require.Empty(t, updates, "resting orders are not pushed")

	_, err = c.Sim().Fill(res.OrderID, decimal.Zero, 40)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, wire.KindOrder, updates[0].Source)
	assert.Equal(t, wire.StatusPartiallyFilled, updates[0].Status)
	assert.Equal(t, wire.KindTradOK, updates[1].Source)
	assert.EqualValues(t, 40, updates[1].Filled)
	assert.EqualValues(t, 60, updates[1].Remaining)

	cancel()
	_, err = c.Sim().Fill(res.OrderID, decimal.Zero, 0)
	require.NoError(t, err)
	assert.Len(t, updates, 2, "cancelled subscription must stop delivering")
}

func TestModeSelection(t *testing.T) {
	t.Run("unknown mode falls back to sim", func(t *testing.T) {
		c := New(Options{Mode: "paper"})
		assert.Equal(t, ModeSim, c.Mode())
		require.NotNil(t, c.Sim())
	})

	t.Run("env overrides config", func(t *testing.T) {
		t.Setenv("DARWIN_MODE", "sim")
		c := New(Options{Mode: ModeLive})
		assert.Equal(t, ModeSim, c.Mode())
	})

	t.Run("live client has no engine", func(t *testing.T) {
		c := New(Options{Mode: ModeLive})
		assert.Equal(t, ModeLive, c.Mode())
		assert.Nil(t, c.Sim())
	})
}

func TestWithRunsAndCloses(t *testing.T) {
	var seen *Client
	err := With(context.Background(), Options{Mode: ModeSim}, func(c *Client) error {
		seen = c
		_, serr := c.Status(context.Background())
		return serr
	})
	require.NoError(t, err)
	require.NotNil(t, seen)

	wantErr := errors.New("strategy failed")
	err = With(context.Background(), Options{Mode: ModeSim}, func(c *Client) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)

	assert.Panics(t, func() {
		_ = With(context.Background(), Options{Mode: ModeSim}, func(*Client) error { panic("strategy blew up") })
	})
}

func TestSimulateOrderExecution(t *testing.T) {
	ctx := context.Background()
	c := newSimClient(t, Options{})

	res, err := c.BuyLimit(ctx, "AAPL", 100, d("50"))
	require.NoError(t, err)

	fill, err := c.SimulateOrderExecution(ctx, res.OrderID, decimal.Zero, 40)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusPartiallyFilled, fill.Status)
	assert.EqualValues(t, 40, fill.Filled)
	assert.EqualValues(t, 60, fill.Remaining)

	_, err = c.SimulateOrderExecution(ctx, "GHOST", decimal.Zero, 0)
	var notFound *OrderNotFoundError
	require.ErrorAs(t, err, &notFound)

	live := New(Options{Mode: ModeLive})
	_, err = live.SimulateOrderExecution(ctx, res.OrderID, decimal.Zero, 0)
	var vErr *wire.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "mode", vErr.Field)
}

func TestNewOrderRefShape(t *testing.T) {
	refs := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ref := NewOrderRef()
		assert.True(t, strings.HasPrefix(ref, "ORD-"), "ref %q", ref)
		assert.Len(t, ref, 14)
		assert.Equal(t, strings.ToUpper(ref), ref)
		refs[ref] = true
	}
	assert.Len(t, refs, 100, "refs must not repeat")
}
