// Package trading is the high level client for the Darwin trading port. It
// wraps the wire protocol in typed calls, normalizes errors across the live
// daemon and the built-in simulation, and keeps the two behind one facade
// so strategies run unchanged in either mode.
package trading

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/NiccoloSalvini/directa-api-go/internal/observ"
	"github.com/NiccoloSalvini/directa-api-go/internal/session"
	"github.com/NiccoloSalvini/directa-api-go/internal/sim"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// Mode selects what a Client talks to.
type Mode string

const (
	ModeLive Mode = "live" // the local daemon's trading socket
	ModeSim  Mode = "sim"  // the in-process simulation engine
)

// Options configures a Client.
type Options struct {
	Mode        Mode
	AutoConfirm bool // answer TRADCONFIRM gates with CONFORD automatically
	Session     session.Config
	Sim         sim.Config
}

// backend is what both transports implement. Methods move raw records; the
// Client converts and normalizes on top.
type backend interface {
	connect(ctx context.Context) error
	close() error
	status(ctx context.Context) (wire.Record, error)
	account(ctx context.Context) (wire.Record, error)
	availability(ctx context.Context) (wire.Record, error)
	portfolio(ctx context.Context) ([]wire.Record, error)
	position(ctx context.Context, symbol string) (wire.Record, error)
	orders(ctx context.Context, pendingOnly bool, symbol string) ([]wire.Record, error)
	place(ctx context.Context, req wire.OrderRequest) (wire.Record, error)
	cancel(ctx context.Context, orderID string) (wire.Record, error)
	cancelAll(ctx context.Context, symbol string) ([]wire.Record, error)
	modify(ctx context.Context, orderID string, price, trigger decimal.Decimal) (wire.Record, error)
	confirm(ctx context.Context, orderID string) (wire.Record, error)
	subscribe(kinds []wire.Kind, fn func(wire.Record)) func()
	metrics() session.Metrics
}

// Client is the trading facade. Safe for concurrent use.
type Client struct {
	mode        Mode
	autoConfirm bool
	be          backend
}

// New builds a client for the configured mode. The DARWIN_MODE environment
// variable overrides the configured mode; an unknown mode falls back to the
// simulation, which cannot touch a real account.
func New(opts Options) *Client {
	mode := strings.ToLower(strings.TrimSpace(string(opts.Mode)))
	if env := os.Getenv("DARWIN_MODE"); env != "" {
		mode = strings.ToLower(strings.TrimSpace(env))
		observ.Log("trading_mode_override", map[string]any{
			"config_mode":  string(opts.Mode),
			"env_override": mode,
		})
	}

	c := &Client{autoConfirm: opts.AutoConfirm}
	switch Mode(mode) {
	case ModeLive:
		c.mode = ModeLive
		c.be = newLiveBackend(opts.Session)
	case ModeSim:
		c.mode = ModeSim
		c.be = newSimBackend(opts.Sim)
	default:
		observ.Log("trading_mode_fallback", map[string]any{
			"requested_mode": mode,
			"fallback_to":    string(ModeSim),
		})
		c.mode = ModeSim
		c.be = newSimBackend(opts.Sim)
	}
	observ.Log("trading_client_created", map[string]any{
		"mode":         string(c.mode),
		"auto_confirm": c.autoConfirm,
	})
	return c
}

// With runs fn against a connected client and closes it afterwards, whether
// fn returns, fails or panics.
func With(ctx context.Context, opts Options, fn func(*Client) error) (err error) {
	c := New(opts)
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err = c.Connect(ctx); err != nil {
		return err
	}
	return fn(c)
}

// Mode reports which backend this client drives.
func (c *Client) Mode() Mode { return c.mode }

// Sim returns the simulation engine behind a sim-mode client, nil for live
// clients. Tests and demos use it to seed positions and drive fills.
func (c *Client) Sim() *sim.Engine {
	if b, ok := c.be.(*simBackend); ok {
		return b.engine()
	}
	return nil
}

// Connect establishes the session. For sim mode it is immediate.
func (c *Client) Connect(ctx context.Context) error {
	return c.be.connect(ctx)
}

// Close tears the session down. Pending calls fail, subscriptions stop
// receiving.
func (c *Client) Close() error {
	return c.be.close()
}

func (c *Client) count(op string) {
	observ.IncCounter("trading_ops_total", map[string]string{"op": op, "mode": string(c.mode)})
}

// Status asks the platform how it feels and attaches session health.
func (c *Client) Status(ctx context.Context) (PlatformStatus, error) {
	c.count("status")
	rec, err := c.be.status(ctx)
	if err != nil {
		return PlatformStatus{}, err
	}
	st := statusFromRecord(rec)
	st.Session = c.be.metrics()
	return st, nil
}

// Account returns balances and the day's P&L.
func (c *Client) Account(ctx context.Context) (AccountInfo, error) {
	c.count("account")
	rec, err := c.be.account(ctx)
	if err != nil {
		return AccountInfo{}, err
	}
	return accountFromRecord(rec), nil
}

// Availability returns spendable cash and margin headroom.
func (c *Client) Availability(ctx context.Context) (Availability, error) {
	c.count("availability")
	rec, err := c.be.availability(ctx)
	if err != nil {
		return Availability{}, err
	}
	return availabilityFromRecord(rec), nil
}

// Portfolio returns all open positions. A flat account returns an empty
// slice, not an error.
func (c *Client) Portfolio(ctx context.Context) ([]Position, error) {
	c.count("portfolio")
	recs, err := c.be.portfolio(ctx)
	if err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(recs))
	for _, rec := range recs {
		positions = append(positions, positionFromRecord(rec))
	}
	return positions, nil
}

// Position returns the open position in one symbol, or NoPositionError when
// the account is flat on it.
func (c *Client) Position(ctx context.Context, symbol string) (Position, error) {
	c.count("position")
	rec, err := c.be.position(ctx, symbol)
	if err != nil {
		return Position{}, err
	}
	return positionFromRecord(rec), nil
}

// Orders returns today's orders in every state.
func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	return c.ordersWith(ctx, "orders", false, "")
}

// PendingOrders returns only orders still working.
func (c *Client) PendingOrders(ctx context.Context) ([]Order, error) {
	return c.ordersWith(ctx, "pending_orders", true, "")
}

// OrdersFor returns today's orders on one symbol.
func (c *Client) OrdersFor(ctx context.Context, symbol string) ([]Order, error) {
	return c.ordersWith(ctx, "orders_for", false, symbol)
}

func (c *Client) ordersWith(ctx context.Context, op string, pendingOnly bool, symbol string) ([]Order, error) {
	c.count(op)
	recs, err := c.be.orders(ctx, pendingOnly, symbol)
	if err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(recs))
	for _, rec := range recs {
		orders = append(orders, orderFromRecord(rec))
	}
	return orders, nil
}

// OrderSpec describes an order to place. Ref is the client-chosen order id
// the platform will echo back; when empty one is generated.
type OrderSpec struct {
	Symbol  string
	Side    wire.Side
	Type    wire.OrderType
	Qty     int64
	Price   decimal.Decimal
	Trigger decimal.Decimal
	Ref     string
}

func (s OrderSpec) request() wire.OrderRequest {
	ref := s.Ref
	if ref == "" {
		ref = NewOrderRef()
	}
	return wire.OrderRequest{
		Ref:     ref,
		Symbol:  s.Symbol,
		Side:    s.Side,
		Type:    s.Type,
		Qty:     s.Qty,
		Price:   s.Price,
		Trigger: s.Trigger,
	}
}

// NewOrderRef generates a client order id the daemon will accept and echo.
func NewOrderRef() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(raw[:10])
}

// PlaceOrder submits an order. A platform rejection comes back as a result
// with Rejection set and a nil error; errors mean the order's fate is
// unknown or the request never left. When the platform parks the order
// behind its confirmation gate and AutoConfirm is on, the confirmation is
// sent in the same call.
func (c *Client) PlaceOrder(ctx context.Context, spec OrderSpec) (OrderResult, error) {
	c.count("place")
	req := spec.request()
	rec, err := c.be.place(ctx, req)
	if err != nil {
		return OrderResult{}, err
	}
	res := orderResultFromRecord(rec)
	if res.Rejected() {
		observ.IncCounter("trading_rejects_total", map[string]string{"code": strconv.Itoa(res.Rejection.Code)})
		observ.Log("order_rejected", map[string]any{
			"order_id": res.OrderID,
			"symbol":   res.Symbol,
			"code":     res.Rejection.Code,
			"message":  res.Rejection.Message,
		})
		return res, nil
	}
	observ.Log("order_placed", map[string]any{
		"order_id": res.OrderID,
		"symbol":   req.Symbol,
		"side":     req.Side.String(),
		"type":     req.Type.String(),
		"qty":      req.Qty,
		"status":   res.Status.String(),
	})
	if res.Status == wire.StatusConfirmRequired && c.autoConfirm {
		observ.Log("order_auto_confirm", map[string]any{"order_id": res.OrderID})
		return c.ConfirmOrder(ctx, res.OrderID)
	}
	return res, nil
}

// BuyLimit places a limit buy.
func (c *Client) BuyLimit(ctx context.Context, symbol string, qty int64, price decimal.Decimal) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideBuy, Type: wire.OrderTypeLimit, Qty: qty, Price: price})
}

// SellLimit places a limit sell.
func (c *Client) SellLimit(ctx context.Context, symbol string, qty int64, price decimal.Decimal) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideSell, Type: wire.OrderTypeLimit, Qty: qty, Price: price})
}

// BuyMarket places a market buy.
func (c *Client) BuyMarket(ctx context.Context, symbol string, qty int64) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideBuy, Type: wire.OrderTypeMarket, Qty: qty})
}

// SellMarket places a market sell.
func (c *Client) SellMarket(ctx context.Context, symbol string, qty int64) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideSell, Type: wire.OrderTypeMarket, Qty: qty})
}

// BuyStop places a stop buy triggered at trigger.
func (c *Client) BuyStop(ctx context.Context, symbol string, qty int64, trigger decimal.Decimal) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideBuy, Type: wire.OrderTypeStop, Qty: qty, Trigger: trigger})
}

// SellStop places a stop sell triggered at trigger.
func (c *Client) SellStop(ctx context.Context, symbol string, qty int64, trigger decimal.Decimal) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideSell, Type: wire.OrderTypeStop, Qty: qty, Trigger: trigger})
}

// BuyTrailingStop places a trailing stop buy with the given distance.
func (c *Client) BuyTrailingStop(ctx context.Context, symbol string, qty int64, trigger decimal.Decimal) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideBuy, Type: wire.OrderTypeTrailingStop, Qty: qty, Trigger: trigger})
}

// SellTrailingStop places a trailing stop sell with the given distance.
func (c *Client) SellTrailingStop(ctx context.Context, symbol string, qty int64, trigger decimal.Decimal) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideSell, Type: wire.OrderTypeTrailingStop, Qty: qty, Trigger: trigger})
}

// BuyIceberg places an iceberg buy at the given limit price.
func (c *Client) BuyIceberg(ctx context.Context, symbol string, qty int64, price decimal.Decimal) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideBuy, Type: wire.OrderTypeIceberg, Qty: qty, Price: price})
}

// SellIceberg places an iceberg sell at the given limit price.
func (c *Client) SellIceberg(ctx context.Context, symbol string, qty int64, price decimal.Decimal) (OrderResult, error) {
	return c.PlaceOrder(ctx, OrderSpec{Symbol: symbol, Side: wire.SideSell, Type: wire.OrderTypeIceberg, Qty: qty, Price: price})
}

// CancelOrder revokes one resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (OrderResult, error) {
	c.count("cancel")
	rec, err := c.be.cancel(ctx, orderID)
	if err != nil {
		return OrderResult{}, err
	}
	observ.Log("order_cancelled", map[string]any{"order_id": orderID})
	return orderResultFromRecord(rec), nil
}

// CancelAll revokes every resting order, or only those on symbol when it is
// non-empty. Returns one result per cancelled order.
func (c *Client) CancelAll(ctx context.Context, symbol string) ([]OrderResult, error) {
	c.count("cancel_all")
	recs, err := c.be.cancelAll(ctx, symbol)
	if err != nil {
		return nil, err
	}
	results := make([]OrderResult, 0, len(recs))
	for _, rec := range recs {
		results = append(results, orderResultFromRecord(rec))
	}
	observ.Log("orders_cancelled_all", map[string]any{"symbol": symbol, "count": len(results)})
	return results, nil
}

// ModifyOrder reprices a resting order. A zero trigger leaves the trigger
// untouched.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, price, trigger decimal.Decimal) (OrderResult, error) {
	c.count("modify")
	rec, err := c.be.modify(ctx, orderID, price, trigger)
	if err != nil {
		return OrderResult{}, err
	}
	observ.Log("order_modified", map[string]any{"order_id": orderID, "price": price.String()})
	return orderResultFromRecord(rec), nil
}

// ConfirmOrder answers the platform's confirmation gate for one order.
func (c *Client) ConfirmOrder(ctx context.Context, orderID string) (OrderResult, error) {
	c.count("confirm")
	rec, err := c.be.confirm(ctx, orderID)
	if err != nil {
		return OrderResult{}, err
	}
	return orderResultFromRecord(rec), nil
}

// SimulateOrderExecution fills a resting order in the simulation, at price
// for qty shares; zero qty fills the remainder, zero price uses the order's
// limit. Live sessions cannot fabricate fills and get a ValidationError.
func (c *Client) SimulateOrderExecution(ctx context.Context, orderID string, price decimal.Decimal, qty int64) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	eng := c.Sim()
	if eng == nil {
		return OrderResult{}, &wire.ValidationError{Field: "mode", Reason: "fills can only be simulated in sim mode"}
	}
	c.count("simulate_execution")
	rec, err := eng.Fill(orderID, price, qty)
	if err != nil {
		return OrderResult{}, normalizeOrderErr(err, orderID)
	}
	return orderResultFromRecord(rec), nil
}

// SubscribeOrderUpdates registers fn for unsolicited order events: fills,
// status moves and rejections the platform pushes outside any call.
// Delivery is sequential; fn must not block. Returns a cancel func.
func (c *Client) SubscribeOrderUpdates(fn func(OrderUpdate)) func() {
	kinds := []wire.Kind{wire.KindOrder, wire.KindTradOK, wire.KindTradErr}
	return c.be.subscribe(kinds, func(rec wire.Record) {
		observ.IncCounter("trading_updates_total", map[string]string{"kind": string(rec.Kind())})
		fn(updateFromRecord(rec))
	})
}
