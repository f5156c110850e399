// Package sim is an in-process stand-in for the Darwin platform. It keeps a
// simulated account, position ledger and order book, answers the same
// queries the daemon answers and emits the same records, so client code runs
// unchanged against it. Fills never happen on their own; tests and demos
// drive them through Fill.
package sim

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NiccoloSalvini/directa-api-go/internal/observ"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// Config seeds the simulated account.
type Config struct {
	Account        string  `yaml:"account"`
	Liquidity      float64 `yaml:"liquidity"`
	RequireConfirm bool    `yaml:"require_confirm"`
}

func (c Config) withDefaults() Config {
	if c.Account == "" {
		c.Account = "SIM1234"
	}
	if c.Liquidity == 0 {
		c.Liquidity = 10000
	}
	return c
}

// Reference tokens the engine stamps into the ref field of its TRADOK
// records, one per operation family.
const (
	refPlace  = "SIMREF001"
	refCancel = "SIMREF002"
	refModify = "SIMREF003"
	refFill   = "SIMREF004"
)

type order struct {
	seq     int
	id      string
	symbol  string
	side    wire.Side
	typ     wire.OrderType
	qty     int64
	price   decimal.Decimal
	trigger decimal.Decimal
	status  wire.OrderStatus
	filled  int64
	avgFill decimal.Decimal
	placed  time.Time
}

func (o *order) remaining() int64 { return o.qty - o.filled }

type position struct {
	qty      int64
	avgPrice decimal.Decimal
	realized decimal.Decimal
	lastAt   time.Time
}

// Engine is the simulated platform. Safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	account   string
	liquidity decimal.Decimal
	realized  decimal.Decimal
	positions map[string]*position
	orders    map[string]*order
	seq       int
	now       func() time.Time

	subs    map[int]func(wire.Record)
	nextSub int
}

func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		account:   cfg.Account,
		liquidity: decimal.NewFromFloat(cfg.Liquidity),
		positions: make(map[string]*position),
		orders:    make(map[string]*order),
		now:       time.Now,
		subs:      make(map[int]func(wire.Record)),
	}
}

// Subscribe registers fn for records the engine pushes on its own, which is
// the ORDER and TRADOK pair emitted by every fill. Returns a cancel func.
func (e *Engine) Subscribe(fn func(wire.Record)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) subscribersLocked() []func(wire.Record) {
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(wire.Record), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.subs[id])
	}
	return fns
}

// Status reports the simulated platform as connected.
func (e *Engine) Status() wire.Record {
	return wire.MustBuild(wire.KindDarwinStatus, map[string]string{
		"connection":  "CONN_OK",
		"application": "TRUE",
		"notes":       "SIMULATED",
	})
}

// AccountInfo reports the simulated account. Equity is cash plus the book
// value of open positions; there is no market feed, so open P&L stays zero.
func (e *Engine) AccountInfo() wire.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	equity := e.liquidity
	for _, p := range e.positions {
		equity = equity.Add(p.avgPrice.Mul(decimal.NewFromInt(p.qty)))
	}
	return wire.MustBuild(wire.KindAccountInfo, map[string]string{
		"time":         e.now().Format(wire.TimeOfDayLayout),
		"account":      e.account,
		"liquidity":    e.liquidity.String(),
		"gain":         e.realized.String(),
		"open_pl":      "0",
		"equity":       equity.String(),
		"account_kind": "SIM",
	})
}

// Availability reports spendable cash. The simulated account has no margin.
func (e *Engine) Availability() wire.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return wire.MustBuild(wire.KindAvailability, map[string]string{
		"time":          e.now().Format(wire.TimeOfDayLayout),
		"cash":          e.liquidity.String(),
		"cash_leverage": e.liquidity.String(),
		"margin":        "0",
	})
}

// Portfolio returns one STOCK record per open position, sorted by symbol.
func (e *Engine) Portfolio() []wire.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	symbols := make([]string, 0, len(e.positions))
	for sym, p := range e.positions {
		if p.qty != 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	recs := make([]wire.Record, 0, len(symbols))
	for _, sym := range symbols {
		recs = append(recs, e.stockRecordLocked(sym, e.positions[sym]))
	}
	return recs
}

// Position returns the STOCK record for one symbol, reporting whether an
// open position exists.
func (e *Engine) Position(symbol string) (wire.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[symbol]
	if !ok || p.qty == 0 {
		return wire.Record{}, false
	}
	return e.stockRecordLocked(symbol, p), true
}

func (e *Engine) stockRecordLocked(symbol string, p *position) wire.Record {
	at := p.lastAt
	if at.IsZero() {
		at = e.now()
	}
	qty := fmt.Sprintf("%d", p.qty)
	return wire.MustBuild(wire.KindStock, map[string]string{
		"symbol":        symbol,
		"time":          at.Format(wire.TimeOfDayLayout),
		"qty_portfolio": qty,
		"qty_trading":   qty,
		"qty_broker":    qty,
		"avg_price":     p.avgPrice.String(),
		"gain":          p.realized.String(),
	})
}

// Orders returns ORDER records in placement order, optionally only
// non-terminal ones, optionally only for one symbol.
func (e *Engine) Orders(pendingOnly bool, symbol string) []wire.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := make([]*order, 0, len(e.orders))
	for _, o := range e.orders {
		if pendingOnly && o.status.Terminal() {
			continue
		}
		if symbol != "" && o.symbol != symbol {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	recs := make([]wire.Record, 0, len(all))
	for _, o := range all {
		recs = append(recs, e.orderRecordLocked(o))
	}
	return recs
}

func (e *Engine) orderRecordLocked(o *order) wire.Record {
	return wire.MustBuild(wire.KindOrder, map[string]string{
		"symbol":   o.symbol,
		"time":     o.placed.Format(wire.TimeOfDayLayout),
		"order_id": o.id,
		"side":     o.side.Token(),
		"price":    o.price.String(),
		"trigger":  o.trigger.String(),
		"qty":      fmt.Sprintf("%d", o.qty),
		"status":   o.status.Token(),
	})
}

// Place accepts a new order. The command is validated exactly as the live
// wire path validates it; business rejections come back as a TRADERR record
// with a nil error, mirroring what the daemon would send.
func (e *Engine) Place(req wire.OrderRequest) (wire.Record, error) {
	echo, err := wire.Encode(req)
	if err != nil {
		return wire.Record{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := req.Ref
	if id == "" {
		id = fmt.Sprintf("SIM%04d", e.seq+1)
	}
	if _, exists := e.orders[id]; exists {
		observ.IncCounter("sim_rejects_total", map[string]string{"code": "1005"})
		return e.tradErrLocked(req.Symbol, id, req.Side, 1005), nil
	}

	// Priced buys must fit in cash up front. Market and stop buys have no
	// price yet, so their cost is only known at fill time.
	if req.Side == wire.SideBuy && req.Price.Sign() > 0 {
		cost := req.Price.Mul(decimal.NewFromInt(req.Qty))
		if cost.GreaterThan(e.liquidity) {
			observ.IncCounter("sim_rejects_total", map[string]string{"code": "1001"})
			return e.tradErrLocked(req.Symbol, id, req.Side, 1001), nil
		}
	}

	e.seq++
	o := &order{
		seq:     e.seq,
		id:      id,
		symbol:  req.Symbol,
		side:    req.Side,
		typ:     req.Type,
		qty:     req.Qty,
		price:   req.Price,
		trigger: req.Trigger,
		status:  wire.StatusPending,
		placed:  e.now(),
	}
	kind := wire.KindTradOK
	statusToken := wire.StatusSent.Token()
	if e.cfg.RequireConfirm {
		o.status = wire.StatusConfirmRequired
		kind = wire.KindTradConfirm
		statusToken = wire.StatusConfirmRequired.Token()
	}
	e.orders[id] = o
	observ.IncCounter("sim_orders_placed_total", map[string]string{"symbol": o.symbol})

	return wire.MustBuild(kind, map[string]string{
		"symbol":        o.symbol,
		"order_id":      o.id,
		"status":        statusToken,
		"side":          o.side.Token(),
		"qty":           fmt.Sprintf("%d", o.qty),
		"price":         o.price.String(),
		"trigger":       o.trigger.String(),
		"filled_qty":    "0",
		"remaining_qty": fmt.Sprintf("%d", o.qty),
		"ref":           refPlace,
		"echo":          echo,
	}), nil
}

func (e *Engine) tradErrLocked(symbol, id string, side wire.Side, code int) wire.Record {
	return wire.MustBuild(wire.KindTradErr, map[string]string{
		"symbol":   symbol,
		"order_id": id,
		"side":     side.Token(),
		"code":     fmt.Sprintf("%d", code),
		"message":  wire.ErrorMessage(code),
	})
}

// Cancel revokes a resting order.
func (e *Engine) Cancel(orderID string) (wire.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return wire.Record{}, &OrderNotFoundError{OrderID: orderID}
	}
	if o.status.Terminal() {
		return wire.Record{}, &InvalidStateError{OrderID: orderID, From: o.status, Op: "cancel"}
	}
	o.status = wire.StatusCancelled
	observ.IncCounter("sim_orders_cancelled_total", map[string]string{"symbol": o.symbol})
	return e.cancelRecordLocked(o), nil
}

func (e *Engine) cancelRecordLocked(o *order) wire.Record {
	return wire.MustBuild(wire.KindTradOK, map[string]string{
		"symbol":        o.symbol,
		"order_id":      o.id,
		"status":        wire.StatusCancelled.Token(),
		"side":          "CANCEL",
		"qty":           "0",
		"price":         "0",
		"trigger":       "0",
		"filled_qty":    "0",
		"remaining_qty": "0",
		"ref":           refCancel,
		"echo":          "REVORD " + o.id,
	})
}

// CancelAll revokes every resting order, filtered to one symbol when given.
// Returns one TRADOK per cancelled order, oldest first.
func (e *Engine) CancelAll(symbol string) []wire.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	open := make([]*order, 0, len(e.orders))
	for _, o := range e.orders {
		if o.status.Terminal() {
			continue
		}
		if symbol != "" && o.symbol != symbol {
			continue
		}
		open = append(open, o)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].seq < open[j].seq })
	recs := make([]wire.Record, 0, len(open))
	for _, o := range open {
		o.status = wire.StatusCancelled
		observ.IncCounter("sim_orders_cancelled_total", map[string]string{"symbol": o.symbol})
		recs = append(recs, e.cancelRecordLocked(o))
	}
	return recs
}

// Modify reprices a resting order. Only pending and partially filled orders
// can move; a zero trigger leaves the trigger alone.
func (e *Engine) Modify(orderID string, price, trigger decimal.Decimal) (wire.Record, error) {
	if price.Sign() <= 0 {
		return wire.Record{}, &wire.ValidationError{Field: "price", Reason: "must be positive"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return wire.Record{}, &OrderNotFoundError{OrderID: orderID}
	}
	if o.status != wire.StatusPending && o.status != wire.StatusPartiallyFilled {
		return wire.Record{}, &InvalidStateError{OrderID: orderID, From: o.status, Op: "modify"}
	}
	o.price = price
	echo := fmt.Sprintf("MODORD %s,%s", o.id, price.String())
	if trigger.Sign() > 0 {
		o.trigger = trigger
		echo = fmt.Sprintf("MODORD %s,%s,%s", o.id, price.String(), trigger.String())
	}
	return wire.MustBuild(wire.KindTradOK, map[string]string{
		"symbol":        o.symbol,
		"order_id":      o.id,
		"status":        wire.StatusSent.Token(),
		"side":          o.side.Token(),
		"qty":           fmt.Sprintf("%d", o.qty),
		"price":         o.price.String(),
		"trigger":       o.trigger.String(),
		"filled_qty":    fmt.Sprintf("%d", o.filled),
		"remaining_qty": fmt.Sprintf("%d", o.remaining()),
		"ref":           refModify,
		"echo":          echo,
	}), nil
}

// Confirm releases an order parked by the confirmation gate.
func (e *Engine) Confirm(orderID string) (wire.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return wire.Record{}, &OrderNotFoundError{OrderID: orderID}
	}
	if o.status != wire.StatusConfirmRequired {
		return wire.Record{}, &InvalidStateError{OrderID: orderID, From: o.status, Op: "confirm"}
	}
	o.status = wire.StatusPending
	return wire.MustBuild(wire.KindTradOK, map[string]string{
		"symbol":        o.symbol,
		"order_id":      o.id,
		"status":        wire.StatusSent.Token(),
		"side":          o.side.Token(),
		"qty":           fmt.Sprintf("%d", o.qty),
		"price":         o.price.String(),
		"trigger":       o.trigger.String(),
		"filled_qty":    "0",
		"remaining_qty": fmt.Sprintf("%d", o.qty),
		"ref":           refPlace,
		"echo":          "CONFORD " + o.id,
	}), nil
}

// Fill executes qty shares of a resting order at price, updating the
// position ledger and cash. A zero qty fills the remainder; a zero price
// falls back to the order's limit price. The resulting ORDER and TRADOK
// records go out to subscribers, the TRADOK also comes back to the caller.
func (e *Engine) Fill(orderID string, price decimal.Decimal, qty int64) (wire.Record, error) {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return wire.Record{}, &OrderNotFoundError{OrderID: orderID}
	}
	if o.status != wire.StatusPending && o.status != wire.StatusPartiallyFilled {
		from := o.status
		e.mu.Unlock()
		return wire.Record{}, &InvalidStateError{OrderID: orderID, From: from, Op: "fill"}
	}
	if qty == 0 {
		qty = o.remaining()
	}
	if qty < 0 || qty > o.remaining() {
		e.mu.Unlock()
		return wire.Record{}, &wire.ValidationError{Field: "qty", Reason: "exceeds remaining quantity"}
	}
	if price.Sign() == 0 {
		price = o.price
	}
	if price.Sign() <= 0 {
		e.mu.Unlock()
		return wire.Record{}, &wire.ValidationError{Field: "price", Reason: "execution price required for this order"}
	}

	// Weighted average across partial fills.
	total := o.avgFill.Mul(decimal.NewFromInt(o.filled)).Add(price.Mul(decimal.NewFromInt(qty)))
	o.filled += qty
	o.avgFill = total.Div(decimal.NewFromInt(o.filled))
	if o.filled == o.qty {
		o.status = wire.StatusFilled
	} else {
		o.status = wire.StatusPartiallyFilled
	}

	e.applyFillLocked(o.symbol, o.side, qty, price)

	orderRec := e.orderRecordLocked(o)
	tradRec := wire.MustBuild(wire.KindTradOK, map[string]string{
		"symbol":        o.symbol,
		"order_id":      o.id,
		"status":        o.status.Token(),
		"side":          o.side.Token(),
		"qty":           fmt.Sprintf("%d", o.qty),
		"price":         price.String(),
		"trigger":       o.trigger.String(),
		"filled_qty":    fmt.Sprintf("%d", o.filled),
		"remaining_qty": fmt.Sprintf("%d", o.remaining()),
		"ref":           refFill,
	})
	fns := e.subscribersLocked()
	observ.IncCounter("sim_fills_total", map[string]string{"symbol": o.symbol})
	e.mu.Unlock()

	for _, fn := range fns {
		fn(orderRec)
		fn(tradRec)
	}
	return tradRec, nil
}

// applyFillLocked moves the ledger for one execution. Buys cost cash, sells
// raise it. Crossing through zero realizes the closing leg at the old
// average and opens the remainder at the fill price.
func (e *Engine) applyFillLocked(symbol string, side wire.Side, qty int64, price decimal.Decimal) {
	signed := qty
	if side == wire.SideSell {
		signed = -qty
	}
	e.liquidity = e.liquidity.Sub(price.Mul(decimal.NewFromInt(signed)))

	p := e.positions[symbol]
	if p == nil {
		p = &position{}
		e.positions[symbol] = p
	}
	switch {
	case p.qty == 0:
		p.qty = signed
		p.avgPrice = price
	case (p.qty > 0) == (signed > 0):
		total := p.avgPrice.Mul(decimal.NewFromInt(p.qty)).Add(price.Mul(decimal.NewFromInt(signed)))
		p.qty += signed
		p.avgPrice = total.Div(decimal.NewFromInt(p.qty))
	case absInt64(signed) >= absInt64(p.qty):
		realized := price.Sub(p.avgPrice).Mul(decimal.NewFromInt(p.qty))
		p.realized = p.realized.Add(realized)
		e.realized = e.realized.Add(realized)
		p.qty += signed
		if p.qty != 0 {
			p.avgPrice = price
		} else {
			p.avgPrice = decimal.Zero
		}
	default:
		realized := price.Sub(p.avgPrice).Mul(decimal.NewFromInt(-signed))
		p.realized = p.realized.Add(realized)
		e.realized = e.realized.Add(realized)
		p.qty += signed
	}
	p.lastAt = e.now()
}

func absInt64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// AddPosition seeds or replaces a position, for setting up scenarios.
func (e *Engine) AddPosition(symbol string, qty int64, avgPrice decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[symbol] = &position{qty: qty, avgPrice: avgPrice, lastAt: e.now()}
}

// RemovePosition drops a position without touching cash.
func (e *Engine) RemovePosition(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.positions, symbol)
}

// SetAccount resets the account code and spendable cash together.
func (e *Engine) SetAccount(account string, liquidity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account = account
	e.liquidity = liquidity
}

// SetLiquidity resets spendable cash.
func (e *Engine) SetLiquidity(liquidity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.liquidity = liquidity
}

// Liquidity returns current spendable cash.
func (e *Engine) Liquidity() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liquidity
}
