package trading

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/NiccoloSalvini/directa-api-go/internal/session"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// PlatformStatus is the decoded DARWIN_STATUS banner plus, for live
// sessions, a snapshot of connection health.
type PlatformStatus struct {
	Connection string // CONN_OK, CONN_SLOW, CONN_TROUBLE
	Datafeed   bool
	Notes      string
	Simulated  bool
	Session    session.Metrics
}

// ConnectionOK reports whether the platform says its own upstream link is
// healthy.
func (s PlatformStatus) ConnectionOK() bool {
	return s.Connection == "CONN_OK"
}

// AccountInfo is the decoded INFOACCOUNT record.
type AccountInfo struct {
	Time         string
	Account      string
	Liquidity    decimal.Decimal
	RealizedGain decimal.Decimal
	OpenPL       decimal.Decimal
	Equity       decimal.Decimal
	Kind         string
}

// Availability is the decoded AVAILABILITY record.
type Availability struct {
	Time         string
	Cash         decimal.Decimal
	CashLeverage decimal.Decimal
	Margin       decimal.Decimal
	MaxLeverage  decimal.Decimal
}

// Position is the decoded STOCK record for one symbol.
type Position struct {
	Symbol       string
	Time         string
	QtyPortfolio int64
	QtyTrading   int64
	QtyBroker    int64
	AvgPrice     decimal.Decimal
	Gain         decimal.Decimal
}

// Order is one decoded ORDER record.
type Order struct {
	Symbol  string
	Time    string
	ID      string
	Side    wire.Side
	Price   decimal.Decimal
	Trigger decimal.Decimal
	Qty     int64
	Status  wire.OrderStatus
}

// Rejection carries the platform's reason for refusing an order.
type Rejection struct {
	Code    int
	Message string
}

// OrderResult is the platform's answer to an order operation: a TRADOK or
// TRADCONFIRM ack, or a TRADERR rejection. Rejections are results, not
// errors; Rejection is set and Status is StatusRejected.
type OrderResult struct {
	OrderID   string
	Symbol    string
	Status    wire.OrderStatus
	Side      wire.Side
	Qty       int64
	Price     decimal.Decimal
	Trigger   decimal.Decimal
	Filled    int64
	Remaining int64
	Ref       string
	Echo      string
	Rejection *Rejection
}

// Rejected reports whether the platform refused the operation.
func (r OrderResult) Rejected() bool { return r.Rejection != nil }

// OrderUpdate is one unsolicited order event, flattened from the ORDER and
// TRADOK records the platform pushes as orders move.
type OrderUpdate struct {
	At        time.Time
	OrderID   string
	Symbol    string
	Status    wire.OrderStatus
	Side      wire.Side
	Qty       int64
	Filled    int64
	Remaining int64
	Price     decimal.Decimal
	Source    wire.Kind
}

func statusFromRecord(rec wire.Record) PlatformStatus {
	return PlatformStatus{
		Connection: rec.Str("connection"),
		Datafeed:   rec.Str("application") == "TRUE",
		Notes:      rec.Str("notes"),
		Simulated:  rec.Str("notes") == "SIMULATED",
	}
}

func accountFromRecord(rec wire.Record) AccountInfo {
	return AccountInfo{
		Time:         rec.Str("time"),
		Account:      rec.Str("account"),
		Liquidity:    rec.Dec("liquidity"),
		RealizedGain: rec.Dec("gain"),
		OpenPL:       rec.Dec("open_pl"),
		Equity:       rec.Dec("equity"),
		Kind:         rec.Str("account_kind"),
	}
}

func availabilityFromRecord(rec wire.Record) Availability {
	return Availability{
		Time:         rec.Str("time"),
		Cash:         rec.Dec("cash"),
		CashLeverage: rec.Dec("cash_leverage"),
		Margin:       rec.Dec("margin"),
		MaxLeverage:  rec.Dec("max_leverage"),
	}
}

func positionFromRecord(rec wire.Record) Position {
	return Position{
		Symbol:       rec.Str("symbol"),
		Time:         rec.Str("time"),
		QtyPortfolio: rec.Int("qty_portfolio"),
		QtyTrading:   rec.Int("qty_trading"),
		QtyBroker:    rec.Int("qty_broker"),
		AvgPrice:     rec.Dec("avg_price"),
		Gain:         rec.Dec("gain"),
	}
}

func orderFromRecord(rec wire.Record) Order {
	return Order{
		Symbol:  rec.Str("symbol"),
		Time:    rec.Str("time"),
		ID:      rec.Str("order_id"),
		Side:    wire.SideFromWire(rec.Str("side")),
		Price:   rec.Dec("price"),
		Trigger: rec.Dec("trigger"),
		Qty:     rec.Int("qty"),
		Status:  wire.StatusFromWire(rec.Str("status")),
	}
}

func orderResultFromRecord(rec wire.Record) OrderResult {
	switch rec.Kind() {
	case wire.KindTradErr:
		code := int(rec.Int("code"))
		msg := rec.Str("message")
		if msg == "" {
			msg = wire.ErrorMessage(code)
		}
		return OrderResult{
			OrderID:   rec.Str("order_id"),
			Symbol:    rec.Str("symbol"),
			Status:    wire.StatusRejected,
			Side:      wire.SideFromWire(rec.Str("side")),
			Rejection: &Rejection{Code: code, Message: msg},
		}
	default: // TRADOK, TRADCONFIRM
		return OrderResult{
			OrderID:   rec.Str("order_id"),
			Symbol:    rec.Str("symbol"),
			Status:    wire.StatusFromWire(rec.Str("status")),
			Side:      wire.SideFromWire(rec.Str("side")),
			Qty:       rec.Int("qty"),
			Price:     rec.Dec("price"),
			Trigger:   rec.Dec("trigger"),
			Filled:    rec.Int("filled_qty"),
			Remaining: rec.Int("remaining_qty"),
			Ref:       rec.Str("ref"),
			Echo:      rec.Str("echo"),
		}
	}
}

func updateFromRecord(rec wire.Record) OrderUpdate {
	u := OrderUpdate{
		At:      time.Now(),
		OrderID: rec.Str("order_id"),
		Symbol:  rec.Str("symbol"),
		Status:  wire.StatusFromWire(rec.Str("status")),
		Side:    wire.SideFromWire(rec.Str("side")),
		Qty:     rec.Int("qty"),
		Price:   rec.Dec("price"),
		Source:  rec.Kind(),
	}
	if rec.Kind() == wire.KindTradOK {
		u.Filled = rec.Int("filled_qty")
		u.Remaining = rec.Int("remaining_qty")
	}
	return u
}
