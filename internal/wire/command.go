package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Layouts for dates and times as they appear on the wire.
const (
	TimeOfDayLayout = "15:04:05" // trading records
	DateLayout      = "20060102" // historical records
	TimeLayout      = "150405"
	TimestampLayout = "20060102150405" // range query bounds
)

// Command is a request the client can put on the wire. The concrete types in
// this package form a closed set; Encode validates every parameter before
// any I/O happens.
type Command interface {
	encode() (string, error)
}

// Encode renders a command to its wire line, without the trailing newline.
func Encode(c Command) (string, error) {
	return c.encode()
}

// StatusQuery asks the platform for its connection and application status.
type StatusQuery struct{}

func (StatusQuery) encode() (string, error) { return "DARWINSTATUS", nil }

// AccountQuery asks for the account snapshot.
type AccountQuery struct{}

func (AccountQuery) encode() (string, error) { return "INFOACCOUNT", nil }

// AvailabilityQuery asks for buying power and margin availability.
type AvailabilityQuery struct{}

func (AvailabilityQuery) encode() (string, error) { return "INFOAVAILABILITY", nil }

// PortfolioQuery asks for all open positions.
type PortfolioQuery struct{}

func (PortfolioQuery) encode() (string, error) { return "INFOSTOCKS", nil }

// PositionQuery asks for the position on a single symbol.
type PositionQuery struct {
	Symbol string
}

func (q PositionQuery) encode() (string, error) {
	sym, err := normSymbol(q.Symbol)
	if err != nil {
		return "", err
	}
	return "GETPOSITION " + sym, nil
}

// OrdersQuery asks for the order table, optionally restricted to pending
// orders or to one symbol. The daemon has no combined form.
type OrdersQuery struct {
	Symbol      string
	PendingOnly bool
}

func (q OrdersQuery) encode() (string, error) {
	if q.PendingOnly {
		if q.Symbol != "" {
			return "", &ValidationError{Field: "symbol", Reason: "symbol filter not supported for pending orders"}
		}
		return "ORDERLISTPENDING", nil
	}
	if q.Symbol == "" {
		return "ORDERLIST", nil
	}
	sym, err := normSymbol(q.Symbol)
	if err != nil {
		return "", err
	}
	return "ORDERLIST " + sym, nil
}

// OrderRequest places a new order. Price is used by limit and iceberg
// orders, Trigger by stop and trailing stop orders; market orders carry
// neither.
type OrderRequest struct {
	Ref     string
	Symbol  string
	Side    Side
	Type    OrderType
	Qty     int64
	Price   decimal.Decimal
	Trigger decimal.Decimal
}

func (r OrderRequest) encode() (string, error) {
	ref, err := checkID("ref", r.Ref)
	if err != nil {
		return "", err
	}
	sym, err := normSymbol(r.Symbol)
	if err != nil {
		return "", err
	}
	if r.Qty <= 0 {
		return "", &ValidationError{Field: "qty", Reason: "must be positive"}
	}
	verb, err := orderVerb(r.Type, r.Side)
	if err != nil {
		return "", err
	}

	switch r.Type {
	case OrderTypeLimit, OrderTypeIceberg:
		if r.Price.Sign() <= 0 {
			return "", &ValidationError{Field: "price", Reason: "required for " + r.Type.String() + " orders"}
		}
		if r.Trigger.Sign() != 0 {
			return "", &ValidationError{Field: "trigger", Reason: "not allowed for " + r.Type.String() + " orders"}
		}
		return fmt.Sprintf("%s %s,%s,%d,%s", verb, ref, sym, r.Qty, r.Price.String()), nil
	case OrderTypeMarket:
		if r.Price.Sign() != 0 {
			return "", &ValidationError{Field: "price", Reason: "not allowed for market orders"}
		}
		if r.Trigger.Sign() != 0 {
			return "", &ValidationError{Field: "trigger", Reason: "not allowed for market orders"}
		}
		return fmt.Sprintf("%s %s,%s,%d", verb, ref, sym, r.Qty), nil
	default: // stop, trailing stop
		if r.Trigger.Sign() <= 0 {
			return "", &ValidationError{Field: "trigger", Reason: "required for " + r.Type.String() + " orders"}
		}
		if r.Price.Sign() != 0 {
			return "", &ValidationError{Field: "price", Reason: "not allowed for " + r.Type.String() + " orders"}
		}
		return fmt.Sprintf("%s %s,%s,%d,%s", verb, ref, sym, r.Qty, r.Trigger.String()), nil
	}
}

func orderVerb(t OrderType, s Side) (string, error) {
	var buy, sell string
	switch t {
	case OrderTypeLimit:
		buy, sell = "ACQAZ", "VENAZ"
	case OrderTypeMarket:
		buy, sell = "ACQMARKET", "VENMARKET"
	case OrderTypeStop:
		buy, sell = "ACQSTOP", "VENSTOP"
	case OrderTypeTrailingStop:
		buy, sell = "ACQTRAILING", "VENTRAILING"
	case OrderTypeIceberg:
		buy, sell = "ACQICE", "VENICE"
	default:
		return "", &ValidationError{Field: "type", Reason: "unknown order type"}
	}
	switch s {
	case SideBuy:
		return buy, nil
	case SideSell:
		return sell, nil
	}
	return "", &ValidationError{Field: "side", Reason: "must be buy or sell"}
}

// CancelRequest revokes one resting order.
type CancelRequest struct {
	OrderID string
}

func (r CancelRequest) encode() (string, error) {
	id, err := checkID("order_id", r.OrderID)
	if err != nil {
		return "", err
	}
	return "REVORD " + id, nil
}

// CancelAllRequest revokes every resting order on a symbol.
type CancelAllRequest struct {
	Symbol string
}

func (r CancelAllRequest) encode() (string, error) {
	sym, err := normSymbol(r.Symbol)
	if err != nil {
		return "", err
	}
	return "REVALL " + sym, nil
}

// ModifyRequest changes the price, and for stop orders the trigger, of a
// resting order. A zero Trigger leaves the trigger untouched.
type ModifyRequest struct {
	OrderID string
	Price   decimal.Decimal
	Trigger decimal.Decimal
}

func (r ModifyRequest) encode() (string, error) {
	id, err := checkID("order_id", r.OrderID)
	if err != nil {
		return "", err
	}
	if r.Price.Sign() <= 0 {
		return "", &ValidationError{Field: "price", Reason: "must be positive"}
	}
	if r.Trigger.Sign() < 0 {
		return "", &ValidationError{Field: "trigger", Reason: "must be positive"}
	}
	if r.Trigger.Sign() > 0 {
		return fmt.Sprintf("MODORD %s,%s,%s", id, r.Price.String(), r.Trigger.String()), nil
	}
	return fmt.Sprintf("MODORD %s,%s", id, r.Price.String()), nil
}

// ConfirmRequest confirms an order the daemon parked pending confirmation.
type ConfirmRequest struct {
	OrderID string
}

func (r ConfirmRequest) encode() (string, error) {
	id, err := checkID("order_id", r.OrderID)
	if err != nil {
		return "", err
	}
	return "CONFORD " + id, nil
}

// CandleQuery asks the historical port for candles going back a number of
// days. PeriodSec zero selects daily candles.
type CandleQuery struct {
	Symbol    string
	Days      int
	PeriodSec int
}

func (q CandleQuery) encode() (string, error) {
	sym, err := normSymbol(q.Symbol)
	if err != nil {
		return "", err
	}
	if q.Days <= 0 {
		return "", &ValidationError{Field: "days", Reason: "must be positive"}
	}
	if q.PeriodSec == 0 {
		return fmt.Sprintf("DAILYCANDLE %s %d", sym, q.Days), nil
	}
	if err := checkPeriod(q.PeriodSec); err != nil {
		return "", err
	}
	return fmt.Sprintf("CANDLE %s %d %d", sym, q.Days, q.PeriodSec), nil
}

// CandleRangeQuery asks for candles between two timestamps.
type CandleRangeQuery struct {
	Symbol    string
	From, To  time.Time
	PeriodSec int
}

func (q CandleRangeQuery) encode() (string, error) {
	sym, err := normSymbol(q.Symbol)
	if err != nil {
		return "", err
	}
	if err := checkRange(q.From, q.To); err != nil {
		return "", err
	}
	if err := checkPeriod(q.PeriodSec); err != nil {
		return "", err
	}
	return fmt.Sprintf("CANDLERANGE %s %s %s %d",
		sym, q.From.Format(TimestampLayout), q.To.Format(TimestampLayout), q.PeriodSec), nil
}

// TickQuery asks for tick-by-tick data going back a number of days.
type TickQuery struct {
	Symbol string
	Days   int
}

func (q TickQuery) encode() (string, error) {
	sym, err := normSymbol(q.Symbol)
	if err != nil {
		return "", err
	}
	if q.Days <= 0 {
		return "", &ValidationError{Field: "days", Reason: "must be positive"}
	}
	return fmt.Sprintf("TBT %s %d", sym, q.Days), nil
}

// TickRangeQuery asks for tick-by-tick data between two timestamps.
type TickRangeQuery struct {
	Symbol   string
	From, To time.Time
}

func (q TickRangeQuery) encode() (string, error) {
	sym, err := normSymbol(q.Symbol)
	if err != nil {
		return "", err
	}
	if err := checkRange(q.From, q.To); err != nil {
		return "", err
	}
	return fmt.Sprintf("TBTRANGE %s %s %s",
		sym, q.From.Format(TimestampLayout), q.To.Format(TimestampLayout)), nil
}

// AfterHoursVolume toggles whether candle volume includes after-hours trades.
type AfterHoursVolume struct {
	Enabled bool
}

func (q AfterHoursVolume) encode() (string, error) {
	if q.Enabled {
		return "VOLUMEAFTERHOURS ON", nil
	}
	return "VOLUMEAFTERHOURS OFF", nil
}

func normSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" {
		return "", &ValidationError{Field: "symbol", Reason: "empty"}
	}
	if strings.ContainsAny(sym, ";, ") {
		return "", &ValidationError{Field: "symbol", Reason: "contains separator characters"}
	}
	return sym, nil
}

func checkID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", &ValidationError{Field: field, Reason: "empty"}
	}
	if strings.ContainsAny(id, ";, ") {
		return "", &ValidationError{Field: field, Reason: "contains separator characters"}
	}
	return id, nil
}

func checkPeriod(sec int) error {
	if sec < 1 || sec > 86400 {
		return &ValidationError{Field: "period", Reason: "must be between 1 and 86400 seconds"}
	}
	return nil
}

func checkRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return &ValidationError{Field: "range", Reason: "from and to are required"}
	}
	if !from.Before(to) {
		return &ValidationError{Field: "range", Reason: "from must precede to"}
	}
	return nil
}
