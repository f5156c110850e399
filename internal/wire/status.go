package wire

import (
	"strconv"
	"strings"
)

// Side of an order.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	}
	return "unknown"
}

// Token returns the daemon's wire spelling.
func (s Side) Token() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	}
	return ""
}

// SideFromWire maps a wire field to a Side. Anything else (including the
// CANCEL marker in cancellation acks) maps to SideUnknown.
func SideFromWire(v string) Side {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY", "ACQ":
		return SideBuy
	case "SELL", "VEN":
		return SideSell
	}
	return SideUnknown
}

// OrderType selects the daemon verb pair used to place an order.
type OrderType uint8

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypeStop
	OrderTypeTrailingStop
	OrderTypeIceberg
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	case OrderTypeStop:
		return "stop"
	case OrderTypeTrailingStop:
		return "trailing_stop"
	case OrderTypeIceberg:
		return "iceberg"
	}
	return "unknown"
}

// OrderStatus is the lifecycle state of an order as reported on the wire.
type OrderStatus uint8

const (
	StatusUnknown OrderStatus = iota
	StatusPending
	StatusSent
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
	StatusConfirmRequired
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusRejected:
		return "rejected"
	case StatusConfirmRequired:
		return "confirm_required"
	}
	return "unknown"
}

// Token returns the daemon's wire spelling of the status.
func (s OrderStatus) Token() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSent:
		return "SENT"
	case StatusPartiallyFilled:
		return "PARTFILL"
	case StatusFilled:
		return "EXECUTED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	case StatusConfirmRequired:
		return "CONFIRM"
	}
	return ""
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// OrderStatusCodes maps the daemon's numeric status codes to statuses.
// 2000-series codes are in flight, 3000-series are terminal.
var OrderStatusCodes = map[int]OrderStatus{
	2000: StatusPending,
	2001: StatusSent,
	2002: StatusConfirmRequired,
	2005: StatusPartiallyFilled,
	3001: StatusFilled,
	3002: StatusCancelled,
	3003: StatusRejected,
}

// StatusFromWire maps a status field, token or numeric, to an OrderStatus.
func StatusFromWire(v string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "PENDING":
		return StatusPending
	case "SENT":
		return StatusSent
	case "PARTFILL", "PARTIAL":
		return StatusPartiallyFilled
	case "EXECUTED", "FILLED":
		return StatusFilled
	case "CANCELLED", "REVOKED":
		return StatusCancelled
	case "REJECTED":
		return StatusRejected
	case "CONFIRM":
		return StatusConfirmRequired
	}
	if code, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		if s, ok := OrderStatusCodes[code]; ok {
			return s
		}
	}
	return StatusUnknown
}

// Daemon error codes callers branch on. The benign ones mean "empty
// result", not failure.
const (
	CodeEmptyPortfolio      = 1018
	CodeNoOrders            = 1019
	CodeOrderNotFound       = 1020
	CodeOrderNotCancellable = 1021
	CodeNoData              = 1022
	CodeFlatPosition        = 1024
)

// ErrorCodes is the closed table of daemon error codes.
var ErrorCodes = map[int]string{
	0:    "generic error",
	1000: "market closed",
	1001: "insufficient liquidity",
	1002: "symbol not tradable",
	1003: "quantity over limit",
	1004: "order value over limit",
	1005: "duplicate order ref",
	1006: "invalid price tick",
	1007: "price outside allowed band",
	1010: "unknown command",
	1011: "malformed command arguments",
	1018: "empty portfolio",
	1019: "no orders",
	1020: "order not found",
	1021: "order not cancellable",
	1022: "no data for range",
	1024: "flat position",
	1030: "confirmation required",
}

// ErrorMessage returns the text for a daemon error code.
func ErrorMessage(code int) string {
	if msg, ok := ErrorCodes[code]; ok {
		return msg
	}
	return "unknown error code " + strconv.Itoa(code)
}

// EmptyResultCode reports codes that stand in for an empty collection.
func EmptyResultCode(code int) bool {
	return code == CodeEmptyPortfolio || code == CodeNoOrders || code == CodeNoData
}
