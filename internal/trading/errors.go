package trading

import (
	"errors"
	"fmt"

	"github.com/NiccoloSalvini/directa-api-go/internal/sim"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// RemoteError is the daemon's ERR answer to a call, carrying its scope and
// numeric code. Aliased so callers of this package never import wire.
type RemoteError = wire.RemoteError

// OrderNotFoundError reports an order id the platform does not know. Both
// the live daemon (error 1020) and the simulation surface as this type.
type OrderNotFoundError struct {
	OrderID string
}

func (e *OrderNotFoundError) Error() string {
	return "order " + e.OrderID + " not found"
}

// OrderStateError reports an operation the order's current state does not
// allow, like cancelling a filled order.
type OrderStateError struct {
	OrderID string
	Reason  string
}

func (e *OrderStateError) Error() string {
	return fmt.Sprintf("order %s: %s", e.OrderID, e.Reason)
}

// NoPositionError reports a position query on a symbol the account is flat
// on.
type NoPositionError struct {
	Symbol string
}

func (e *NoPositionError) Error() string {
	return "no open position in " + e.Symbol
}

// normalizeOrderErr folds the two backends' order failures into one
// taxonomy, so callers handle live and simulated sessions identically.
func normalizeOrderErr(err error, orderID string) error {
	if err == nil {
		return nil
	}
	var notFound *sim.OrderNotFoundError
	if errors.As(err, &notFound) {
		return &OrderNotFoundError{OrderID: notFound.OrderID}
	}
	var invalid *sim.InvalidStateError
	if errors.As(err, &invalid) {
		return &OrderStateError{OrderID: invalid.OrderID, Reason: fmt.Sprintf("cannot %s in state %s", invalid.Op, invalid.From)}
	}
	var remote *wire.RemoteError
	if errors.As(err, &remote) {
		switch remote.Code {
		case wire.CodeOrderNotFound:
			return &OrderNotFoundError{OrderID: orderID}
		case wire.CodeOrderNotCancellable:
			return &OrderStateError{OrderID: orderID, Reason: wire.ErrorMessage(remote.Code)}
		}
	}
	return err
}

// normalizePositionErr maps the daemon's flat-position codes to
// NoPositionError.
func normalizePositionErr(err error, symbol string) error {
	if err == nil {
		return nil
	}
	var remote *wire.RemoteError
	if errors.As(err, &remote) {
		switch remote.Code {
		case wire.CodeEmptyPortfolio, wire.CodeFlatPosition:
			return &NoPositionError{Symbol: symbol}
		}
	}
	return err
}
