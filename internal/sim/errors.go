package sim

import (
	"fmt"

	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// OrderNotFoundError reports an operation against an order id the engine
// never saw or has discarded.
type OrderNotFoundError struct {
	OrderID string
}

func (e *OrderNotFoundError) Error() string {
	return "order " + e.OrderID + " not found"
}

// InvalidStateError reports an operation an order's lifecycle state does not
// allow, like cancelling a filled order.
type InvalidStateError struct {
	OrderID string
	From    wire.OrderStatus
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s order %s in state %s", e.Op, e.OrderID, e.From)
}
