package inventory

import "time"

const (
	FailureReasonNotFound          = "not_found"
	FailureReasonInsufficientStock = "insufficient_stock"
	FailureReasonInvalidQuantity   = "invalid_quantity"
	FailureReasonStoreUnavailable  = "store_unavailable"
)

// StockDecrementedEvent is emitted when a line item's stock was taken.
type StockDecrementedEvent struct {
	OrderID    string
	OrderRef   string
	ProductID  string
	Quantity   int
	Remaining  int
	OccurredAt time.Time
}

func (StockDecrementedEvent) EventName() string { return "inventory.stock_decremented" }

func NewStockDecrementedEvent(orderID, orderRef, productID string, quantity, remaining int) StockDecrementedEvent {
	return StockDecrementedEvent{
		OrderID:    orderID,
		OrderRef:   orderRef,
		ProductID:  productID,
		Quantity:   quantity,
		Remaining:  remaining,
		OccurredAt: time.Now().UTC(),
	}
}

// StockDecrementFailedEvent is emitted when a line item's stock could not be taken.
type StockDecrementFailedEvent struct {
	OrderID    string
	OrderRef   string
	ProductID  string
	Quantity   int
	Reason     string
	OccurredAt time.Time
}

func (StockDecrementFailedEvent) EventName() string { return "inventory.stock_decrement_failed" }

func NewStockDecrementFailedEvent(orderID, orderRef, productID string, quantity int, reason string) StockDecrementFailedEvent {
	return StockDecrementFailedEvent{
		OrderID:    orderID,
		OrderRef:   orderRef,
		ProductID:  productID,
		Quantity:   quantity,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// Stock events partition with the order they belong to.
func (e StockDecrementedEvent) EventKey() string     { return e.OrderRef }
func (e StockDecrementFailedEvent) EventKey() string { return e.OrderRef }

func (e StockDecrementedEvent) EventOrderID() string     { return e.OrderID }
func (e StockDecrementFailedEvent) EventOrderID() string { return e.OrderID }
