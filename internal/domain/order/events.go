package order

import "time"

// OrderPaidEvent is emitted once, when a verified callback first confirms an order.
type OrderPaidEvent struct {
	OrderID    string
	Reference  string
	Number     string
	PaymentRef string
	Total      int64
	OccurredAt time.Time
}

func (OrderPaidEvent) EventName() string { return "order.paid" }

func NewOrderPaidEvent(o *Order) OrderPaidEvent {
	return OrderPaidEvent{
		OrderID:    o.ID,
		Reference:  o.Reference,
		Number:     o.Number,
		PaymentRef: o.PaymentRef,
		Total:      o.Total(),
		OccurredAt: time.Now().UTC(),
	}
}

// ReconciliationRequiredEvent is emitted when a paid order could not have all
// of its stock adjusted and needs an operator.
type ReconciliationRequiredEvent struct {
	OrderID    string
	Reference  string
	Issues     []ReconciliationIssue
	OccurredAt time.Time
}

func (ReconciliationRequiredEvent) EventName() string { return "order.reconciliation_required" }

func NewReconciliationRequiredEvent(o *Order, issues []ReconciliationIssue) ReconciliationRequiredEvent {
	return ReconciliationRequiredEvent{
		OrderID:    o.ID,
		Reference:  o.Reference,
		Issues:     append([]ReconciliationIssue(nil), issues...),
		OccurredAt: time.Now().UTC(),
	}
}

func (e OrderPaidEvent) EventKey() string              { return e.Reference }
func (e ReconciliationRequiredEvent) EventKey() string { return e.Reference }

func (e OrderPaidEvent) EventOrderID() string              { return e.OrderID }
func (e ReconciliationRequiredEvent) EventOrderID() string { return e.OrderID }
