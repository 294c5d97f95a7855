package order

// State implements the state pattern for the payment lifecycle of an order.
type State interface {
	Statuses() (PaymentStatus, FulfillmentStatus)
	OnPaymentConfirmed(o *Order) (State, error)
}

func stateOf(o *Order) State {
	switch {
	case o.PaymentStatus == PaymentPending && o.FulfillmentStatus == FulfillmentCreated:
		return awaitingPaymentState{}
	case o.PaymentStatus == PaymentPaid:
		return paidState{}
	default:
		return closedState{payment: o.PaymentStatus, fulfillment: o.FulfillmentStatus}
	}
}

type awaitingPaymentState struct{}

func (awaitingPaymentState) Statuses() (PaymentStatus, FulfillmentStatus) {
	return PaymentPending, FulfillmentCreated
}

func (awaitingPaymentState) OnPaymentConfirmed(*Order) (State, error) {
	return paidState{}, nil
}

type paidState struct{}

func (paidState) Statuses() (PaymentStatus, FulfillmentStatus) {
	return PaymentPaid, FulfillmentConfirmed
}

// Payment never reverses and is never applied twice.
func (paidState) OnPaymentConfirmed(*Order) (State, error) {
	return nil, ErrInvalidStateTransition
}

// closedState covers failed payments and cancelled orders.
type closedState struct {
	payment     PaymentStatus
	fulfillment FulfillmentStatus
}

func (s closedState) Statuses() (PaymentStatus, FulfillmentStatus) {
	return s.payment, s.fulfillment
}

func (closedState) OnPaymentConfirmed(*Order) (State, error) {
	return nil, ErrInvalidStateTransition
}
