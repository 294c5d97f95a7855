package order

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: concurrent modification")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrInvalidReference       = errors.New("order: reference is required")
	ErrNoItems                = errors.New("order: at least one line item is required")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrInvalidUnitPrice       = errors.New("order: unit price must be zero or greater")
	ErrInvalidProduct         = errors.New("order: product id is required")
	ErrMissingPaymentRef      = errors.New("order: payment reference is required")
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type FulfillmentStatus string

const (
	FulfillmentCreated   FulfillmentStatus = "created"
	FulfillmentConfirmed FulfillmentStatus = "confirmed"
	FulfillmentCancelled FulfillmentStatus = "cancelled"
)

// LineItem is embedded in an order; UnitPrice is fixed when the order is created.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// IssueStockPassIncomplete marks a paid order whose stock pass never
// recorded completion, so its line items may not have been decremented.
const IssueStockPassIncomplete = "stock_pass_incomplete"

// ReconciliationIssue describes one line item whose stock could not be adjusted
// after the payment was captured.
type ReconciliationIssue struct {
	ProductID string
	Quantity  int
	Reason    string
}

type Order struct {
	ID                  string
	Reference           string
	Number              string
	CustomerID          string
	PaymentStatus       PaymentStatus
	FulfillmentStatus   FulfillmentStatus
	Items               []LineItem
	PaymentRef          string
	Signature           string
	NeedsReconciliation bool
	Issues              []ReconciliationIssue
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	PaidAt              *time.Time
	// StockAdjustedAt is set once the stock pass after payment has run,
	// whatever its per-item results.
	StockAdjustedAt *time.Time
}

// New builds a pending order awaiting payment for the given gateway reference.
func New(id, reference, number, customerID string, items []LineItem) (*Order, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, ErrInvalidReference
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	for _, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, ErrInvalidProduct
		}
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if it.UnitPrice < 0 {
			return nil, ErrInvalidUnitPrice
		}
	}

	now := time.Now().UTC()
	return &Order{
		ID:                id,
		Reference:         reference,
		Number:            number,
		CustomerID:        customerID,
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentCreated,
		Items:             append([]LineItem(nil), items...),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Total is the sum of quantity times unit price over all line items.
func (o *Order) Total() int64 {
	var total int64
	for _, it := range o.Items {
		total += int64(it.Quantity) * it.UnitPrice
	}
	return total
}

func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentPaid
}

// ConfirmPayment moves a pending order to paid/confirmed and records the
// verified gateway payment. It returns ErrInvalidStateTransition for any
// order that is not awaiting payment.
func (o *Order) ConfirmPayment(paymentRef, signature string) error {
	if strings.TrimSpace(paymentRef) == "" {
		return ErrMissingPaymentRef
	}
	next, err := stateOf(o).OnPaymentConfirmed(o)
	if err != nil {
		return err
	}
	o.PaymentRef = paymentRef
	o.Signature = signature
	now := time.Now().UTC()
	o.PaidAt = &now
	o.apply(next)
	return nil
}

// MarkStockAdjusted records that the stock pass ran. It is a no-op when
// already recorded and ErrInvalidStateTransition on an unpaid order.
func (o *Order) MarkStockAdjusted() error {
	if !o.IsPaid() {
		return ErrInvalidStateTransition
	}
	if o.StockAdjustedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	o.StockAdjustedAt = &now
	o.touch()
	return nil
}

// StockPassPending reports a paid order with neither a completed stock pass
// nor an open stock_pass_incomplete issue.
func (o *Order) StockPassPending() bool {
	return o.IsPaid() && o.StockAdjustedAt == nil && !o.HasIssue(IssueStockPassIncomplete)
}

func (o *Order) HasIssue(reason string) bool {
	for _, is := range o.Issues {
		if is.Reason == reason {
			return true
		}
	}
	return false
}

// FlagReconciliation marks the order for manual review. Repeated issues for
// the same product are not duplicated.
func (o *Order) FlagReconciliation(issues []ReconciliationIssue) {
	if len(issues) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(o.Issues))
	for _, is := range o.Issues {
		seen[is.ProductID+"|"+is.Reason] = struct{}{}
	}
	for _, is := range issues {
		key := is.ProductID + "|" + is.Reason
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		o.Issues = append(o.Issues, is)
	}
	o.NeedsReconciliation = true
	o.touch()
}

// Clone returns a deep copy so repositories never share slices with callers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem(nil), o.Items...)
	clone.Issues = append([]ReconciliationIssue(nil), o.Issues...)
	if o.PaidAt != nil {
		paid := *o.PaidAt
		clone.PaidAt = &paid
	}
	if o.StockAdjustedAt != nil {
		adjusted := *o.StockAdjustedAt
		clone.StockAdjustedAt = &adjusted
	}
	return &clone
}

func (o *Order) apply(s State) {
	o.PaymentStatus, o.FulfillmentStatus = s.Statuses()
	o.touch()
}

func (o *Order) touch() {
	o.Version++
	o.UpdatedAt = time.Now().UTC()
}
