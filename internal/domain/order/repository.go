package order

import "context"

type Repository interface {
	Insert(ctx context.Context, order *Order) error
	FindByReference(ctx context.Context, reference string) (*Order, error)
	// UpdateIfVersion persists order only if the stored copy still has
	// expectedVersion and is still awaiting payment; otherwise ErrConflict.
	UpdateIfVersion(ctx context.Context, order *Order, expectedVersion int64) error
	// FlagReconciliation records issues on a paid order and marks it for review.
	FlagReconciliation(ctx context.Context, reference string, issues []ReconciliationIssue) error
	// MarkStockAdjusted records the completed stock pass of a paid order.
	MarkStockAdjusted(ctx context.Context, reference string) error
	ListNeedingReconciliation(ctx context.Context) ([]*Order, error)
}
