package inventory

import "context"

type Repository interface {
	Get(ctx context.Context, productID string) (*Item, error)
	// Save creates or replaces the stock level of a product.
	Save(ctx context.Context, item *Item) error
	// CreateIfAbsent stores item only when the product has no stock row yet.
	// An existing row is left untouched and created is false.
	CreateIfAbsent(ctx context.Context, item *Item) (created bool, err error)
	// Decrement atomically checks available >= quantity and subtracts it,
	// returning the updated item. It never leaves a partial write behind.
	Decrement(ctx context.Context, productID string, quantity int) (*Item, error)
}
