package inventory

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	ErrNegativeStock     = errors.New("inventory: available quantity must be zero or greater")
)

type Item struct {
	ProductID string
	Available int
	Version   int64
	UpdatedAt time.Time
}

func NewItem(productID string, available int) (*Item, error) {
	if available < 0 {
		return nil, ErrNegativeStock
	}
	return &Item{
		ProductID: productID,
		Available: available,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Deduct removes quantity from the item, refusing to go below zero. The item
// is left untouched on error.
func (i *Item) Deduct(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > i.Available {
		return ErrInsufficientStock
	}
	i.Available -= quantity
	i.touch()
	return nil
}

func (i *Item) touch() {
	i.Version++
	i.UpdatedAt = time.Now().UTC()
}
