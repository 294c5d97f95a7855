package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
)

type InventoryRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Item
}

func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{
		items: make(map[string]*domain.Item),
	}
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(item), nil
}

func (r *InventoryRepository) Save(ctx context.Context, item *domain.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item == nil || item.ProductID == "" {
		return fmt.Errorf("inventory repository: product id is required")
	}
	if item.Available < 0 {
		return domain.ErrNegativeStock
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	saved := cloneItem(item)
	if existing, ok := r.items[item.ProductID]; ok && saved.Version <= existing.Version {
		saved.Version = existing.Version + 1
	}
	r.items[item.ProductID] = saved
	return nil
}

func (r *InventoryRepository) CreateIfAbsent(ctx context.Context, item *domain.Item) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if item == nil || item.ProductID == "" {
		return false, fmt.Errorf("inventory repository: product id is required")
	}
	if item.Available < 0 {
		return false, domain.ErrNegativeStock
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[item.ProductID]; ok {
		return false, nil
	}
	r.items[item.ProductID] = cloneItem(item)
	return true, nil
}

// Decrement checks and subtracts under the write lock, so concurrent callers
// can never both observe the same stock.
func (r *InventoryRepository) Decrement(ctx context.Context, productID string, quantity int) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := item.Deduct(quantity); err != nil {
		return nil, err
	}
	return cloneItem(item), nil
}

func cloneItem(item *domain.Item) *domain.Item {
	if item == nil {
		return nil
	}
	clone := *item
	return &clone
}
