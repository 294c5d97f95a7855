package inventory

import (
	"context"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
)

// Service exposes operator stock reads and restocks.
type Service struct {
	invRepo      dominv.Repository
	storeTimeout time.Duration
}

func NewService(invRepo dominv.Repository, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Service{invRepo: invRepo, storeTimeout: storeTimeout}
}

func (s *Service) Get(ctx context.Context, productID string) (*dominv.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	item, err := s.invRepo.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: get: %w", err)
	}
	return item, nil
}

// SetStock replaces the available quantity of a product, creating it if needed.
func (s *Service) SetStock(ctx context.Context, productID string, available int) (*dominv.Item, error) {
	if productID == "" {
		return nil, fmt.Errorf("inventory: set stock: %w", dominv.ErrNotFound)
	}
	item, err := dominv.NewItem(productID, available)
	if err != nil {
		return nil, fmt.Errorf("inventory: set stock: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.invRepo.Save(ctx, item); err != nil {
		return nil, fmt.Errorf("inventory: save: %w", err)
	}
	return s.invRepo.Get(ctx, productID)
}

// Seed creates stock for a product that has none. Existing stock, including
// decrements already taken against it, is kept.
func (s *Service) Seed(ctx context.Context, productID string, available int) (bool, error) {
	item, err := dominv.NewItem(productID, available)
	if err != nil {
		return false, fmt.Errorf("inventory: seed %s: %w", productID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	created, err := s.invRepo.CreateIfAbsent(ctx, item)
	if err != nil {
		return false, fmt.Errorf("inventory: seed %s: %w", productID, err)
	}
	return created, nil
}
