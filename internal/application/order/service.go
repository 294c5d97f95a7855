package order

import (
	"context"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
)

// Service answers read-only order queries for operators.
type Service struct {
	repo         domain.Repository
	storeTimeout time.Duration
}

func NewService(repo domain.Repository, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Service{repo: repo, storeTimeout: storeTimeout}
}

func (s *Service) Get(ctx context.Context, reference string) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	o, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("order: get: %w", wrapRepositoryError(err))
	}
	return o, nil
}

func (s *Service) NeedingReconciliation(ctx context.Context) ([]*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	out, err := s.repo.ListNeedingReconciliation(ctx)
	if err != nil {
		return nil, fmt.Errorf("order: list reconciliation: %w", wrapRepositoryError(err))
	}
	return out, nil
}
