package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	dominv "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type unavailableRepo struct {
	dominv.Repository
}

func (unavailableRepo) Decrement(context.Context, string, int) (*dominv.Item, error) {
	return nil, errors.New("connection refused")
}

func stockedRepo(t *testing.T, stock map[string]int) *memory.InventoryRepository {
	t.Helper()
	repo := memory.NewInventoryRepository()
	for id, available := range stock {
		item, err := dominv.NewItem(id, available)
		require.NoError(t, err)
		require.NoError(t, repo.Save(context.Background(), item))
	}
	return repo
}

func TestDecrementStock(t *testing.T) {
	tests := []struct {
		name      string
		stock     map[string]int
		input     DecrementStockInput
		remaining int
		reason    string
		wantErr   error
		event     string
	}{
		{
			name:      "enough stock",
			stock:     map[string]int{"P1": 5},
			input:     DecrementStockInput{OrderID: "o1", OrderRef: "order_1", ProductID: "P1", Quantity: 2},
			remaining: 3,
			event:     "inventory.stock_decremented",
		},
		{
			name:      "exact stock",
			stock:     map[string]int{"P1": 2},
			input:     DecrementStockInput{OrderID: "o1", OrderRef: "order_1", ProductID: "P1", Quantity: 2},
			remaining: 0,
			event:     "inventory.stock_decremented",
		},
		{
			name:    "insufficient stock",
			stock:   map[string]int{"P1": 1},
			input:   DecrementStockInput{OrderID: "o1", OrderRef: "order_1", ProductID: "P1", Quantity: 2},
			reason:  dominv.FailureReasonInsufficientStock,
			wantErr: dominv.ErrInsufficientStock,
			event:   "inventory.stock_decrement_failed",
		},
		{
			name:    "unknown product",
			stock:   map[string]int{},
			input:   DecrementStockInput{OrderID: "o1", OrderRef: "order_1", ProductID: "P9", Quantity: 1},
			reason:  dominv.FailureReasonNotFound,
			wantErr: dominv.ErrNotFound,
			event:   "inventory.stock_decrement_failed",
		},
		{
			name:    "zero quantity",
			stock:   map[string]int{"P1": 1},
			input:   DecrementStockInput{OrderID: "o1", OrderRef: "order_1", ProductID: "P1", Quantity: 0},
			reason:  dominv.FailureReasonInvalidQuantity,
			wantErr: dominv.ErrInvalidQuantity,
			event:   "inventory.stock_decrement_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			uc := NewDecrementStockUseCase(stockedRepo(t, tt.stock), pub, 0, nil)

			res, err := uc.Execute(context.Background(), tt.input)
			require.NotNil(t, res)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, res.Decremented)
				assert.Equal(t, tt.reason, res.FailureReason)
			} else {
				require.NoError(t, err)
				assert.True(t, res.Decremented)
				assert.Equal(t, tt.remaining, res.Remaining)
			}
			assert.Equal(t, []string{tt.event}, pub.names())
		})
	}
}

func TestDecrementStockStoreUnavailable(t *testing.T) {
	uc := NewDecrementStockUseCase(unavailableRepo{}, nil, 0, nil)

	res, err := uc.Execute(context.Background(), DecrementStockInput{OrderID: "o1", OrderRef: "order_1", ProductID: "P1", Quantity: 1})
	require.ErrorIs(t, err, ErrRepository)
	assert.Equal(t, dominv.FailureReasonStoreUnavailable, res.FailureReason)
}

func TestDecrementStockIgnoresPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("queue full")}
	repo := stockedRepo(t, map[string]int{"P1": 3})
	uc := NewDecrementStockUseCase(repo, pub, 0, nil)

	res, err := uc.Execute(context.Background(), DecrementStockInput{OrderID: "o1", OrderRef: "order_1", ProductID: "P1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)

	item, err := repo.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, item.Available)
}

func TestDecrementStockConcurrentOrdersNeverOversell(t *testing.T) {
	repo := stockedRepo(t, map[string]int{"P1": 10})
	uc := NewDecrementStockUseCase(repo, nil, 0, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := uc.Execute(context.Background(), DecrementStockInput{OrderID: "o", ProductID: "P1", Quantity: 1})
			if err == nil && res.Decremented {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	item, err := repo.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 0, item.Available)
}

func TestFailureReasonFromError(t *testing.T) {
	assert.Equal(t, dominv.FailureReasonNotFound, FailureReasonFromError(dominv.ErrNotFound))
	assert.Equal(t, dominv.FailureReasonInsufficientStock, FailureReasonFromError(dominv.ErrInsufficientStock))
	assert.Equal(t, dominv.FailureReasonInvalidQuantity, FailureReasonFromError(dominv.ErrInvalidQuantity))
	assert.Equal(t, dominv.FailureReasonStoreUnavailable, FailureReasonFromError(context.DeadlineExceeded))
}

func TestServiceSetStock(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewInventoryRepository(), 0)

	item, err := svc.SetStock(ctx, "P1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, item.Available)

	item, err = svc.SetStock(ctx, "P1", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, item.Available)

	got, err := svc.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Available)

	_, err = svc.SetStock(ctx, "P1", -1)
	assert.ErrorIs(t, err, dominv.ErrNegativeStock)

	_, err = svc.Get(ctx, "P2")
	assert.ErrorIs(t, err, dominv.ErrNotFound)
}

func TestServiceSeedKeepsLiveStock(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository()
	svc := NewService(repo, 0)

	created, err := svc.Seed(ctx, "P1", 5)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = repo.Decrement(ctx, "P1", 4)
	require.NoError(t, err)

	created, err = svc.Seed(ctx, "P1", 5)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := svc.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Available, "a restart must not restore sold stock")

	_, err = svc.Seed(ctx, "P2", -1)
	assert.ErrorIs(t, err, dominv.ErrNegativeStock)
}
