package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrder(t *testing.T, repo *OrderRepository, ref string) *domain.Order {
	t.Helper()
	o, err := domain.New("id-"+ref, ref, "MS-"+ref, "cust", []domain.LineItem{{ProductID: "P1", Quantity: 2, UnitPrice: 100}})
	require.NoError(t, err)
	require.NoError(t, repo.Insert(context.Background(), o))
	return o
}

func TestOrderInsertRejectsDuplicateReference(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, "ORD-1")

	o, err := domain.New("other", "ORD-1", "", "", []domain.LineItem{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Insert(context.Background(), o), domain.ErrConflict)
}

func TestOrderFindReturnsCopies(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, "ORD-1")

	got, err := repo.FindByReference(context.Background(), "ORD-1")
	require.NoError(t, err)
	got.Items[0].Quantity = 50

	again, err := repo.FindByReference(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Items[0].Quantity)

	_, err = repo.FindByReference(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateIfVersionGuardsStaleWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	seedOrder(t, repo, "ORD-1")

	first, _ := repo.FindByReference(ctx, "ORD-1")
	second, _ := repo.FindByReference(ctx, "ORD-1")

	require.NoError(t, first.ConfirmPayment("pay_1", "sig"))
	require.NoError(t, repo.UpdateIfVersion(ctx, first, 1))

	require.NoError(t, second.ConfirmPayment("pay_2", "sig"))
	assert.ErrorIs(t, repo.UpdateIfVersion(ctx, second, 1), domain.ErrConflict)

	stored, _ := repo.FindByReference(ctx, "ORD-1")
	assert.Equal(t, "pay_1", stored.PaymentRef)
	assert.Equal(t, int64(2), stored.Version)
}

func TestUpdateIfVersionRefusesPaidOrders(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	seedOrder(t, repo, "ORD-1")

	o, _ := repo.FindByReference(ctx, "ORD-1")
	require.NoError(t, o.ConfirmPayment("pay_1", "sig"))
	require.NoError(t, repo.UpdateIfVersion(ctx, o, 1))

	// Even with a matching version, a paid order is never rewritten.
	paid, _ := repo.FindByReference(ctx, "ORD-1")
	assert.ErrorIs(t, repo.UpdateIfVersion(ctx, paid, paid.Version), domain.ErrConflict)
}

func TestUpdateIfVersionSingleWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	seedOrder(t, repo, "ORD-1")

	const n = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := repo.FindByReference(ctx, "ORD-1")
			if err != nil || o.IsPaid() {
				return
			}
			expected := o.Version
			if o.ConfirmPayment("pay", "sig") != nil {
				return
			}
			if repo.UpdateIfVersion(ctx, o, expected) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestFlagReconciliationAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	seedOrder(t, repo, "ORD-1")
	seedOrder(t, repo, "ORD-2")

	issues := []domain.ReconciliationIssue{{ProductID: "P1", Quantity: 2, Reason: "insufficient_stock"}}
	require.NoError(t, repo.FlagReconciliation(ctx, "ORD-2", issues))
	assert.ErrorIs(t, repo.FlagReconciliation(ctx, "nope", issues), domain.ErrNotFound)

	flagged, err := repo.ListNeedingReconciliation(ctx)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "ORD-2", flagged[0].Reference)
	assert.Equal(t, issues, flagged[0].Issues)
}

func TestOrderRepositoryHonoursCancelledContext(t *testing.T) {
	repo := NewOrderRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.FindByReference(ctx, "ORD-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarkStockAdjusted(t *testing.T) {
	repo := NewOrderRepository()
	o := seedOrder(t, repo, "ORD-1")
	ctx := context.Background()

	assert.ErrorIs(t, repo.MarkStockAdjusted(ctx, "ORD-1"), domain.ErrInvalidStateTransition)
	assert.ErrorIs(t, repo.MarkStockAdjusted(ctx, "ORD-404"), domain.ErrNotFound)

	expected := o.Version
	require.NoError(t, o.ConfirmPayment("pay_1", "sig"))
	require.NoError(t, repo.UpdateIfVersion(ctx, o, expected))
	require.NoError(t, repo.MarkStockAdjusted(ctx, "ORD-1"))
	require.NoError(t, repo.MarkStockAdjusted(ctx, "ORD-1"))

	stored, err := repo.FindByReference(ctx, "ORD-1")
	require.NoError(t, err)
	assert.NotNil(t, stored.StockAdjustedAt)
	assert.False(t, stored.StockPassPending())
}
