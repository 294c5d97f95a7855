package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	invapp "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/inventory"
	orderapp "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/order"
	dominv "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test_secret"

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

type failingReconciler struct {
	*memory.OrderRepository
}

func (failingReconciler) FlagReconciliation(context.Context, string, []domorder.ReconciliationIssue) error {
	return errors.New("connection reset")
}

// lostAckOrders commits paid transitions but reports a timeout, like a
// database whose acknowledgement never reaches the caller.
type lostAckOrders struct {
	*memory.OrderRepository
}

func (r lostAckOrders) UpdateIfVersion(ctx context.Context, o *domorder.Order, expected int64) error {
	if err := r.OrderRepository.UpdateIfVersion(ctx, o, expected); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

type unavailableOrders struct {
	domorder.Repository
}

func (unavailableOrders) FindByReference(context.Context, string) (*domorder.Order, error) {
	return nil, context.DeadlineExceeded
}

type fixture struct {
	orders    *memory.OrderRepository
	stock     *memory.InventoryRepository
	publisher *recordingPublisher
	uc        *ConfirmCallbackUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:    memory.NewOrderRepository(),
		stock:     memory.NewInventoryRepository(),
		publisher: &recordingPublisher{},
	}
	f.uc = f.build(f.orders, f.orders)
	return f
}

func (f *fixture) build(orders domorder.Repository, reconciler Reconciler) *ConfirmCallbackUseCase {
	ledger := orderapp.NewConfirmPaymentUseCase(orders, orderapp.LedgerOptions{MaxAttempts: 5}, nil)
	adjuster := invapp.NewDecrementStockUseCase(f.stock, f.publisher, 0, nil)
	return NewConfirmCallbackUseCase(payment.NewVerifier(secret), ledger, adjuster, reconciler, f.publisher, 0, nil)
}

func (f *fixture) stored(t *testing.T, ref string) *domorder.Order {
	t.Helper()
	o, err := f.orders.FindByReference(context.Background(), ref)
	require.NoError(t, err)
	return o
}

func (f *fixture) order(t *testing.T, ref string, items ...domorder.LineItem) {
	t.Helper()
	o, err := domorder.New("id-"+ref, ref, "MS-"+ref, "cust-1", items)
	require.NoError(t, err)
	require.NoError(t, f.orders.Insert(context.Background(), o))
}

func (f *fixture) stocked(t *testing.T, productID string, available int) {
	t.Helper()
	item, err := dominv.NewItem(productID, available)
	require.NoError(t, err)
	require.NoError(t, f.stock.Save(context.Background(), item))
}

func (f *fixture) available(t *testing.T, productID string) int {
	t.Helper()
	item, err := f.stock.Get(context.Background(), productID)
	require.NoError(t, err)
	return item.Available
}

func signed(orderRef, paymentRef string) payment.Callback {
	return payment.Callback{
		OrderRef:   orderRef,
		PaymentRef: paymentRef,
		Signature:  payment.Sign(orderRef, paymentRef, secret),
	}
}

func TestConfirmCallbackConfirmsAndAdjustsStock(t *testing.T) {
	f := newFixture(t)
	f.stocked(t, "P1", 5)
	f.order(t, "ORD-1", domorder.LineItem{ProductID: "P1", Quantity: 2, UnitPrice: 1500})

	res, err := f.uc.Execute(context.Background(), signed("ORD-1", "pay_1"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, []Stage{StageReceived, StageVerified, StageLedgerUpdated, StageStockAdjusted, StageDone}, res.Trace)
	assert.Equal(t, domorder.PaymentPaid, res.Order.PaymentStatus)
	assert.Equal(t, domorder.FulfillmentConfirmed, res.Order.FulfillmentStatus)
	require.Len(t, res.Items, 1)
	assert.True(t, res.Items[0].OK())
	assert.Equal(t, 3, res.Items[0].Remaining)
	assert.Equal(t, 3, f.available(t, "P1"))
	assert.Equal(t, 1, f.publisher.count("order.paid"))
	assert.NotNil(t, res.Order.StockAdjustedAt)
	assert.NotNil(t, f.stored(t, "ORD-1").StockAdjustedAt)
}

func TestConfirmCallbackReplayDoesNotDecrementAgain(t *testing.T) {
	f := newFixture(t)
	f.stocked(t, "P1", 5)
	f.order(t, "ORD-1", domorder.LineItem{ProductID: "P1", Quantity: 2, UnitPrice: 1500})

	_, err := f.uc.Execute(context.Background(), signed("ORD-1", "pay_1"))
	require.NoError(t, err)

	res, err := f.uc.Execute(context.Background(), signed("ORD-1", "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyConfirmed, res.Outcome)
	assert.Equal(t, []Stage{StageReceived, StageVerified, StageDone}, res.Trace)
	assert.Empty(t, res.Items)
	assert.Equal(t, 3, f.available(t, "P1"))
	assert.Equal(t, 1, f.publisher.count("order.paid"))
	assert.False(t, res.Flagged)
	assert.Zero(t, f.publisher.count("order.reconciliation_required"))
}

func TestConfirmCallbackReplayAfterLostAckFlagsOrder(t *testing.T) {
	f := newFixture(t)
	f.stocked(t, "P1", 5)
	f.order(t, "ORD-7", domorder.LineItem{ProductID: "P1", Quantity: 2, UnitPrice: 1500})

	_, err := f.build(lostAckOrders{f.orders}, f.orders).Execute(context.Background(), signed("ORD-7", "pay_7"))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.True(t, f.stored(t, "ORD-7").IsPaid(), "the write landed despite the timeout")

	// The provider redelivers long after the first attempt gave up.
	uc := f.build(f.orders, f.orders)
	uc.now = func() time.Time { return time.Now().Add(time.Hour) }

	res, err := uc.Execute(context.Background(), signed("ORD-7", "pay_7"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyConfirmed, res.Outcome)
	assert.True(t, res.Flagged)
	assert.Equal(t, 5, f.available(t, "P1"), "a replay never takes stock")

	stored := f.stored(t, "ORD-7")
	assert.True(t, stored.NeedsReconciliation)
	require.Len(t, stored.Issues, 1)
	assert.Equal(t, "P1", stored.Issues[0].ProductID)
	assert.Equal(t, 2, stored.Issues[0].Quantity)
	assert.Equal(t, domorder.IssueStockPassIncomplete, stored.Issues[0].Reason)
	assert.Nil(t, stored.StockAdjustedAt)
	assert.Equal(t, 1, f.publisher.count("order.reconciliation_required"))

	again, err := uc.Execute(context.Background(), signed("ORD-7", "pay_7"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyConfirmed, again.Outcome)
	assert.False(t, again.Flagged)
	assert.Equal(t, 1, f.publisher.count("order.reconciliation_required"))
	assert.Equal(t, 5, f.available(t, "P1"))
}

func TestConfirmCallbackReplayWaitsForRunningStockPass(t *testing.T) {
	f := newFixture(t)
	f.stocked(t, "P1", 5)
	f.order(t, "ORD-8", domorder.LineItem{ProductID: "P1", Quantity: 1, UnitPrice: 100})

	paid := f.stored(t, "ORD-8")
	expected := paid.Version
	require.NoError(t, paid.ConfirmPayment("pay_8", "sig"))
	require.NoError(t, f.orders.UpdateIfVersion(context.Background(), paid, expected))

	done := make(chan error, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		done <- f.orders.MarkStockAdjusted(context.Background(), "ORD-8")
	}()

	res, err := f.uc.Execute(context.Background(), signed("ORD-8", "pay_8"))
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, OutcomeAlreadyConfirmed, res.Outcome)
	assert.False(t, res.Flagged)
	assert.False(t, f.stored(t, "ORD-8").NeedsReconciliation)
	assert.Zero(t, f.publisher.count("order.reconciliation_required"))
}

func TestConfirmCallbackRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t)
	f.stocked(t, "P1", 5)
	f.order(t, "ORD-1", domorder.LineItem{ProductID: "P1", Quantity: 2, UnitPrice: 1500})

	cb := signed("ORD-1", "pay_1")
	cb.Signature = cb.Signature[:len(cb.Signature)-1] + "0"
	if cb.Signature == payment.Sign("ORD-1", "pay_1", secret) {
		cb.Signature = cb.Signature[:len(cb.Signature)-1] + "1"
	}

	res, err := f.uc.Execute(context.Background(), cb)
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, []Stage{StageReceived}, res.Trace)

	stored, err := f.orders.FindByReference(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, 5, f.available(t, "P1"))
}

func TestConfirmCallbackPartialStockFlagsOrder(t *testing.T) {
	f := newFixture(t)
	f.stocked(t, "P1", 5)
	f.stocked(t, "P2", 4)
	f.order(t, "ORD-2",
		domorder.LineItem{ProductID: "P2", Quantity: 10, UnitPrice: 900},
		domorder.LineItem{ProductID: "P1", Quantity: 1, UnitPrice: 1500},
	)

	res, err := f.uc.Execute(context.Background(), signed("ORD-2", "pay_2"))
	require.NoError(t, err)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.True(t, res.Reached(StageDone))
	assert.Equal(t, domorder.FulfillmentConfirmed, res.Order.FulfillmentStatus)
	require.Len(t, res.Items, 2)
	assert.ErrorIs(t, res.Items[0].Err, dominv.ErrInsufficientStock)
	assert.Equal(t, dominv.FailureReasonInsufficientStock, res.Items[0].Reason)
	assert.True(t, res.Items[1].OK(), "later items are still adjusted")
	assert.Equal(t, 4, f.available(t, "P2"))
	assert.Equal(t, 4, f.available(t, "P1"))

	assert.True(t, res.Flagged)
	stored, err := f.orders.FindByReference(context.Background(), "ORD-2")
	require.NoError(t, err)
	assert.True(t, stored.NeedsReconciliation)
	require.Len(t, stored.Issues, 1)
	assert.Equal(t, "P2", stored.Issues[0].ProductID)
	assert.Equal(t, 1, f.publisher.count("order.reconciliation_required"))
}

func TestConfirmCallbackFlagFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.stocked(t, "P1", 1)
	f.order(t, "ORD-3", domorder.LineItem{ProductID: "P1", Quantity: 2, UnitPrice: 100})
	uc := f.build(f.orders, failingReconciler{f.orders})

	res, err := uc.Execute(context.Background(), signed("ORD-3", "pay_3"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.False(t, res.Flagged)
	assert.Equal(t, 1, f.publisher.count("order.reconciliation_required"))
}

func TestConfirmCallbackUnknownProductIsItemFailure(t *testing.T) {
	f := newFixture(t)
	f.order(t, "ORD-4", domorder.LineItem{ProductID: "GHOST", Quantity: 1, UnitPrice: 100})

	res, err := f.uc.Execute(context.Background(), signed("ORD-4", "pay_4"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, dominv.FailureReasonNotFound, res.Items[0].Reason)
}

func TestConfirmCallbackConcurrentDeliveriesUpdateLedgerOnce(t *testing.T) {
	f := newFixture(t)
	f.stocked(t, "P1", 50)
	f.order(t, "ORD-5", domorder.LineItem{ProductID: "P1", Quantity: 3, UnitPrice: 100})

	const callers = 25
	results := make([]*Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.uc.Execute(context.Background(), signed("ORD-5", "pay_5"))
		}(i)
	}
	wg.Wait()

	updated := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Reached(StageLedgerUpdated) {
			updated++
		} else {
			assert.Equal(t, OutcomeAlreadyConfirmed, results[i].Outcome)
		}
	}
	assert.Equal(t, 1, updated)
	assert.Equal(t, 47, f.available(t, "P1"))
	assert.Equal(t, 1, f.publisher.count("order.paid"))
	assert.Zero(t, f.publisher.count("order.reconciliation_required"))
	stored := f.stored(t, "ORD-5")
	assert.False(t, stored.NeedsReconciliation)
	assert.NotNil(t, stored.StockAdjustedAt)
}

func TestConfirmCallbackErrors(t *testing.T) {
	f := newFixture(t)
	f.order(t, "ORD-6", domorder.LineItem{ProductID: "P1", Quantity: 1, UnitPrice: 100})

	closed, err := f.orders.FindByReference(context.Background(), "ORD-6")
	require.NoError(t, err)
	closed.PaymentStatus = domorder.PaymentFailed
	require.NoError(t, f.orders.UpdateIfVersion(context.Background(), closed, closed.Version))

	tests := []struct {
		name    string
		uc      *ConfirmCallbackUseCase
		cb      payment.Callback
		wantErr error
		trace   []Stage
	}{
		{
			name:    "missing fields",
			uc:      f.uc,
			cb:      payment.Callback{OrderRef: "ORD-6", PaymentRef: "", Signature: "ab"},
			wantErr: ErrMissingFields,
			trace:   []Stage{StageReceived},
		},
		{
			name:    "unknown order",
			uc:      f.uc,
			cb:      signed("ORD-404", "pay_x"),
			wantErr: ErrOrderNotFound,
			trace:   []Stage{StageReceived, StageVerified},
		},
		{
			name:    "order not awaiting payment",
			uc:      f.uc,
			cb:      signed("ORD-6", "pay_6"),
			wantErr: ErrOrderNotPayable,
			trace:   []Stage{StageReceived, StageVerified},
		},
		{
			name:    "store unavailable",
			uc:      f.build(unavailableOrders{}, nil),
			cb:      signed("ORD-6", "pay_6"),
			wantErr: ErrStoreUnavailable,
			trace:   []Stage{StageReceived, StageVerified},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.uc.Execute(context.Background(), tt.cb)
			require.ErrorIs(t, err, tt.wantErr)
			require.NotNil(t, res)
			assert.Equal(t, tt.trace, res.Trace)
			assert.Nil(t, res.Order)
		})
	}
}

func TestClassifyLedgerError(t *testing.T) {
	assert.ErrorIs(t, classifyLedgerError(orderapp.ErrConflict), ErrLedgerConflict)
	assert.ErrorIs(t, classifyLedgerError(orderapp.ErrNotFound), ErrOrderNotFound)
	assert.ErrorIs(t, classifyLedgerError(errors.New("boom")), ErrStoreUnavailable)
}
