package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application"
	invapp "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/inventory"
	orderapp "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/order"
	domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	fulfillmentService     = "fulfillment-service"
	useCaseConfirmCallback = "fulfillment.confirm_callback"
	spanPrefix             = "UC."
	publishPeer            = "outbox"
	publishTimeout         = 300 * time.Millisecond
	defaultStoreTimeout    = 3 * time.Second
	stockPassPoll          = 50 * time.Millisecond
)

type (
	Ledger   = application.UseCase[orderapp.ConfirmPaymentInput, *orderapp.ConfirmPaymentResult]
	Adjuster = application.UseCase[invapp.DecrementStockInput, *invapp.DecrementStockResult]
)

type Verifier interface {
	Verify(c payment.Callback) bool
}

// Reconciler keeps the stock pass bookkeeping of a paid order.
type Reconciler interface {
	FindByReference(ctx context.Context, reference string) (*domorder.Order, error)
	FlagReconciliation(ctx context.Context, reference string, issues []domorder.ReconciliationIssue) error
	MarkStockAdjusted(ctx context.Context, reference string) error
}

// ConfirmCallbackUseCase drives one gateway callback through verification,
// the ledger transition and per-item stock adjustment.
type ConfirmCallbackUseCase struct {
	verifier     Verifier
	ledger       Ledger
	adjuster     Adjuster
	reconciler   Reconciler
	publisher    domoutbox.Publisher
	storeTimeout time.Duration
	now          func() time.Time

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	cbCounter    observability.Counter // payment_callbacks_total{outcome}
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewConfirmCallbackUseCase(
	verifier Verifier,
	ledger Ledger,
	adjuster Adjuster,
	reconciler Reconciler,
	publisher domoutbox.Publisher,
	storeTimeout time.Duration,
	tel observability.Observability,
) *ConfirmCallbackUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	m := tel.Metrics()
	return &ConfirmCallbackUseCase{
		verifier:     verifier,
		ledger:       ledger,
		adjuster:     adjuster,
		reconciler:   reconciler,
		publisher:    publisher,
		storeTimeout: storeTimeout,
		now:          time.Now,
		log:          tel.Logger().With(observability.F("service", fulfillmentService)),
		tracer:       tel.Tracer(),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		cbCounter:    m.Counter(observability.MPaymentCallbacks),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

func (uc *ConfirmCallbackUseCase) Execute(ctx context.Context, cb payment.Callback) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseConfirmCallback),
		observability.F("order_ref", cb.OrderRef),
		observability.F("payment_ref", cb.PaymentRef),
	)
	ctx, span := uc.tracer.Start(ctx, spanPrefix+"ConfirmCallback",
		attribute.String("use_case", useCaseConfirmCallback),
		attribute.String("order.reference", cb.OrderRef),
		attribute.String("payment.reference", cb.PaymentRef),
	)
	start := time.Now()
	statusText := "OK"
	res := &Result{}
	res.reached(StageReceived)

	defer func() {
		lat := time.Since(start).Seconds()
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.SetAttributes(attribute.String("fulfillment.outcome", string(res.Outcome)))
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseConfirmCallback),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseConfirmCallback))
		uc.cbCounter.Add(1, observability.L("outcome", string(res.Outcome)))

		fields := []observability.Field{
			observability.F("outcome", string(res.Outcome)),
			observability.F("status", statusText),
			observability.F("stage", string(res.Trace[len(res.Trace)-1])),
			observability.F("latency_seconds", lat),
		}
		if failed := len(res.Failed()); failed > 0 {
			fields = append(fields,
				observability.F("failed_items", failed),
				observability.F("flagged", res.Flagged),
			)
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.Err(err))
		}
		logger.Info("use_case_done", fields...)
	}()

	// RECEIVED
	if err := cb.Validate(); err != nil {
		res.Outcome, statusText = OutcomeRejected, "MISSING_FIELDS"
		return res, fmt.Errorf("%w: %w", ErrMissingFields, err)
	}

	// RECEIVED -> VERIFIED
	if uc.verifier == nil || !uc.verifier.Verify(cb) {
		res.Outcome, statusText = OutcomeRejected, "SIGNATURE_INVALID"
		return res, ErrVerificationFailed
	}
	res.reached(StageVerified)
	span.AddEvent("payment.verified")

	// VERIFIED -> LEDGER_UPDATED
	confirmed, err := uc.ledger.Execute(ctx, orderapp.ConfirmPaymentInput{
		OrderRef:   cb.OrderRef,
		PaymentRef: cb.PaymentRef,
		Signature:  cb.Signature,
	})
	if err != nil {
		res.Outcome, statusText = ledgerFailure(err)
		return res, classifyLedgerError(err)
	}
	res.Order = confirmed.Order

	if !confirmed.FirstConfirmation {
		res.Outcome, statusText = OutcomeAlreadyConfirmed, "ALREADY_CONFIRMED"
		if uc.awaitStockPass(ctx, res) {
			// Paid, but whoever won the ledger never finished the stock pass.
			// Decrementing here could double count, so the order goes to review.
			statusText = "STOCK_PASS_INCOMPLETE"
			logger.Error("stock_pass_incomplete", observability.F("items", len(res.Order.Items)))
			uc.flagForReconciliation(ctx, logger, res, incompleteIssues(res.Order))
		}
		res.reached(StageDone)
		return res, nil
	}
	res.reached(StageLedgerUpdated)

	if perr := uc.publish(ctx, domorder.NewOrderPaidEvent(res.Order)); perr != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", "order.paid"),
			observability.Err(perr),
		)
	}

	// LEDGER_UPDATED -> STOCK_ADJUSTED
	uc.adjustStock(ctx, res)
	res.reached(StageStockAdjusted)

	// STOCK_ADJUSTED -> DONE
	failed := res.Failed()
	if len(failed) == 0 {
		res.Outcome, statusText = OutcomeConfirmed, "CONFIRMED"
	} else {
		res.Outcome, statusText = OutcomePartial, "STOCK_PARTIAL"
		uc.flagForReconciliation(ctx, logger, res, failedIssues(failed))
	}
	// The marker goes last: any flag above must be durable before replays
	// stop treating the pass as unfinished.
	uc.markStockAdjusted(ctx, logger, res)
	res.reached(StageDone)
	return res, nil
}

// stockPassBudget bounds a first caller's stock pass: one store call per
// item, the flag and the marker, plus two publishes.
func (uc *ConfirmCallbackUseCase) stockPassBudget(items int) time.Duration {
	return time.Duration(items+2)*uc.storeTimeout + 2*publishTimeout
}

// awaitStockPass lets a replay wait out a stock pass that may still be
// running. It reports true once the budget since payment has elapsed and the
// order still has no completion marker.
func (uc *ConfirmCallbackUseCase) awaitStockPass(ctx context.Context, res *Result) bool {
	if uc.reconciler == nil || res.Order == nil {
		return false
	}
	o := res.Order
	paidAt := o.UpdatedAt
	if o.PaidAt != nil {
		paidAt = *o.PaidAt
	}
	deadline := paidAt.Add(uc.stockPassBudget(len(o.Items)))

	for o.StockPassPending() {
		wait := deadline.Sub(uc.now())
		if wait <= 0 {
			res.Order = o
			return true
		}
		if wait > stockPassPoll {
			wait = stockPassPoll
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		lookupCtx, cancel := context.WithTimeout(ctx, uc.storeTimeout)
		fresh, err := uc.reconciler.FindByReference(lookupCtx, o.Reference)
		cancel()
		if err == nil {
			o = fresh
		}
	}
	res.Order = o
	return false
}

func (uc *ConfirmCallbackUseCase) markStockAdjusted(ctx context.Context, logger observability.Logger, res *Result) {
	if uc.reconciler == nil {
		return
	}
	markCtx, cancel := context.WithTimeout(ctx, uc.storeTimeout)
	err := uc.reconciler.MarkStockAdjusted(markCtx, res.Order.Reference)
	cancel()
	if err != nil {
		// Late replays will flag the order as stock_pass_incomplete.
		logger.Error("stock_pass_mark_failed", observability.Err(err))
		return
	}
	_ = res.Order.MarkStockAdjusted()
}

// adjustStock decrements every line item in stored order. A failing item
// never stops the remaining ones.
func (uc *ConfirmCallbackUseCase) adjustStock(ctx context.Context, res *Result) {
	res.Items = make([]ItemOutcome, 0, len(res.Order.Items))
	for _, item := range res.Order.Items {
		out := ItemOutcome{ProductID: item.ProductID, Quantity: item.Quantity}

		adj, err := uc.adjuster.Execute(ctx, invapp.DecrementStockInput{
			OrderID:   res.Order.ID,
			OrderRef:  res.Order.Reference,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
		switch {
		case err != nil:
			out.Err = err
			if adj != nil && adj.FailureReason != "" {
				out.Reason = adj.FailureReason
			} else {
				out.Reason = invapp.FailureReasonFromError(err)
			}
		case adj != nil:
			out.Remaining = adj.Remaining
		}
		res.Items = append(res.Items, out)
	}
}

func failedIssues(failed []ItemOutcome) []domorder.ReconciliationIssue {
	issues := make([]domorder.ReconciliationIssue, 0, len(failed))
	for _, it := range failed {
		issues = append(issues, domorder.ReconciliationIssue{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Reason:    it.Reason,
		})
	}
	return issues
}

func incompleteIssues(o *domorder.Order) []domorder.ReconciliationIssue {
	issues := make([]domorder.ReconciliationIssue, 0, len(o.Items))
	for _, it := range o.Items {
		issues = append(issues, domorder.ReconciliationIssue{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Reason:    domorder.IssueStockPassIncomplete,
		})
	}
	return issues
}

func (uc *ConfirmCallbackUseCase) flagForReconciliation(ctx context.Context, logger observability.Logger, res *Result, issues []domorder.ReconciliationIssue) {
	if uc.reconciler != nil {
		flagCtx, cancel := context.WithTimeout(ctx, uc.storeTimeout)
		err := uc.reconciler.FlagReconciliation(flagCtx, res.Order.Reference, issues)
		cancel()
		if err != nil {
			// The order stays confirmed; the event below is the remaining signal.
			logger.Error("reconciliation_flag_failed",
				observability.F("issues", len(issues)),
				observability.Err(err),
			)
		} else {
			res.Flagged = true
			res.Order.FlagReconciliation(issues)
		}
	}

	if err := uc.publish(ctx, domorder.NewReconciliationRequiredEvent(res.Order, issues)); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", "order.reconciliation_required"),
			observability.Err(err),
		)
	}
}

func (uc *ConfirmCallbackUseCase) publish(ctx context.Context, event domoutbox.Event) error {
	if uc.publisher == nil {
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	start := time.Now()
	err := uc.publisher.Publish(pubCtx, event)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
	)
	return err
}

func ledgerFailure(err error) (Outcome, string) {
	switch {
	case errors.Is(err, orderapp.ErrNotFound):
		return OutcomeRejected, "ORDER_NOT_FOUND"
	case errors.Is(err, domorder.ErrInvalidStateTransition):
		return OutcomeRejected, "ORDER_NOT_PAYABLE"
	case errors.Is(err, orderapp.ErrConflict):
		return OutcomeFailed, "LEDGER_CONFLICT"
	default:
		return OutcomeFailed, "STORE_UNAVAILABLE"
	}
}

func classifyLedgerError(err error) error {
	switch {
	case errors.Is(err, orderapp.ErrInvalidInput):
		return fmt.Errorf("%w: %w", ErrMissingFields, err)
	case errors.Is(err, orderapp.ErrNotFound):
		return fmt.Errorf("fulfillment: ledger: %w: %w", ErrOrderNotFound, err)
	case errors.Is(err, domorder.ErrInvalidStateTransition):
		return fmt.Errorf("fulfillment: ledger: %w: %w", ErrOrderNotPayable, err)
	case errors.Is(err, orderapp.ErrConflict):
		return fmt.Errorf("fulfillment: ledger: %w: %w", ErrLedgerConflict, err)
	default:
		return fmt.Errorf("fulfillment: ledger: %w: %w", ErrStoreUnavailable, err)
	}
}
