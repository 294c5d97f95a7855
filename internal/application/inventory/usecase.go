package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	inventoryService        = "inventory-service"
	useCaseStockDecrement   = "inventory.decrement"
	spanPrefix              = "UC."
	publishPeer             = "outbox"
	endpointDecremented     = "inventory.stock_decremented"
	endpointDecrementFailed = "inventory.stock_decrement_failed"
	publishTimeout          = 300 * time.Millisecond
	defaultStoreTimeout     = 3 * time.Second
)

var ErrRepository = errors.New("inventory: repository failure")

type DecrementStockInput struct {
	OrderID   string
	OrderRef  string
	ProductID string
	Quantity  int
}

// DecrementStockResult exposes the outcome of one line item's adjustment.
type DecrementStockResult struct {
	Decremented   bool
	Remaining     int
	FailureReason string
}

// DecrementStockUseCase is the inventory adjuster. The check and the
// decrement are a single repository call, so concurrent orders for the same
// product cannot oversell it.
type DecrementStockUseCase struct {
	invRepo      dominv.Repository
	publisher    domoutbox.Publisher
	storeTimeout time.Duration

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	adjCounter   observability.Counter
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewDecrementStockUseCase(invRepo dominv.Repository, publisher domoutbox.Publisher, storeTimeout time.Duration, tel observability.Observability) *DecrementStockUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	metricsProvider := tel.Metrics()

	return &DecrementStockUseCase{
		invRepo:      invRepo,
		publisher:    publisher,
		storeTimeout: storeTimeout,
		log:          tel.Logger().With(observability.F("service", inventoryService)),
		tracer:       tel.Tracer(),
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		adjCounter:   metricsProvider.Counter(observability.MStockAdjustments),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

func (uc *DecrementStockUseCase) Execute(ctx context.Context, cmd DecrementStockInput) (_ *DecrementStockResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseStockDecrement),
		observability.F("order_id", cmd.OrderID),
		observability.F("order_ref", cmd.OrderRef),
		observability.F("product_id", cmd.ProductID),
		observability.F("quantity", cmd.Quantity),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"DecrementStock",
		attribute.String("use_case", useCaseStockDecrement),
		attribute.String("order.id", cmd.OrderID),
		attribute.String("product.id", cmd.ProductID),
		attribute.Int("order.quantity", cmd.Quantity),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var publishErr error
	result := &DecrementStockResult{}

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseStockDecrement),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(latency, observability.L("use_case", useCaseStockDecrement))
		adjOutcome := "decremented"
		if !result.Decremented {
			adjOutcome = result.FailureReason
		}
		uc.adjCounter.Add(1, observability.L("outcome", adjOutcome))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("remaining", result.Remaining),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if result.FailureReason != "" {
			fields = append(fields, observability.F("failure_reason", result.FailureReason))
		}
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.Err(err))
		}
		logger.Info("use_case_done", fields...)
	}()

	decCtx, cancel := context.WithTimeout(ctx, uc.storeTimeout)
	item, err := uc.invRepo.Decrement(decCtx, cmd.ProductID, cmd.Quantity)
	cancel()
	if err != nil {
		outcome, statusText = "error", "DECREMENT_FAILED"
		result.FailureReason = FailureReasonFromError(err)
		publishErr = uc.publish(ctx, endpointDecrementFailed,
			dominv.NewStockDecrementFailedEvent(cmd.OrderID, cmd.OrderRef, cmd.ProductID, cmd.Quantity, result.FailureReason))
		if isDomainError(err) {
			return result, fmt.Errorf("inventory: decrement %s: %w", cmd.ProductID, err)
		}
		return result, fmt.Errorf("%w: decrement %s: %w", ErrRepository, cmd.ProductID, err)
	}

	result.Decremented = true
	result.Remaining = item.Available
	span.AddEvent("inventory.decremented",
		trace.WithAttributes(
			attribute.String("product.id", cmd.ProductID),
			attribute.Int("inventory.remaining", item.Available),
		),
	)

	// A lost event never undoes a committed decrement.
	publishErr = uc.publish(ctx, endpointDecremented,
		dominv.NewStockDecrementedEvent(cmd.OrderID, cmd.OrderRef, cmd.ProductID, cmd.Quantity, item.Available))
	if publishErr != nil {
		statusText = "EVENT_PUBLISH_FAILED"
	}
	return result, nil
}

func (uc *DecrementStockUseCase) publish(ctx context.Context, endpoint string, event domoutbox.Event) error {
	if uc.publisher == nil || event == nil {
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	start := time.Now()
	err := uc.publisher.Publish(pubCtx, event)
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if pubCtx.Err() != nil {
		outcome = "canceled"
		err = pubCtx.Err()
	}
	cancel()

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpoint),
	)

	return err
}

// FailureReasonFromError maps an adjuster error to its stable reason code.
func FailureReasonFromError(err error) string {
	switch {
	case errors.Is(err, dominv.ErrNotFound):
		return dominv.FailureReasonNotFound
	case errors.Is(err, dominv.ErrInvalidQuantity):
		return dominv.FailureReasonInvalidQuantity
	case errors.Is(err, dominv.ErrInsufficientStock):
		return dominv.FailureReasonInsufficientStock
	default:
		return dominv.FailureReasonStoreUnavailable
	}
}

func isDomainError(err error) bool {
	return errors.Is(err, dominv.ErrNotFound) ||
		errors.Is(err, dominv.ErrInvalidQuantity) ||
		errors.Is(err, dominv.ErrInsufficientStock)
}
