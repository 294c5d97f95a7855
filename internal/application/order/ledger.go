package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	useCaseConfirmPayment = "order.confirm_payment"
	defaultMaxAttempts    = 2
	defaultStoreTimeout   = 3 * time.Second
)

var (
	ErrConflict     = domain.ErrConflict
	ErrNotFound     = domain.ErrNotFound
	ErrRepository   = errors.New("order: repository failure")
	ErrInvalidInput = errors.New("order: order and payment references are required")
)

type LedgerOptions struct {
	// MaxAttempts bounds lookup-and-transition rounds after a lost conditioned write.
	MaxAttempts  int
	StoreTimeout time.Duration
}

type ConfirmPaymentInput struct {
	OrderRef   string
	PaymentRef string
	Signature  string
}

type ConfirmPaymentResult struct {
	Order *domain.Order
	// FirstConfirmation is true only for the caller whose write moved the order to paid.
	FirstConfirmation bool
	Attempts          int
}

// ConfirmPaymentUseCase is the order ledger: it moves an order from pending to
// paid exactly once, however many times the gateway delivers the callback.
type ConfirmPaymentUseCase struct {
	repo         domain.Repository
	maxAttempts  int
	storeTimeout time.Duration

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewConfirmPaymentUseCase(repo domain.Repository, opts LedgerOptions, tel observability.Observability) *ConfirmPaymentUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	return &ConfirmPaymentUseCase{
		repo:         repo,
		maxAttempts:  opts.MaxAttempts,
		storeTimeout: opts.StoreTimeout,
		log:          tel.Logger().With(observability.F("service", orderService)),
		tracer:       tel.Tracer(),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

func (uc *ConfirmPaymentUseCase) Execute(ctx context.Context, cmd ConfirmPaymentInput) (_ *ConfirmPaymentResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseConfirmPayment),
		observability.F("order_ref", cmd.OrderRef),
	)
	ctx, span := uc.tracer.Start(ctx, spanPrefix+"ConfirmPayment",
		attribute.String("use_case", useCaseConfirmPayment),
		attribute.String("order.reference", cmd.OrderRef),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	attempts := 0

	defer func() {
		lat := time.Since(start).Seconds()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseConfirmPayment),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseConfirmPayment))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("attempts", attempts),
			observability.F("latency_seconds", lat),
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

	if cmd.OrderRef == "" || cmd.PaymentRef == "" {
		outcome, statusText = "error", "INPUT_INVALID"
		return nil, ErrInvalidInput
	}

	for attempts < uc.maxAttempts {
		attempts++
		res, attemptErr := uc.attempt(ctx, cmd)
		switch {
		case attemptErr == nil:
			res.Attempts = attempts
			if res.FirstConfirmation {
				statusText = "CONFIRMED"
			} else {
				statusText = "ALREADY_CONFIRMED"
			}
			span.SetAttributes(
				attribute.Bool("order.first_confirmation", res.FirstConfirmation),
				attribute.Int64("order.version", res.Order.Version),
			)
			return res, nil
		case errors.Is(attemptErr, domain.ErrConflict):
			span.AddEvent("order.confirm_conflict", trace.WithAttributes(attribute.Int("attempt", attempts)))
			logger.Warn("order_confirm_conflict", observability.F("attempt", attempts))
			continue
		case errors.Is(attemptErr, domain.ErrNotFound):
			outcome, statusText = "error", "ORDER_NOT_FOUND"
			return nil, fmt.Errorf("order: find %q: %w", cmd.OrderRef, ErrNotFound)
		case errors.Is(attemptErr, domain.ErrInvalidStateTransition):
			outcome, statusText = "error", "STATE_TRANSITION_FAILED"
			return nil, fmt.Errorf("order: confirm payment: %w", attemptErr)
		default:
			outcome, statusText = "error", "REPOSITORY_FAILED"
			return nil, wrapRepositoryError(attemptErr)
		}
	}

	outcome, statusText = "error", "CONFLICT_EXHAUSTED"
	return nil, fmt.Errorf("order: confirm payment after %d attempts: %w", attempts, ErrConflict)
}

// attempt performs one lookup-and-transition round. The write is conditioned
// on the version read here, so a concurrent winner turns it into ErrConflict.
func (uc *ConfirmPaymentUseCase) attempt(ctx context.Context, cmd ConfirmPaymentInput) (*ConfirmPaymentResult, error) {
	findCtx, cancel := context.WithTimeout(ctx, uc.storeTimeout)
	current, err := uc.repo.FindByReference(findCtx, cmd.OrderRef)
	cancel()
	if err != nil {
		return nil, err
	}

	if current.IsPaid() {
		if current.PaymentRef != cmd.PaymentRef {
			logctx.FromOr(ctx, uc.log).Warn("order_payment_ref_mismatch",
				observability.F("order_ref", cmd.OrderRef),
				observability.F("stored_payment_ref", current.PaymentRef),
				observability.F("payment_ref", cmd.PaymentRef),
			)
		}
		return &ConfirmPaymentResult{Order: current}, nil
	}

	expected := current.Version
	if err := current.ConfirmPayment(cmd.PaymentRef, cmd.Signature); err != nil {
		return nil, err
	}

	updCtx, cancel := context.WithTimeout(ctx, uc.storeTimeout)
	defer cancel()
	if err := uc.repo.UpdateIfVersion(updCtx, current, expected); err != nil {
		return nil, err
	}
	return &ConfirmPaymentResult{Order: current, FirstConfirmation: true}, nil
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
