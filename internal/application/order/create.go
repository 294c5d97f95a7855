package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	spanPrefix         = "UC."
	referencePrefix    = "order_"
	numberPrefix       = "MS"
)

// IDGenerator issues order identifiers and the random part of order references.
type IDGenerator interface {
	NewID() string
}

// CreateOrderUseCase opens a pending order when a payment intent is created.
type CreateOrderUseCase struct {
	repo         domain.Repository
	idGenerator  IDGenerator
	storeTimeout time.Duration
	now          func() time.Time

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewCreateOrderUseCase(repo domain.Repository, idGen IDGenerator, storeTimeout time.Duration, tel observability.Observability) *CreateOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &CreateOrderUseCase{
		repo:         repo,
		idGenerator:  idGen,
		storeTimeout: storeTimeout,
		now:          time.Now,
		log:          tel.Logger().With(observability.F("service", orderService)),
		tracer:       tel.Tracer(),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

type CreateOrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

type CreateOrderInput struct {
	CustomerID string
	// Reference is the gateway order id. Generated when empty.
	Reference string
	Items     []CreateOrderItem
}

type CreateOrderResult struct {
	Order *domain.Order
}

func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *CreateOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseOrderCreate))

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"CreateOrder",
		attribute.String("use_case", useCaseOrderCreate),
		attribute.String("order.customer_id", cmd.CustomerID),
		attribute.Int("order.items", len(cmd.Items)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var reference string

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
			observability.L("use_case", useCaseOrderCreate),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseOrderCreate))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("order_ref", reference),
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

	id := uc.idGenerator.NewID()
	reference = strings.TrimSpace(cmd.Reference)
	if reference == "" {
		reference = referencePrefix + compactID(id, 14)
	}
	number := fmt.Sprintf("%s-%s-%s", numberPrefix, uc.now().UTC().Format("20060102"), strings.ToUpper(compactID(id, 6)))

	items := make([]domain.LineItem, 0, len(cmd.Items))
	for _, it := range cmd.Items {
		items = append(items, domain.LineItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	entity, err := domain.New(id, reference, number, cmd.CustomerID, items)
	if err != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, fmt.Errorf("order: construct: %w", err)
	}

	insCtx, cancel := context.WithTimeout(ctx, uc.storeTimeout)
	defer cancel()
	if err = uc.repo.Insert(insCtx, entity); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			outcome, statusText = "error", "REFERENCE_TAKEN"
		} else {
			outcome, statusText = "error", "REPO_INSERT_FAILED"
		}
		return nil, wrapRepositoryError(err)
	}

	span.AddEvent("order.created", trace.WithAttributes(attribute.String("order.reference", reference)))
	return &CreateOrderResult{Order: entity}, nil
}

func compactID(id string, n int) string {
	s := strings.ReplaceAll(id, "-", "")
	if len(s) > n {
		return s[:n]
	}
	return s
}
