package relay

import (
	"context"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
)

const (
	componentRelay = "relay_worker"
	relayPeer      = "kafka"
	defaultTimeout = 5 * time.Second
)

// Relayed lists the events forwarded to the external broker.
var Relayed = []string{
	domorder.OrderPaidEvent{}.EventName(),
	domorder.ReconciliationRequiredEvent{}.EventName(),
	dominv.StockDecrementFailedEvent{}.EventName(),
}

// Worker forwards selected in-process events to an external publisher. A
// failed forward is logged and counted; it never reaches the callback path.
type Worker struct {
	forward      domoutbox.Publisher
	timeout      time.Duration
	log          observability.Logger
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func New(forward domoutbox.Publisher, timeout time.Duration, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Worker{
		forward:      forward,
		timeout:      timeout,
		log:          tel.Logger().With(observability.F("component", componentRelay)),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// Start subscribes the worker. wrap, when set, decorates every handler.
func (w *Worker) Start(sub domoutbox.Subscriber, wrap domoutbox.Middleware) {
	h := domoutbox.Handler(w.handle)
	if wrap != nil {
		h = wrap(h)
	}
	for _, name := range Relayed {
		sub.Subscribe(name, h)
	}
	w.log.Info("relay_worker_started", observability.F("events", len(Relayed)))
}

func (w *Worker) handle(ctx context.Context, e domoutbox.Event) error {
	logger := logctx.FromOr(ctx, w.log)
	name := e.EventName()

	fctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	start := time.Now()
	err := w.forward.Publish(fctx, e)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	w.extCounter.Add(1,
		observability.L("peer", relayPeer),
		observability.L("endpoint", name),
		observability.L("outcome", outcome),
	)
	w.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", relayPeer),
		observability.L("endpoint", name),
	)

	if err != nil {
		logger.Warn("event_relay_failed", observability.F("event", name), observability.Err(err))
		return fmt.Errorf("relay: forward %s: %w", name, err)
	}
	logger.Debug("event_relayed", observability.F("event", name))
	return nil
}
