package workerpresentation

import (
	"context"
	"testing"

	domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEventMiddlewareScopesLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zaplogger.New(zap.New(core))

	h := EventMiddleware(base, "relay")(func(ctx context.Context, _ domoutbox.Event) error {
		logctx.FromOr(ctx, nil).Info("handled")
		return nil
	})
	require.NoError(t, h(context.Background(), domorder.OrderPaidEvent{Reference: "ORD-1"}))

	entries := logs.FilterMessage("handled").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "order.paid", fields["event"])
	assert.Equal(t, "relay", fields["component"])
	assert.Equal(t, "ORD-1", fields["event_key"])
	assert.NotEmpty(t, fields["event_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestWithEventContextKeepsGivenEventID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zaplogger.New(zap.New(core))

	ctx := WithEventContext(context.Background(), base, [16]byte{}, [8]byte{}, map[string]string{"event_id": "evt-9", "empty": ""})
	logctx.FromOr(ctx, nil).Info("x")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "evt-9", fields["event_id"])
	assert.NotContains(t, fields, "empty")
}
