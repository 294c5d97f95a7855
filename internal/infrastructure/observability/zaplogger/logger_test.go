package zaplogger

import (
	"errors"
	"testing"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerCarriesFixedAndScopedFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := New(zap.New(core), observability.F("service", "fulfillment"))

	log.With(observability.F("order_ref", "ORD-1")).Warn("stock_short",
		observability.F("error", errors.New("inventory: insufficient stock")),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "stock_short", entries[0].Message)
	assert.Equal(t, "fulfillment", ctx["service"])
	assert.Equal(t, "ORD-1", ctx["order_ref"])
	assert.Equal(t, "inventory: insufficient stock", ctx["error"])
}
