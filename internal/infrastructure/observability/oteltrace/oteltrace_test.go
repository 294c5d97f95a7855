package oteltrace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestStartPutsSpanOnContext(t *testing.T) {
	tr := New("")

	ctx, span := tr.Start(context.Background(), "UC.fulfillment.confirm_callback",
		attribute.String("order.ref", "ORD-1"))
	defer span.End()

	assert.NotNil(t, span)
	assert.Equal(t, span, trace.SpanFromContext(ctx))
}
