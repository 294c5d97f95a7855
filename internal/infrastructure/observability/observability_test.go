package observability

import (
	"testing"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToNops(t *testing.T) {
	tel := New(nil, nil, nil, nil)
	require.NotNil(t, tel.Tracer())
	require.NotNil(t, tel.Logger())

	assert.NotPanics(t, func() {
		tel.Metrics().Counter(observability.MPaymentCallbacks).Add(1, observability.L("outcome", "confirmed"))
		tel.Metrics().Histogram(observability.MUsecaseDuration).Observe(0.1)
	})
}

func TestInstrumentsAreWired(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters, histograms := Instruments(prometrics.New("", "", reg))
	tel := New(nil, nil, counters, histograms)

	tel.Metrics().Counter(observability.MPaymentCallbacks).Add(1, observability.L("outcome", "confirmed"))
	tel.Metrics().Counter(observability.MStockAdjustments).Add(2, observability.L("outcome", "insufficient_stock"))
	tel.Metrics().Histogram(observability.MUsecaseDuration).Observe(0.02, observability.L("use_case", "order.confirm_payment"))
	tel.Metrics().Counter("unknown_total").Add(1)

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				got[f.GetName()] += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				got[f.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, 1.0, got["payment_callbacks_total"])
	assert.Equal(t, 2.0, got["stock_adjustments_total"])
	assert.Equal(t, 1.0, got["usecase_duration_seconds"])
	assert.NotContains(t, got, "unknown_total")
}
