package observability

// RED metrics shared by every entry point.
const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
)

// Fulfillment business counters.
const (
	// MPaymentCallbacks is labelled with the callback outcome.
	MPaymentCallbacks MetricKey = "payment_callbacks_total"
	// MStockAdjustments is labelled "decremented" or the failure reason.
	MStockAdjustments MetricKey = "stock_adjustments_total"
)
