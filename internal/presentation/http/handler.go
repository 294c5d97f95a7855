package httppresentation

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
	appInventory "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/inventory"
	appOrder "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/order"
	domainInventory "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	domainOrder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	domainPayment "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerTenantID       = "X-Tenant-ID"
	maxBodyBytes         = 1 << 20
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the application entry points the HTTP layer calls into.
type Services struct {
	Callbacks   application.UseCase[domainPayment.Callback, *fulfillment.Result]
	CreateOrder application.UseCase[appOrder.CreateOrderInput, *appOrder.CreateOrderResult]
	Orders      *appOrder.Service
	Inventory   *appInventory.Service
	Store       Pinger
}

type Handler struct {
	svc          Services
	log          observability.Logger
	metrics      http.Handler
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewHandler(svc Services, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		svc:          svc,
		log:          tel.Logger().With(observability.F("component", componentHTTPHandler)),
		reqCounter:   tel.Metrics().Counter(observability.MHTTPRequests),
		durHistogram: tel.Metrics().Histogram(observability.MHTTPRequestDuration),
	}
}

// WithMetricsHandler mounts the exposition handler on GET /metrics.
func (h *Handler) WithMetricsHandler(m http.Handler) *Handler {
	h.metrics = m
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	h.handle(r, http.MethodPost, "/payment/verify", h.handleVerifyPayment)
	h.handle(r, http.MethodPost, "/orders", h.handleCreateOrder)
	h.handle(r, http.MethodGet, "/orders/{orderRef}", h.handleGetOrder)
	h.handle(r, http.MethodGet, "/reconciliation", h.handleListReconciliation)
	h.handle(r, http.MethodGet, "/inventory/{productID}", h.handleGetStock)
	h.handle(r, http.MethodPut, "/inventory/{productID}", h.handleSetStock)
	h.handle(r, http.MethodGet, "/health", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	return r
}

func (h *Handler) handle(r chi.Router, method, route string, handler http.HandlerFunc) {
	label := method + " " + route
	wrapped := h.withTrace(h.withRequestScope(h.withAccessLog(handler)))
	r.Method(method, route, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Stable route template for low-cardinality labels.
		wrapped.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), label)))
	}))
}

type verifyPaymentRequest struct {
	OrderRef   string `json:"orderRef"`
	PaymentRef string `json:"paymentRef"`
	Signature  string `json:"signature"`
}

type verifyPaymentResponse struct {
	Success     bool   `json:"success"`
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		// Malformed bodies are reported the same way as missing fields.
		writeMessage(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	res, err := h.svc.Callbacks.Execute(r.Context(), domainPayment.Callback{
		OrderRef:   req.OrderRef,
		PaymentRef: req.PaymentRef,
		Signature:  req.Signature,
	})
	if err != nil {
		writeCallbackError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyPaymentResponse{
		Success:     true,
		OrderID:     res.Order.ID,
		OrderNumber: res.Order.Number,
	})
}

type createOrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type createOrderRequest struct {
	CustomerID string            `json:"customerId"`
	OrderRef   string            `json:"orderRef"`
	Items      []createOrderItem `json:"items"`
}

type createOrderResponse struct {
	OrderID     string `json:"orderId"`
	OrderRef    string `json:"orderRef"`
	OrderNumber string `json:"orderNumber"`
	Total       int64  `json:"total"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]appOrder.CreateOrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, appOrder.CreateOrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	res, err := h.svc.CreateOrder.Execute(r.Context(), appOrder.CreateOrderInput{
		CustomerID: req.CustomerID,
		Reference:  req.OrderRef,
		Items:      items,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:     res.Order.ID,
		OrderRef:    res.Order.Reference,
		OrderNumber: res.Order.Number,
		Total:       res.Order.Total(),
	})
}

type lineItemView struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type issueView struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type orderView struct {
	OrderID             string         `json:"orderId"`
	OrderRef            string         `json:"orderRef"`
	OrderNumber         string         `json:"orderNumber"`
	CustomerID          string         `json:"customerId,omitempty"`
	PaymentStatus       string         `json:"paymentStatus"`
	FulfillmentStatus   string         `json:"fulfillmentStatus"`
	PaymentRef          string         `json:"paymentRef,omitempty"`
	Items               []lineItemView `json:"items"`
	Total               int64          `json:"total"`
	NeedsReconciliation bool           `json:"needsReconciliation"`
	Issues              []issueView    `json:"issues,omitempty"`
	Version             int64          `json:"version"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
	PaidAt              *time.Time     `json:"paidAt,omitempty"`
	StockAdjustedAt     *time.Time     `json:"stockAdjustedAt,omitempty"`
}

func newOrderView(o *domainOrder.Order) orderView {
	v := orderView{
		OrderID:             o.ID,
		OrderRef:            o.Reference,
		OrderNumber:         o.Number,
		CustomerID:          o.CustomerID,
		PaymentStatus:       string(o.PaymentStatus),
		FulfillmentStatus:   string(o.FulfillmentStatus),
		PaymentRef:          o.PaymentRef,
		Items:               make([]lineItemView, 0, len(o.Items)),
		Total:               o.Total(),
		NeedsReconciliation: o.NeedsReconciliation,
		Version:             o.Version,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
		PaidAt:              o.PaidAt,
		StockAdjustedAt:     o.StockAdjustedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, lineItemView{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	for _, is := range o.Issues {
		v.Issues = append(v.Issues, issueView{ProductID: is.ProductID, Quantity: is.Quantity, Reason: is.Reason})
	}
	return v
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Orders.Get(r.Context(), chi.URLParam(r, "orderRef"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

func (h *Handler) handleListReconciliation(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Orders.NeedingReconciliation(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

type stockRequest struct {
	Available *int `json:"available"`
}

type stockView struct {
	ProductID string    `json:"productId"`
	Available int       `json:"available"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newStockView(it *domainInventory.Item) stockView {
	return stockView{ProductID: it.ProductID, Available: it.Available, Version: it.Version, UpdatedAt: it.UpdatedAt}
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Inventory.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStockView(item))
}

func (h *Handler) handleSetStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Available == nil {
		writeMessage(w, http.StatusBadRequest, "available is required")
		return
	}

	item, err := h.svc.Inventory.SetStock(r.Context(), chi.URLParam(r, "productID"), *req.Available)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStockView(item))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.svc.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.svc.Store.Ping(ctx); err != nil {
			logctx.FromOr(r.Context(), h.log).Warn("health_check_failed", observability.Err(err))
			writeMessage(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, strict bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		decoder.DisallowUnknownFields()
	}
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
