package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/domain"
)

const serviceName = "order-service"

// 请求体上限
const maxBodyBytes = 1 << 20

// OrderService 是 HTTP 层依赖的应用服务能力
type OrderService interface {
	CreateOrder(ctx context.Context, cmd application.CreateOrderCommand) (*domain.Order, error)
	Checkout(ctx context.Context, cmd application.CreateOrderCommand) (*application.CheckoutResult, error)
	FindAll(ctx context.Context, q application.ListOrdersQuery) (*application.OrderPage, error)
	FindOne(ctx context.Context, id string) (*domain.Order, error)
	ChangeOrderStatus(ctx context.Context, id string, status domain.Status) (*domain.Order, error)
	PaymentSessionForOrder(ctx context.Context, id string) (json.RawMessage, error)
}

type changeStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING PAID DELIVERED CANCELLED"`
}

// OrderHandler 封装了订单服务的 HTTP 处理器
type OrderHandler struct {
	service  OrderService
	validate *validator.Validate
	tracer   trace.Tracer
	metrics  *metrics.OrderMetrics
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service OrderService, m *metrics.OrderMetrics) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   otel.Tracer(serviceName),
		metrics:  m,
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("POST /orders", h.traced("createOrder", h.createOrder))
	mux.Handle("POST /orders/checkout", h.traced("checkout", h.checkout))
	mux.Handle("GET /orders", h.traced("findAllOrders", h.findAll))
	mux.Handle("GET /orders/{id}", h.traced("findOneOrder", h.findOne))
	mux.Handle("PATCH /orders/{id}/status", h.traced("changeOrderStatus", h.changeStatus))
	mux.Handle("POST /orders/{id}/payment-session", h.traced("createPaymentSession", h.paymentSession))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// traced 从请求头恢复链路上下文，为每个请求开一个 span 并记录请求指标
func (h *OrderHandler) traced(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, "http."+name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		h.metrics.HTTPRequest(name, rec.status)
	})
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decodeCreateCommand(w, r)
	if !ok {
		return
	}
	order, err := h.service.CreateOrder(r.Context(), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.NewOrderView(order))
}

func (h *OrderHandler) checkout(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decodeCreateCommand(w, r)
	if !ok {
		return
	}
	res, err := h.service.Checkout(r.Context(), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *OrderHandler) findAll(w http.ResponseWriter, r *http.Request) {
	q := application.ListOrdersQuery{}
	params := r.URL.Query()

	if s := params.Get("status"); s != "" {
		status, err := domain.ParseStatus(s)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
			return
		}
		q.Status = &status
	}
	var err error
	if q.Page, err = positiveParam(params.Get("page")); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: page %v", domain.ErrInvalidInput, err))
		return
	}
	if q.Limit, err = positiveParam(params.Get("limit")); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: limit %v", domain.ErrInvalidInput, err))
		return
	}

	page, err := h.service.FindAll(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OrderHandler) findOne(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.FindOne(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewOrderView(order))
}

func (h *OrderHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req changeStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.ChangeOrderStatus(r.Context(), id, domain.Status(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewOrderView(order))
}

func (h *OrderHandler) paymentSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	session, err := h.service.PaymentSessionForOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *OrderHandler) decodeCreateCommand(w http.ResponseWriter, r *http.Request) (application.CreateOrderCommand, bool) {
	var cmd application.CreateOrderCommand
	ok := h.decode(w, r, &cmd)
	return cmd, ok
}

// decode 解析 JSON 请求体并做结构校验，失败时直接写 400
func (h *OrderHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidInput, err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return false
	}
	return true
}

// orderID 订单ID必须是 UUID
func (h *OrderHandler) orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := h.validate.Var(id, "required,uuid"); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: order id must be a UUID", domain.ErrInvalidInput))
		return "", false
	}
	return id, true
}

func (h *OrderHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	fault := FaultFrom(err)
	if fault.Status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Int("status", fault.Status).Msg("request failed")
	}
	writeJSON(w, fault.Status, fault)
}

func positiveParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer, got %q", s)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
