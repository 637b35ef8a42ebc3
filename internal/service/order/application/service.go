// internal/service/order/application/service.go
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/application/saga"
	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/domain/port"
)

// OrderApplicationService 负责订单生命周期的流程编排：下单、查询、状态流转、支付会话和支付确认。
// 远程调用都发生在写库事务之外。
type OrderApplicationService struct {
	orderRepo domain.OrderRepository
	catalog   port.ProductCatalog
	payments  port.PaymentGateway
	events    port.OrderEventPublisher
	rule      port.ProductRule

	strictSource    func() bool
	currency        string
	upstreamTimeout time.Duration
	storeTimeout    time.Duration

	tracer  trace.Tracer
	metrics *metrics.OrderMetrics
	now     func() time.Time
	newID   func() string

	createChain saga.Handler
}

type Option func(*OrderApplicationService)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *OrderApplicationService) { s.tracer = tracer }
}

func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *OrderApplicationService) { s.metrics = m }
}

func WithEventPublisher(p port.OrderEventPublisher) Option {
	return func(s *OrderApplicationService) { s.events = p }
}

func WithProductRule(r port.ProductRule) Option {
	return func(s *OrderApplicationService) { s.rule = r }
}

// WithStrictPricingSource 让严格定价开关随配置热更新
func WithStrictPricingSource(source func() bool) Option {
	return func(s *OrderApplicationService) { s.strictSource = source }
}

func WithCurrency(currency string) Option {
	return func(s *OrderApplicationService) { s.currency = currency }
}

func WithTimeouts(upstream, store time.Duration) Option {
	return func(s *OrderApplicationService) {
		if upstream > 0 {
			s.upstreamTimeout = upstream
		}
		if store > 0 {
			s.storeTimeout = store
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderApplicationService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *OrderApplicationService) { s.newID = newID }
}

func NewOrderApplicationService(orderRepo domain.OrderRepository, catalog port.ProductCatalog, payments port.PaymentGateway, opts ...Option) *OrderApplicationService {
	s := &OrderApplicationService{
		orderRepo:       orderRepo,
		catalog:         catalog,
		payments:        payments,
		currency:        "usd",
		upstreamTimeout: 5 * time.Second,
		storeTimeout:    10 * time.Second,
		tracer:          noop.NewTracerProvider().Tracer("order-service"),
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createChain = saga.BuildCreateOrderChain(saga.ChainDeps{
		Repo:            s.orderRepo,
		Catalog:         s.catalog,
		Rule:            s.rule,
		StrictPricing:   s.strictSource,
		UpstreamTimeout: s.upstreamTimeout,
		StoreTimeout:    s.storeTimeout,
		Metrics:         s.metrics,
	})
	return s
}

// CreateOrder 校验商品、按权威价格定价，并在一个事务中写入 PENDING 订单。
// 返回的订单行带有商品名称；不会请求支付会话。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()

	orderCtx := &saga.OrderContext{
		Ctx:     ctx,
		Tracer:  s.tracer,
		OrderID: s.newID(),
		Now:     s.now().UTC(),
		Lines:   cmd.lines(),
	}
	span.SetAttributes(attribute.String("order.id", orderCtx.OrderID), attribute.Int("order.lines", len(orderCtx.Lines)))

	if len(orderCtx.Lines) == 0 {
		return nil, s.fail(ctx, span, "create", orderCtx.OrderID, fmt.Errorf("%w: order must contain at least one item", domain.ErrInvalidInput))
	}

	if err := s.createChain.Handle(orderCtx); err != nil {
		return nil, s.fail(ctx, span, "create", orderCtx.OrderID, err)
	}

	s.metrics.OrderCreated()
	logger.Ctx(ctx).Info().
		Str("order_id", orderCtx.Order.ID).
		Str("total_amount", orderCtx.Order.TotalAmount.String()).
		Int("total_items", orderCtx.Order.TotalItems).
		Msg("order created")
	span.AddEvent("order created with PENDING status")
	return orderCtx.Order, nil
}

// FindAll 分页查询订单，不补全商品信息
func (s *OrderApplicationService) FindAll(ctx context.Context, q ListOrdersQuery) (*OrderPage, error) {
	ctx, span := s.tracer.Start(ctx, "app.FindAll")
	defer span.End()

	if q.Page <= 0 {
		q.Page = defaultPage
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}

	orders, total, err := s.orderRepo.FindPage(ctx, domain.PageQuery{Status: q.Status, Page: q.Page, Limit: q.Limit})
	if err != nil {
		return nil, s.fail(ctx, span, "findAll", "", s.persistenceError(err))
	}

	page := &OrderPage{
		Data: make([]OrderView, 0, len(orders)),
		Meta: PageMeta{Total: total, Page: q.Page, LastPage: lastPage(total, q.Limit)},
	}
	for _, o := range orders {
		page.Data = append(page.Data, NewOrderView(o))
	}
	return page, nil
}

// FindOne 读取订单并用商品服务补全订单行名称。订单不存在时不调用商品服务。
func (s *OrderApplicationService) FindOne(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.FindOne")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "findOne", id, s.persistenceError(err))
	}
	if len(order.Items) == 0 {
		return order, nil
	}

	catalog, err := saga.ResolveCatalog(ctx, s.catalog, order.ProductIDs(), s.upstreamTimeout, s.metrics)
	if err != nil {
		return nil, s.fail(ctx, span, "findOne", id, err)
	}
	order.ApplyProductNames(catalog)
	return order, nil
}

// ChangeOrderStatus 按状态机流转订单。目标状态与当前相同时原样返回，不写库。
func (s *OrderApplicationService) ChangeOrderStatus(ctx context.Context, id string, status domain.Status) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.ChangeOrderStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id), attribute.String("order.target_status", string(status)))

	if !status.Valid() {
		return nil, s.fail(ctx, span, "changeStatus", id, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status))
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, span, "changeStatus", id, err)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	order, changed, err := s.orderRepo.UpdateStatus(storeCtx, id, status)
	if err != nil {
		return nil, s.fail(ctx, span, "changeStatus", id, s.persistenceError(err))
	}
	if !changed {
		span.AddEvent("status unchanged")
		return order, nil
	}

	s.metrics.Transition(string(order.Status))
	logger.Ctx(ctx).Info().Str("order_id", id).Str("status", string(order.Status)).Msg("order status changed")
	s.publishStatusChanged(ctx, order)
	return order, nil
}

// CreatePaymentSession 把已补全名称的订单发给支付服务，返回的会话引用原样透传
func (s *OrderApplicationService) CreatePaymentSession(ctx context.Context, order *domain.Order) (json.RawMessage, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreatePaymentSession")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID))

	req := port.PaymentSessionRequest{
		OrderID:  order.ID,
		Currency: s.currency,
		Items:    make([]port.PaymentSessionItem, 0, len(order.Items)),
	}
	for _, it := range order.Items {
		req.Items = append(req.Items, port.PaymentSessionItem{Name: it.Name, Price: it.Price, Quantity: it.Quantity})
	}

	callCtx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
	defer cancel()
	start := time.Now()
	session, err := s.payments.CreatePaymentSession(callCtx, req)
	s.metrics.ObserveUpstream("payment", start)
	if err != nil {
		return nil, s.fail(ctx, span, "createPaymentSession", order.ID, fmt.Errorf("%w: %w", domain.ErrUpstreamPayment, err))
	}
	return session, nil
}

// Checkout 下单后立即请求支付会话。支付会话失败时订单保持 PENDING。
func (s *OrderApplicationService) Checkout(ctx context.Context, cmd CreateOrderCommand) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Checkout")
	defer span.End()

	order, err := s.CreateOrder(ctx, cmd)
	if err != nil {
		return nil, err
	}
	session, err := s.CreatePaymentSession(ctx, order)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: NewOrderView(order), PaymentSession: session}, nil
}

// PaymentSessionForOrder 为已存在的订单创建支付会话
func (s *OrderApplicationService) PaymentSessionForOrder(ctx context.Context, id string) (json.RawMessage, error) {
	order, err := s.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.CreatePaymentSession(ctx, order)
}

// HandlePaymentSucceeded 处理支付确认事件。重复确认（同一支付引用）是无操作。
func (s *OrderApplicationService) HandlePaymentSucceeded(ctx context.Context, conf domain.PaymentConfirmation) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.HandlePaymentSucceeded", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(attribute.String("order.id", conf.OrderID), attribute.String("payment.id", conf.PaymentID))

	if conf.OrderID == "" || conf.PaymentID == "" {
		return nil, s.fail(ctx, span, "paymentSucceeded", conf.OrderID, fmt.Errorf("%w: payment confirmation requires orderId and payment id", domain.ErrInvalidInput))
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	order, applied, err := s.orderRepo.RecordPayment(storeCtx, conf.OrderID, conf)
	if err != nil {
		return nil, s.fail(ctx, span, "paymentSucceeded", conf.OrderID, s.persistenceError(err))
	}
	if !applied {
		s.metrics.PaymentConfirmation("duplicate")
		logger.Ctx(ctx).Info().Str("order_id", conf.OrderID).Str("payment_id", conf.PaymentID).Msg("duplicate payment confirmation ignored")
		span.AddEvent("duplicate payment confirmation")
		return order, nil
	}

	s.metrics.PaymentConfirmation("applied")
	s.metrics.Transition(string(order.Status))
	logger.Ctx(ctx).Info().Str("order_id", conf.OrderID).Str("payment_id", conf.PaymentID).Msg("order paid")
	s.publishStatusChanged(ctx, order)
	return order, nil
}

// storeContext 让已经开始的写库不受调用方取消影响
func (s *OrderApplicationService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
}

func (s *OrderApplicationService) publishStatusChanged(ctx context.Context, order *domain.Order) {
	if s.events == nil {
		return
	}
	event := domain.OrderStatusChanged{
		OrderID:    order.ID,
		Status:     order.Status,
		Paid:       order.Paid,
		OccurredAt: order.UpdatedAt,
	}
	if err := s.events.PublishStatusChanged(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("failed to publish order status event")
	}
}

// persistenceError 领域错误原样返回，其他存储错误归类为 ErrPersistence
func (s *OrderApplicationService) persistenceError(err error) error {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrPaymentConflict),
		errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
}

func (s *OrderApplicationService) fail(ctx context.Context, span trace.Span, operation, orderID string, err error) error {
	kind := ErrorKind(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	s.metrics.Failure(operation, kind)

	logger.Ctx(ctx).Error().Err(err).
		Str("operation", operation).
		Str("order_id", orderID).
		Str("kind", kind).
		Msg("order operation failed")
	return err
}

// ErrorKind 把错误归类为一个稳定的短名称，用于指标和日志
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrProductRejected):
		return "product_rejected"
	case errors.Is(err, domain.ErrUpstreamValidation):
		return "upstream_validation"
	case errors.Is(err, domain.ErrUpstreamPayment):
		return "upstream_payment"
	case errors.Is(err, domain.ErrPaymentConflict):
		return "payment_conflict"
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return "concurrent_update"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unknown"
	}
}
