package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/domain"
)

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.FixedZone("CST", 8*3600))

type fixture struct {
	svc      *OrderApplicationService
	repo     *memoryRepository
	catalog  *fakeCatalog
	payments *fakePayments
	events   *fakeEvents
	metrics  *metrics.OrderMetrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemoryRepository(),
		catalog:  newFakeCatalog(product(1, "Keyboard", "10"), product(2, "Mouse", "4.50")),
		payments: &fakePayments{session: json.RawMessage(`{"url":"https://checkout.example/s/1"}`)},
		events:   &fakeEvents{},
		metrics:  metrics.NewOrderMetrics(prometheus.NewRegistry()),
	}
	seq := 0
	base := []Option{
		WithEventPublisher(f.events),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("order-%02d", seq) }),
	}
	f.svc = NewOrderApplicationService(f.repo, f.catalog, f.payments, append(base, opts...)...)
	return f
}

func createCmd(items ...CreateOrderItem) CreateOrderCommand {
	return CreateOrderCommand{Items: items}
}

func TestCreateOrderPricesFromCatalog(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.CreateOrder(context.Background(), createCmd(CreateOrderItem{ProductID: 1, Quantity: 2}))
	require.NoError(t, err)

	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 2, order.TotalItems)
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.False(t, order.Paid)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Keyboard", order.Items[0].Name)
	assert.True(t, order.Items[0].Price.Equal(decimal.NewFromInt(10)))

	stored, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 0, f.payments.calls)
	assert.Empty(t, f.events.events)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrdersCreated))
	// 创建时间取注入的时钟并统一为 UTC
	assert.True(t, order.CreatedAt.Equal(fixedNow))
	assert.Equal(t, time.UTC, order.CreatedAt.Location())
}

func TestCreateOrderUnknownProductWritesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), createCmd(
		CreateOrderItem{ProductID: 1, Quantity: 1},
		CreateOrderItem{ProductID: 99, Quantity: 1},
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamValidation))
	assert.True(t, errors.Is(err, domain.ErrUnknownProduct))
	assert.Zero(t, f.repo.writes)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationFailures.WithLabelValues("create", "upstream_validation")))
}

func TestCreateOrderIncompleteCatalogReply(t *testing.T) {
	f := newFixture(t)
	f.catalog.partial = true

	_, err := f.svc.CreateOrder(context.Background(), createCmd(CreateOrderItem{ProductID: 99, Quantity: 1}))
	assert.True(t, errors.Is(err, domain.ErrUnknownProduct))
	assert.Zero(t, f.repo.writes)
}

func TestCreateOrderValidatorUnavailable(t *testing.T) {
	f := newFixture(t)
	f.catalog.err = errors.New("connection refused")

	_, err := f.svc.CreateOrder(context.Background(), createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	assert.True(t, errors.Is(err, domain.ErrUpstreamValidation))
	assert.False(t, errors.Is(err, domain.ErrUnknownProduct))
	assert.Zero(t, f.repo.writes)
}

func TestCreateOrderPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.createFn = func(*domain.Order) error { return errors.New("deadlock") }

	_, err := f.svc.CreateOrder(context.Background(), createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	assert.True(t, errors.Is(err, domain.ErrPersistence))
	assert.Empty(t, f.repo.orders)
}

func TestCreateOrderCancelledBeforePersist(t *testing.T) {
	repo := newMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	// 商品校验完成后、写库前取消
	catalog := cancellingCatalog{inner: newFakeCatalog(product(1, "Keyboard", "10")), cancel: cancel}
	svc := NewOrderApplicationService(repo, catalog, &fakePayments{})

	_, err := svc.CreateOrder(ctx, createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, repo.writes)
}

type cancellingCatalog struct {
	inner  *fakeCatalog
	cancel context.CancelFunc
}

func (c cancellingCatalog) ValidateProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	defer c.cancel()
	return c.inner.ValidateProducts(ctx, ids)
}

func TestCreateOrderRejectsEmptyItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), createCmd())
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Zero(t, f.catalog.calls)
}

func TestCreateOrderRejectsQuantityOutOfRange(t *testing.T) {
	f := newFixture(t)

	for _, qty := range []int{domain.MaxLineQuantity + 1, math.MaxInt} {
		_, err := f.svc.CreateOrder(context.Background(), createCmd(CreateOrderItem{ProductID: 1, Quantity: qty}))
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "quantity %d", qty)
		assert.False(t, errors.Is(err, domain.ErrUpstreamValidation), "quantity %d", qty)
	}
	assert.Zero(t, f.repo.writes)
}

func TestCreateOrderProductRule(t *testing.T) {
	f := newFixture(t, WithProductRule(ruleFunc(func(p domain.Product) (bool, error) {
		return p.ID != 2, nil
	})))

	_, err := f.svc.CreateOrder(context.Background(), createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(context.Background(), createCmd(CreateOrderItem{ProductID: 2, Quantity: 1}))
	assert.True(t, errors.Is(err, domain.ErrProductRejected))
	assert.Equal(t, 1, f.repo.writes)
}

func TestFindAllPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := f.svc.CreateOrder(ctx, createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
		require.NoError(t, err)
	}

	page, err := f.svc.FindAll(ctx, ListOrdersQuery{Page: 3, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, PageMeta{Total: 25, Page: 3, LastPage: 3}, page.Meta)
	assert.Len(t, page.Data, 5)

	defaults, err := f.svc.FindAll(ctx, ListOrdersQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, defaults.Meta.Page)
	assert.Len(t, defaults.Data, 10)

	paid := domain.StatusPaid
	filtered, err := f.svc.FindAll(ctx, ListOrdersQuery{Status: &paid})
	require.NoError(t, err)
	assert.Equal(t, PageMeta{Total: 0, Page: 1, LastPage: 0}, filtered.Meta)
	assert.Empty(t, filtered.Data)
}

func TestFindAllCapsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		_, err := f.svc.CreateOrder(ctx, createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
		require.NoError(t, err)
	}

	page, err := f.svc.FindAll(ctx, ListOrdersQuery{Page: 1, Limit: 1 << 30})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, f.repo.lastPage.Limit)
	assert.Len(t, page.Data, maxLimit)
	assert.Equal(t, PageMeta{Total: 120, Page: 1, LastPage: 2}, page.Meta)
}

func TestFindOneEnrichesNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateOrder(ctx, createCmd(
		CreateOrderItem{ProductID: 1, Quantity: 1},
		CreateOrderItem{ProductID: 2, Quantity: 3},
	))
	require.NoError(t, err)

	got, err := f.svc.FindOne(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Keyboard", got.Items[0].Name)
	assert.Equal(t, "Mouse", got.Items[1].Name)
}

func TestFindOneNotFoundSkipsValidator(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.FindOne(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
	assert.Zero(t, f.catalog.calls)
}

func TestChangeOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateOrder(ctx, createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	writes := f.repo.writes

	same, err := f.svc.ChangeOrderStatus(ctx, created.ID, domain.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, same.Status)
	assert.Equal(t, writes, f.repo.writes)
	assert.Empty(t, f.events.events)

	cancelled, err := f.svc.ChangeOrderStatus(ctx, created.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.StatusCancelled, f.events.events[0].Status)

	_, err = f.svc.ChangeOrderStatus(ctx, created.ID, domain.StatusPaid)
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.StatusCancelled, te.From)
	assert.Equal(t, domain.StatusPaid, te.To)

	_, err = f.svc.ChangeOrderStatus(ctx, "missing", domain.StatusPaid)
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))

	_, err = f.svc.ChangeOrderStatus(ctx, created.ID, domain.Status("SHIPPED"))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestChangeOrderStatusEventFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("kafka unavailable")
	ctx := context.Background()
	created, err := f.svc.CreateOrder(ctx, createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.ChangeOrderStatus(ctx, created.ID, domain.StatusPaid)
	assert.NoError(t, err)
}

func TestCreatePaymentSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, createCmd(CreateOrderItem{ProductID: 2, Quantity: 2}))
	require.NoError(t, err)

	session, err := f.svc.CreatePaymentSession(ctx, order)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://checkout.example/s/1"}`, string(session))

	assert.Equal(t, order.ID, f.payments.req.OrderID)
	assert.Equal(t, "usd", f.payments.req.Currency)
	require.Len(t, f.payments.req.Items, 1)
	assert.Equal(t, "Mouse", f.payments.req.Items[0].Name)
	assert.Equal(t, 2, f.payments.req.Items[0].Quantity)
	assert.True(t, f.payments.req.Items[0].Price.Equal(decimal.RequireFromString("4.50")))

	f.payments.err = errors.New("stripe down")
	_, err = f.svc.CreatePaymentSession(ctx, order)
	assert.True(t, errors.Is(err, domain.ErrUpstreamPayment))
}

func TestCheckoutKeepsOrderWhenSessionFails(t *testing.T) {
	f := newFixture(t)
	f.payments.err = errors.New("stripe down")

	_, err := f.svc.Checkout(context.Background(), createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	assert.True(t, errors.Is(err, domain.ErrUpstreamPayment))
	require.Len(t, f.repo.orders, 1)
	for _, o := range f.repo.orders {
		assert.Equal(t, domain.StatusPending, o.Status)
	}
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Checkout(context.Background(), createCmd(CreateOrderItem{ProductID: 1, Quantity: 3}))
	require.NoError(t, err)
	assert.True(t, res.Order.TotalAmount.Equal(decimal.NewFromInt(30)))
	assert.JSONEq(t, `{"url":"https://checkout.example/s/1"}`, string(res.PaymentSession))
}

func TestPaymentSessionForOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.PaymentSessionForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Keyboard", f.payments.req.Items[0].Name)

	_, err = f.svc.PaymentSessionForOrder(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
}

func TestHandlePaymentSucceededIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	conf := domain.PaymentConfirmation{OrderID: order.ID, PaymentID: "ch_1", ReceiptURL: "https://pay.example/r/1"}

	paid, err := f.svc.HandlePaymentSucceeded(ctx, conf)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	assert.True(t, paid.Paid)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.Receipt)
	firstPaidAt := *paid.PaidAt

	again, err := f.svc.HandlePaymentSucceeded(ctx, conf)
	require.NoError(t, err)
	assert.Equal(t, firstPaidAt, *again.PaidAt)
	assert.Len(t, f.events.events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PaymentConfirmations.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PaymentConfirmations.WithLabelValues("duplicate")))
}

func TestHandlePaymentSucceededErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.HandlePaymentSucceeded(ctx, domain.PaymentConfirmation{OrderID: "missing", PaymentID: "ch_1"})
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))

	_, err = f.svc.HandlePaymentSucceeded(ctx, domain.PaymentConfirmation{OrderID: "x"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	order, err := f.svc.CreateOrder(ctx, createCmd(CreateOrderItem{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	_, err = f.svc.ChangeOrderStatus(ctx, order.ID, domain.StatusCancelled)
	require.NoError(t, err)
	_, err = f.svc.HandlePaymentSucceeded(ctx, domain.PaymentConfirmation{OrderID: order.ID, PaymentID: "ch_1"})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{err: &domain.NotFoundError{OrderID: "x"}, want: "not_found"},
		{err: &domain.TransitionError{From: domain.StatusPaid, To: domain.StatusPending}, want: "invalid_transition"},
		{err: fmt.Errorf("%w: boom", domain.ErrPersistence), want: "persistence"},
		{err: fmt.Errorf("%w: %w", domain.ErrUpstreamValidation, domain.ErrUnknownProduct), want: "upstream_validation"},
		{err: context.DeadlineExceeded, want: "timeout"},
		{err: errors.New("other"), want: "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorKind(tc.err), tc.err.Error())
	}
}
