package application

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/domain/port"
)

// memoryRepository 是测试用的内存仓储，复用领域对象上的状态规则
type memoryRepository struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	createFn func(*domain.Order) error
	writes   int
	lastPage domain.PageQuery
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{orders: make(map[string]*domain.Order)}
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	for i := range c.Items {
		c.Items[i].Name = ""
	}
	if o.Receipt != nil {
		r := *o.Receipt
		c.Receipt = &r
	}
	return &c
}

func (r *memoryRepository) CreateWithItems(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createFn != nil {
		if err := r.createFn(order); err != nil {
			return err
		}
	}
	r.orders[order.ID] = clone(order)
	r.writes++
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, &domain.NotFoundError{OrderID: id}
	}
	return clone(o), nil
}

func (r *memoryRepository) FindPage(_ context.Context, q domain.PageQuery) ([]*domain.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPage = q
	var all []*domain.Order
	for _, o := range r.orders {
		if q.Status != nil && o.Status != *q.Status {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	start := (q.Page - 1) * q.Limit
	if start > len(all) {
		start = len(all)
	}
	end := start + q.Limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]*domain.Order, 0, end-start)
	for _, o := range all[start:end] {
		c := clone(o)
		c.Items = nil
		page = append(page, c)
	}
	return page, int64(len(all)), nil
}

func (r *memoryRepository) mutate(id string, apply func(*domain.Order) (bool, error)) (*domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[id]
	if !ok {
		return nil, false, &domain.NotFoundError{OrderID: id}
	}
	o := clone(stored)
	changed, err := apply(o)
	if err != nil {
		return nil, false, err
	}
	if changed {
		o.Version++
		r.orders[id] = clone(o)
		r.writes++
	}
	return o, changed, nil
}

func (r *memoryRepository) UpdateStatus(_ context.Context, id string, to domain.Status) (*domain.Order, bool, error) {
	return r.mutate(id, func(o *domain.Order) (bool, error) { return o.ChangeStatus(to, time.Now()) })
}

func (r *memoryRepository) RecordPayment(_ context.Context, id string, c domain.PaymentConfirmation) (*domain.Order, bool, error) {
	return r.mutate(id, func(o *domain.Order) (bool, error) { return o.MarkPaid(c, time.Now()) })
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	err      error
	calls    int
	// 为 true 时只返回存在的商品而不报错，模拟不完整应答
	partial bool
}

func newFakeCatalog(products ...domain.Product) *fakeCatalog {
	c := &fakeCatalog{products: make(map[int64]domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *fakeCatalog) ValidateProducts(_ context.Context, ids []int64) ([]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	var out []domain.Product
	for _, id := range ids {
		p, ok := c.products[id]
		if !ok {
			if c.partial {
				continue
			}
			return nil, domain.ErrUnknownProduct
		}
		out = append(out, p)
	}
	return out, nil
}

type fakePayments struct {
	req     port.PaymentSessionRequest
	session json.RawMessage
	err     error
	calls   int
}

func (p *fakePayments) CreatePaymentSession(_ context.Context, req port.PaymentSessionRequest) (json.RawMessage, error) {
	p.calls++
	p.req = req
	return p.session, p.err
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.OrderStatusChanged
	err    error
}

func (e *fakeEvents) PublishStatusChanged(_ context.Context, ev domain.OrderStatusChanged) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return e.err
}

type ruleFunc func(domain.Product) (bool, error)

func (f ruleFunc) Allow(p domain.Product) (bool, error) { return f(p) }

func product(id int64, name, price string) domain.Product {
	return domain.Product{ID: id, Name: name, Price: decimal.RequireFromString(price), Available: true}
}
