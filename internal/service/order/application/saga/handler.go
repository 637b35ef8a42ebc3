package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/service/order/domain"
)

// OrderContext 在下单责任链中传递上下文数据，每个环节读取上一环节的产出
type OrderContext struct {
	Ctx    context.Context
	Tracer trace.Tracer

	OrderID string
	Now     time.Time
	Lines   []domain.LineRequest

	// 各环节的产出
	Catalog domain.Catalog
	Order   *domain.Order
}

// Handler 是责任链中的一个环节
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(orderCtx *OrderContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(orderCtx *OrderContext) error {
	if h.next != nil {
		return h.next.Handle(orderCtx)
	}
	return nil
}
