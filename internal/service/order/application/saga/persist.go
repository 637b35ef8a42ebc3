package saga

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"orderflow/internal/service/order/domain"
)

// PersistHandler 在一个事务中写入订单及订单行。
// 调用方在写库前取消则不写；事务一旦开始就不受调用方取消影响，只受 storeTimeout 约束。
type PersistHandler struct {
	NextHandler
	repo         domain.OrderRepository
	storeTimeout time.Duration
}

func NewPersistHandler(repo domain.OrderRepository, storeTimeout time.Duration) *PersistHandler {
	return &PersistHandler{repo: repo, storeTimeout: storeTimeout}
}

func (h *PersistHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.Persist")
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.AddEvent("caller cancelled before persistence")
		return err
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.storeTimeout)
	defer cancel()

	if err := h.repo.CreateWithItems(storeCtx, orderCtx.Order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist order")
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	span.AddEvent("order persisted with PENDING status")
	return h.executeNext(orderCtx)
}
