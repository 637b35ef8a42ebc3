package saga

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"orderflow/internal/service/order/domain"
)

// PricingHandler 用权威价格计算订单金额并构造 PENDING 订单
type PricingHandler struct {
	NextHandler
	engine domain.PricingEngine
	strict func() bool // 非空时每次定价读取最新的严格模式开关
}

func NewPricingHandler(engine domain.PricingEngine, strict func() bool) *PricingHandler {
	return &PricingHandler{engine: engine, strict: strict}
}

func (h *PricingHandler) Handle(orderCtx *OrderContext) error {
	_, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.Pricing")
	defer span.End()

	engine := h.engine
	if h.strict != nil {
		engine.Strict = h.strict()
	}
	quote, err := engine.Price(orderCtx.Lines, orderCtx.Catalog)
	if errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	if err != nil {
		// 严格模式下目录缺价，属于商品服务数据问题
		return fmt.Errorf("%w: %w", domain.ErrUpstreamValidation, err)
	}
	orderCtx.Order = domain.NewOrder(orderCtx.OrderID, quote, orderCtx.Now)

	span.SetAttributes(
		attribute.String("order.total_amount", quote.TotalAmount.String()),
		attribute.Int("order.total_items", quote.TotalItems),
	)
	return h.executeNext(orderCtx)
}
