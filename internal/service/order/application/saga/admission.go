package saga

import (
	"fmt"

	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/domain/port"
)

// AdmissionRuleHandler 对每个权威商品执行可选的准入规则；rule 为 nil 时直接放行
type AdmissionRuleHandler struct {
	NextHandler
	rule port.ProductRule
}

func NewAdmissionRuleHandler(rule port.ProductRule) *AdmissionRuleHandler {
	return &AdmissionRuleHandler{rule: rule}
}

func (h *AdmissionRuleHandler) Handle(orderCtx *OrderContext) error {
	if h.rule == nil {
		return h.executeNext(orderCtx)
	}
	for _, id := range domain.DistinctProductIDs(orderCtx.Lines) {
		product, ok := orderCtx.Catalog[id]
		if !ok {
			continue
		}
		allowed, err := h.rule.Allow(product)
		if err != nil {
			return fmt.Errorf("%w: product %d: %w", domain.ErrProductRejected, id, err)
		}
		if !allowed {
			return fmt.Errorf("%w: product %d", domain.ErrProductRejected, id)
		}
	}
	return h.executeNext(orderCtx)
}
