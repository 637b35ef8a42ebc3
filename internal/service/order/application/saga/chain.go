package saga

import (
	"time"

	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/domain/port"
)

// ChainDeps 是组装下单责任链所需的依赖
type ChainDeps struct {
	Repo            domain.OrderRepository
	Catalog         port.ProductCatalog
	Rule            port.ProductRule
	StrictPricing   func() bool
	UpstreamTimeout time.Duration
	StoreTimeout    time.Duration
	Metrics         *metrics.OrderMetrics
}

// BuildCreateOrderChain 校验商品 -> 准入规则 -> 定价 -> 持久化
func BuildCreateOrderChain(deps ChainDeps) Handler {
	chain := NewValidateProductsHandler(deps.Catalog, deps.UpstreamTimeout, deps.Metrics)
	chain.
		SetNext(NewAdmissionRuleHandler(deps.Rule)).
		SetNext(NewPricingHandler(domain.PricingEngine{}, deps.StrictPricing)).
		SetNext(NewPersistHandler(deps.Repo, deps.StoreTimeout))
	return chain
}
