package saga

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/domain/port"
)

// ValidateProductsHandler 向商品服务请求权威商品记录。
// 任何请求的商品ID缺失都视为校验失败，不会进入定价环节。
type ValidateProductsHandler struct {
	NextHandler
	catalog port.ProductCatalog
	timeout time.Duration
	metrics *metrics.OrderMetrics
}

func NewValidateProductsHandler(catalog port.ProductCatalog, timeout time.Duration, m *metrics.OrderMetrics) *ValidateProductsHandler {
	return &ValidateProductsHandler{catalog: catalog, timeout: timeout, metrics: m}
}

func (h *ValidateProductsHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.ValidateProducts")
	defer span.End()

	ids := domain.DistinctProductIDs(orderCtx.Lines)
	span.SetAttributes(attribute.Int("product.count", len(ids)))

	catalog, err := ResolveCatalog(ctx, h.catalog, ids, h.timeout, h.metrics)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "product validation failed")
		return err
	}
	orderCtx.Catalog = catalog
	return h.executeNext(orderCtx)
}

// ResolveCatalog 调用商品服务并校验返回结果覆盖了全部ID。下单和查询订单详情共用。
func ResolveCatalog(ctx context.Context, catalog port.ProductCatalog, ids []int64, timeout time.Duration, m *metrics.OrderMetrics) (domain.Catalog, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	products, err := catalog.ValidateProducts(callCtx, ids)
	m.ObserveUpstream("catalog", start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamValidation, err)
	}

	resolved := domain.NewCatalog(products)
	if missing := resolved.Missing(ids); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrUpstreamValidation, domain.ErrUnknownProduct, missing)
	}
	return resolved, nil
}
