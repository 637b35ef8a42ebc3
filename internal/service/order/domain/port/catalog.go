package port

import (
	"context"

	"orderflow/internal/service/order/domain"
)

// ProductCatalog 是远程商品校验服务的出站端口。
// 未知商品ID必须以 domain.ErrUnknownProduct 报告。
type ProductCatalog interface {
	ValidateProducts(ctx context.Context, ids []int64) ([]domain.Product, error)
}
