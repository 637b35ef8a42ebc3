package adapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"orderflow/internal/pkg/httpclient"
	"orderflow/internal/service/order/domain"
)

const validateProductsPath = "/products/validate"

// CatalogHTTPAdapter 实现了 port.ProductCatalog，调用商品服务的批量校验接口。
// 商品服务对未知ID返回 400 或 404，只有这两种状态翻译为 domain.ErrUnknownProduct；
// 鉴权失败、限流等其他 4xx 按下游不可用处理。
type CatalogHTTPAdapter struct {
	client      *httpclient.Client
	serviceName string
}

func NewCatalogHTTPAdapter(client *httpclient.Client, serviceName string) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{client: client, serviceName: serviceName}
}

func (a *CatalogHTTPAdapter) ValidateProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	var products []domain.Product
	err := a.client.PostJSON(ctx, a.serviceName, validateProductsPath, ids, &products)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && unknownProductStatus(se.Code) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, se.Body)
		}
		return nil, errors.Wrap(err, "validate products")
	}
	return products, nil
}

func unknownProductStatus(code int) bool {
	return code == http.StatusBadRequest || code == http.StatusNotFound
}
