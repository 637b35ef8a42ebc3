package port

import "orderflow/internal/service/order/domain"

// ProductRule 在下单时对每个权威商品做准入判断
type ProductRule interface {
	Allow(product domain.Product) (bool, error)
}
