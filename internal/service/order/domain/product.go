// internal/service/order/domain/product.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 是商品服务返回的权威商品记录。订单服务只读取，不拥有它。
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Catalog 是按商品ID索引的商品集合
type Catalog map[int64]Product

func NewCatalog(products []Product) Catalog {
	c := make(Catalog, len(products))
	for _, p := range products {
		c[p.ID] = p
	}
	return c
}

// Missing 返回 ids 中在目录里找不到的商品ID，保持输入顺序
func (c Catalog) Missing(ids []int64) []int64 {
	var missing []int64
	for _, id := range ids {
		if _, ok := c[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
