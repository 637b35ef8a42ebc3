// internal/service/order/domain/pricing.go
package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// MaxLineQuantity 单个订单行允许的最大数量
	MaxLineQuantity = 100000
	// MoneyScale 金额列为 decimal(12,2)，单价按两位小数取整后参与计算
	MoneyScale int32 = 2
)

// LineRequest 是调用方提交的订单行，只包含商品ID和数量，从不包含价格
type LineRequest struct {
	ProductID int64
	Quantity  int
}

// PricedLine 是定价后的订单行
type PricedLine struct {
	ProductID int64
	Quantity  int
	Price     decimal.Decimal // 单价，来自商品目录
	Name      string
	Matched   bool
}

// Quote 是一次定价的结果
type Quote struct {
	TotalAmount decimal.Decimal
	TotalItems  int
	Lines       []PricedLine
}

// PricingEngine 只使用权威商品价格计算订单金额，是纯函数。
// 数量不在 [1, MaxLineQuantity] 内或总件数溢出时返回 ErrInvalidInput。
// Strict 为 false 时，目录中找不到的订单行按 0 计价；为 true 时返回 ErrUnpricedLine。
type PricingEngine struct {
	Strict bool
}

func (e PricingEngine) Price(lines []LineRequest, catalog Catalog) (Quote, error) {
	quote := Quote{
		TotalAmount: decimal.Zero,
		Lines:       make([]PricedLine, 0, len(lines)),
	}
	for _, line := range lines {
		if line.Quantity <= 0 || line.Quantity > MaxLineQuantity {
			return Quote{}, fmt.Errorf("%w: product %d quantity %d out of range [1, %d]", ErrInvalidInput, line.ProductID, line.Quantity, MaxLineQuantity)
		}
		if quote.TotalItems > math.MaxInt32-line.Quantity {
			return Quote{}, fmt.Errorf("%w: total item count overflows", ErrInvalidInput)
		}

		priced := PricedLine{ProductID: line.ProductID, Quantity: line.Quantity, Price: decimal.Zero}
		if p, ok := catalog[line.ProductID]; ok {
			priced.Price = p.Price.Round(MoneyScale)
			priced.Name = p.Name
			priced.Matched = true
		} else if e.Strict {
			return Quote{}, fmt.Errorf("%w: product %d", ErrUnpricedLine, line.ProductID)
		}

		quote.TotalAmount = quote.TotalAmount.Add(priced.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		quote.TotalItems += line.Quantity
		quote.Lines = append(quote.Lines, priced)
	}
	return quote, nil
}

// DistinctProductIDs 按首次出现的顺序去重
func DistinctProductIDs(lines []LineRequest) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}
