// internal/service/order/domain/order.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 是订单聚合的根实体
type Order struct {
	ID             string
	TotalAmount    decimal.Decimal
	TotalItems     int
	Status         Status
	Paid           bool
	PaidAt         *time.Time
	StripeChargeID string // 支付网关的支付引用，未支付时为空
	Items          []OrderItem
	Receipt        *OrderReceipt
	Version        int // 乐观锁版本号
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderItem 是订单行值对象。Price 是下单时的单价快照，之后不随目录变化。
type OrderItem struct {
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
	Name      string // 仅用于展示，不持久化
}

// OrderReceipt 每个订单至多一张
type OrderReceipt struct {
	OrderID    string
	ReceiptURL string
	CreatedAt  time.Time
}

// 工厂函数: NewOrder 用定价结果创建一个 PENDING 订单
func NewOrder(id string, quote Quote, now time.Time) *Order {
	items := make([]OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.Price,
			Name:      line.Name,
		})
	}
	return &Order{
		ID:          id,
		TotalAmount: quote.TotalAmount,
		TotalItems:  quote.TotalItems,
		Status:      StatusPending, // 初始状态
		Items:       items,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ChangeStatus 执行状态流转。目标状态与当前相同时返回 changed=false 且不修改订单。
func (o *Order) ChangeStatus(to Status, now time.Time) (bool, error) {
	if o.Status == to {
		return false, nil
	}
	if err := ValidateTransition(o.Status, to); err != nil {
		return false, err
	}
	o.Status = to
	o.UpdatedAt = now
	return true, nil
}

// MarkPaid 记录支付确认并生成收据。
// 同一支付引用重复确认是无操作；已用其他支付引用付过款则返回 ErrPaymentConflict。
func (o *Order) MarkPaid(c PaymentConfirmation, now time.Time) (bool, error) {
	if o.Paid {
		if o.StripeChargeID == c.PaymentID {
			return false, nil
		}
		return false, ErrPaymentConflict
	}
	// 人工改为 PAID 但尚未收到确认的订单，这里是 PAID -> PAID，允许补记支付信息
	if err := ValidateTransition(o.Status, StatusPaid); err != nil {
		return false, err
	}
	paidAt := now
	o.Status = StatusPaid
	o.Paid = true
	o.PaidAt = &paidAt
	o.StripeChargeID = c.PaymentID
	o.Receipt = &OrderReceipt{OrderID: o.ID, ReceiptURL: c.ReceiptURL, CreatedAt: now}
	o.UpdatedAt = now
	return true, nil
}

// ProductIDs 返回订单行中去重后的商品ID
func (o *Order) ProductIDs() []int64 {
	lines := make([]LineRequest, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, LineRequest{ProductID: it.ProductID})
	}
	return DistinctProductIDs(lines)
}

// ApplyProductNames 用商品目录补全订单行的展示名称
func (o *Order) ApplyProductNames(catalog Catalog) {
	for i := range o.Items {
		if p, ok := catalog[o.Items[i].ProductID]; ok {
			o.Items[i].Name = p.Name
		}
	}
}
