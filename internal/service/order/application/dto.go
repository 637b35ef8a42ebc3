package application

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/service/order/domain"
)

// CreateOrderItem 是下单请求中的一行，不包含价格
type CreateOrderItem struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0,lte=100000"`
}

// CreateOrderCommand 是下单命令
type CreateOrderCommand struct {
	Items []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
}

func (c CreateOrderCommand) lines() []domain.LineRequest {
	lines := make([]domain.LineRequest, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, domain.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// ListOrdersQuery 是分页查询参数，Page/Limit 为 0 时使用默认值，Limit 最大为 100
type ListOrdersQuery struct {
	Status *domain.Status
	Page   int
	Limit  int
}

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// PageMeta 分页元信息。total 为 0 时 lastPage 为 0。
type PageMeta struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	LastPage int   `json:"lastPage"`
}

type OrderPage struct {
	Data []OrderView `json:"data"`
	Meta PageMeta    `json:"meta"`
}

func lastPage(total int64, limit int) int {
	return int((total + int64(limit) - 1) / int64(limit))
}

// OrderItemView 是返回给调用方的订单行
type OrderItemView struct {
	ProductID int64           `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type OrderReceiptView struct {
	ReceiptURL string    `json:"receiptUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

// OrderView 是订单的对外表示
type OrderView struct {
	ID             string            `json:"id"`
	TotalAmount    decimal.Decimal   `json:"totalAmount"`
	TotalItems     int               `json:"totalItems"`
	Status         domain.Status     `json:"status"`
	Paid           bool              `json:"paid"`
	PaidAt         *time.Time        `json:"paidAt"`
	StripeChargeID string            `json:"stripeChargeId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	Items          []OrderItemView   `json:"items,omitempty"`
	Receipt        *OrderReceiptView `json:"receipt,omitempty"`
}

// NewOrderView 将领域对象转换为 DTO
func NewOrderView(o *domain.Order) OrderView {
	v := OrderView{
		ID:             o.ID,
		TotalAmount:    o.TotalAmount,
		TotalItems:     o.TotalItems,
		Status:         o.Status,
		Paid:           o.Paid,
		PaidAt:         o.PaidAt,
		StripeChargeID: o.StripeChargeID,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, OrderItemView{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}
	if o.Receipt != nil {
		v.Receipt = &OrderReceiptView{ReceiptURL: o.Receipt.ReceiptURL, CreatedAt: o.Receipt.CreatedAt}
	}
	return v
}

// CheckoutResult 是下单并创建支付会话的结果
type CheckoutResult struct {
	Order          OrderView       `json:"order"`
	PaymentSession json.RawMessage `json:"paymentSession"`
}
