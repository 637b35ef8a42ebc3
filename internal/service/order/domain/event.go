// internal/service/order/domain/event.go
package domain

import "time"

// PaymentConfirmation 是支付服务在支付成功后发布的 payment.succeeded 事件
type PaymentConfirmation struct {
	OrderID    string `json:"orderId"`
	PaymentID  string `json:"stripePaymentId"`
	ReceiptURL string `json:"receiptUrl"`
}

// OrderStatusChanged 在每次实际发生的状态流转后发布，供下游（发货、通知）订阅
type OrderStatusChanged struct {
	OrderID    string    `json:"orderId"`
	Status     Status    `json:"status"`
	Paid       bool      `json:"paid"`
	OccurredAt time.Time `json:"occurredAt"`
}
