package port

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// PaymentSessionItem 是发给支付服务的订单行
type PaymentSessionItem struct {
	Name     string
	Price    decimal.Decimal
	Quantity int
}

// PaymentSessionRequest 是一次支付会话请求
type PaymentSessionRequest struct {
	OrderID  string
	Currency string
	Items    []PaymentSessionItem
}

// PaymentGateway 是支付服务的出站端口。返回的会话引用原样透传给调用方。
type PaymentGateway interface {
	CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (json.RawMessage, error)
}
