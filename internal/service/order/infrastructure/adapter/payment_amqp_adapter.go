package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"orderflow/internal/service/order/domain/port"
)

// RPCCaller 是 mq.RPCClient 的最小子集
type RPCCaller interface {
	Call(ctx context.Context, routingKey string, body []byte) ([]byte, error)
}

type paymentSessionItem struct {
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

type paymentSessionPayload struct {
	OrderID  string               `json:"orderId"`
	Currency string               `json:"currency"`
	Items    []paymentSessionItem `json:"items"`
}

// PaymentAMQPAdapter 实现了 port.PaymentGateway，通过 RabbitMQ 请求/应答调用支付服务
type PaymentAMQPAdapter struct {
	rpc        RPCCaller
	routingKey string
}

func NewPaymentAMQPAdapter(rpc RPCCaller, routingKey string) *PaymentAMQPAdapter {
	return &PaymentAMQPAdapter{rpc: rpc, routingKey: routingKey}
}

// CreatePaymentSession 价格以 JSON 数字发送，支付服务的应答原样返回
func (a *PaymentAMQPAdapter) CreatePaymentSession(ctx context.Context, req port.PaymentSessionRequest) (json.RawMessage, error) {
	payload := paymentSessionPayload{
		OrderID:  req.OrderID,
		Currency: req.Currency,
		Items:    make([]paymentSessionItem, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		payload.Items = append(payload.Items, paymentSessionItem{
			Name:     it.Name,
			Price:    json.Number(it.Price.String()),
			Quantity: it.Quantity,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode payment session request")
	}

	reply, err := a.rpc.Call(ctx, a.routingKey, body)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", a.routingKey)
	}
	if !json.Valid(reply) {
		return nil, errors.Errorf("payment service returned a non-JSON session for order %s", req.OrderID)
	}
	return json.RawMessage(reply), nil
}
