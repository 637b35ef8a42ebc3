package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/service/order/domain/port"
)

type fakeRPC struct {
	routingKey string
	body       []byte
	reply      []byte
	err        error
}

func (f *fakeRPC) Call(_ context.Context, routingKey string, body []byte) ([]byte, error) {
	f.routingKey = routingKey
	f.body = body
	return f.reply, f.err
}

func TestCreatePaymentSession(t *testing.T) {
	rpc := &fakeRPC{reply: []byte(`{"url":"https://checkout.example/s/1","cancelUrl":"c","successUrl":"s"}`)}
	adapter := NewPaymentAMQPAdapter(rpc, "create.payment.session")

	session, err := adapter.CreatePaymentSession(context.Background(), port.PaymentSessionRequest{
		OrderID:  "o-1",
		Currency: "usd",
		Items:    []port.PaymentSessionItem{{Name: "Keyboard", Price: decimal.RequireFromString("10.50"), Quantity: 2}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, string(rpc.reply), string(session))

	assert.Equal(t, "create.payment.session", rpc.routingKey)
	assert.JSONEq(t, `{"orderId":"o-1","currency":"usd","items":[{"name":"Keyboard","price":10.5,"quantity":2}]}`, string(rpc.body))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rpc.body, &raw))
	_, isNumber := raw["items"].([]any)[0].(map[string]any)["price"].(float64)
	assert.True(t, isNumber)
}

func TestCreatePaymentSessionErrors(t *testing.T) {
	adapter := NewPaymentAMQPAdapter(&fakeRPC{err: errors.New("timeout")}, "create.payment.session")
	_, err := adapter.CreatePaymentSession(context.Background(), port.PaymentSessionRequest{OrderID: "o-1"})
	assert.Error(t, err)

	adapter = NewPaymentAMQPAdapter(&fakeRPC{reply: []byte("not json")}, "create.payment.session")
	_, err = adapter.CreatePaymentSession(context.Background(), port.PaymentSessionRequest{OrderID: "o-1"})
	assert.Error(t, err)
}
