// internal/pkg/mq/amqp.go
package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// ReplyTypeError 是应答方在失败时设置的消息类型，消息体为错误描述
const ReplyTypeError = "error"

// SetupAMQP 连接 RabbitMQ 并打开一个通道。exchange 非空时声明一个 direct exchange。
func SetupAMQP(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	// 容器启动时 broker 可能还没就绪
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("failed to connect to RabbitMQ")
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
		}
	}
	return conn, ch, nil
}

// RemoteError 是应答方返回的业务错误
type RemoteError struct {
	RoutingKey string
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s replied with error: %s", e.RoutingKey, e.Message)
}

// pendingCalls 按 correlation id 登记等待中的请求
type pendingCalls struct {
	mu    sync.Mutex
	calls map[string]chan amqp.Delivery
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[string]chan amqp.Delivery)}
}

func (p *pendingCalls) register(id string) <-chan amqp.Delivery {
	ch := make(chan amqp.Delivery, 1)
	p.mu.Lock()
	p.calls[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingCalls) forget(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// resolve 把应答交给等待者；没有等待者（已超时或未知 id）时返回 false
func (p *pendingCalls) resolve(d amqp.Delivery) bool {
	p.mu.Lock()
	ch, ok := p.calls[d.CorrelationId]
	delete(p.calls, d.CorrelationId)
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- d
	return true
}

// RPCClient 基于 reply-to + correlation id 实现请求/应答
type RPCClient struct {
	ch         *amqp.Channel
	exchange   string
	replyQueue string
	pending    *pendingCalls
	done       chan struct{}
}

// NewRPCClient 声明一个独占的应答队列并开始分发应答
func NewRPCClient(ch *amqp.Channel, exchange string) (*RPCClient, error) {
	q, err := ch.QueueDeclare(
		"",    // random name
		false, // non-durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("could not declare reply queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("could not consume reply queue: %w", err)
	}

	c := &RPCClient{
		ch:         ch,
		exchange:   exchange,
		replyQueue: q.Name,
		pending:    newPendingCalls(),
		done:       make(chan struct{}),
	}
	go c.dispatch(deliveries)
	return c, nil
}

func (c *RPCClient) dispatch(deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	for d := range deliveries {
		if !c.pending.resolve(d) {
			log.Debug().Str("correlation_id", d.CorrelationId).Msg("dropping late or unknown rpc reply")
		}
	}
}

// Call 发送请求并等待应答，直到 ctx 结束
func (c *RPCClient) Call(ctx context.Context, routingKey string, body []byte) ([]byte, error) {
	corrID := uuid.NewString()
	replyCh := c.pending.register(corrID)
	defer c.pending.forget(corrID)

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, AMQPHeaderCarrier(headers))

	err := c.ch.PublishWithContext(ctx,
		c.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: corrID,
			ReplyTo:       c.replyQueue,
			Headers:       headers,
			Body:          body,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", routingKey, err)
	}

	select {
	case d := <-replyCh:
		if d.Type == ReplyTypeError {
			return nil, &RemoteError{RoutingKey: routingKey, Message: string(d.Body)}
		}
		return d.Body, nil
	case <-c.done:
		return nil, fmt.Errorf("rpc reply channel closed while waiting for %s", routingKey)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AMQPHeaderCarrier 让 amqp.Table 满足 otel 的 TextMapCarrier 接口
type AMQPHeaderCarrier amqp.Table

func (c AMQPHeaderCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c AMQPHeaderCarrier) Set(key, value string) { c[key] = value }

func (c AMQPHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
