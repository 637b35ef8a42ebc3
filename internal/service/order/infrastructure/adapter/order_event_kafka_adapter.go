package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/order/domain"
)

// OrderEventKafkaAdapter 实现了 port.OrderEventPublisher
type OrderEventKafkaAdapter struct {
	writer *kafka.Writer
}

// NewOrderEventKafkaAdapter 创建一个新的订单事件生产者适配器。
func NewOrderEventKafkaAdapter(writer *kafka.Writer) *OrderEventKafkaAdapter {
	return &OrderEventKafkaAdapter{writer: writer}
}

// PublishStatusChanged 以订单ID为 key，保证同一订单的事件落在同一分区、保持顺序
func (a *OrderEventKafkaAdapter) PublishStatusChanged(ctx context.Context, event domain.OrderStatusChanged) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal order status event")
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	return mq.ProduceMessage(ctx, a.writer, []byte(event.OrderID), eventBytes)
}

// Close 关闭底层的Kafka writer。
func (a *OrderEventKafkaAdapter) Close() error {
	return a.writer.Close()
}
