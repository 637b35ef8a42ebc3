package port

import (
	"context"

	"orderflow/internal/service/order/domain"
)

// OrderEventPublisher 发布订单状态事件。非关键路径，失败只记录日志。
type OrderEventPublisher interface {
	PublishStatusChanged(ctx context.Context, event domain.OrderStatusChanged) error
}
