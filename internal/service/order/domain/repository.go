// internal/service/order/domain/repository.go
package domain

import "context"

// PageQuery 是分页查询条件。Page 从 1 开始。
type PageQuery struct {
	Status *Status
	Page   int
	Limit  int
}

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// CreateWithItems 在一个事务内写入订单及其全部订单行
	CreateWithItems(ctx context.Context, order *Order) error

	// FindByID 返回订单及订单行、收据；不存在时返回 ErrOrderNotFound
	FindByID(ctx context.Context, id string) (*Order, error)

	// FindPage 返回一页订单（不含订单行）及满足过滤条件的总数
	FindPage(ctx context.Context, q PageQuery) ([]*Order, int64, error)

	// UpdateStatus 在事务内读取-校验-写入，changed=false 表示目标状态与当前相同
	UpdateStatus(ctx context.Context, id string, to Status) (*Order, bool, error)

	// RecordPayment 原子地标记已支付并写入收据；重复确认时 applied=false
	RecordPayment(ctx context.Context, id string, c PaymentConfirmation) (*Order, bool, error)
}
