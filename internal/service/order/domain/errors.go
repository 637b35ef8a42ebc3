// internal/service/order/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// 订单生命周期的错误分类。基础设施层的原始错误会被包装进这些哨兵错误之一，
// 接口层通过 errors.Is 把它们映射为客户端/服务端故障。
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrUpstreamValidation = errors.New("product validation failed")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrUpstreamPayment    = errors.New("payment session request failed")
	ErrPersistence        = errors.New("order persistence failed")
	ErrPaymentConflict    = errors.New("order already paid with a different payment reference")
	ErrConcurrentUpdate   = errors.New("order was modified concurrently")
	ErrProductRejected    = errors.New("product rejected by admission rule")
	ErrUnpricedLine       = errors.New("order line has no catalog price")
	ErrInvalidInput       = errors.New("invalid input")
)

// TransitionError 记录了一次被拒绝的状态流转
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError 携带了未找到的订单 ID
type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Order with id: %s not found", e.OrderID)
}

func (e *NotFoundError) Unwrap() error { return ErrOrderNotFound }
