// internal/service/order/domain/state.go
package domain

import "fmt"

// Status 定义了订单的生命周期状态
type Status string

const (
	StatusPending   Status = "PENDING"   // 已创建，等待支付
	StatusPaid      Status = "PAID"      // 已支付
	StatusDelivered Status = "DELIVERED" // 已交付，终态
	StatusCancelled Status = "CANCELLED" // 已取消，终态
)

// AllStatuses 按生命周期顺序列出全部状态
var AllStatuses = []Status{StatusPending, StatusPaid, StatusDelivered, StatusCancelled}

// statusTransitions 是允许的状态流转表。相同状态之间的"流转"视为无操作，不在表中。
var statusTransitions = map[Status][]Status{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusDelivered, StatusCancelled},
	StatusDelivered: {},
	StatusCancelled: {},
}

// ParseStatus 把外部输入解析为已知状态
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// IsTerminal 终态没有任何出边
func (s Status) IsTerminal() bool {
	next, ok := statusTransitions[s]
	return ok && len(next) == 0
}

// CanTransition 判断 from -> to 是否允许。from == to 时返回 true（无操作）。
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition 在流转不被允许时返回 *TransitionError
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
