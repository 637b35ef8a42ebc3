package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const confirmationKeyPrefix = "order:payment:confirmed:"

// RedisConfirmationGuard 用 SETNX 拦截重复投递的支付确认消息。
// 它只是快速路径，幂等性最终由订单库保证。
type RedisConfirmationGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisConfirmationGuard(client redis.Cmdable, ttl time.Duration) *RedisConfirmationGuard {
	return &RedisConfirmationGuard{client: client, ttl: ttl}
}

func confirmationKey(orderID, paymentID string) string {
	return fmt.Sprintf("%s%s:%s", confirmationKeyPrefix, orderID, paymentID)
}

// Acquire 第一次见到 (orderID, paymentID) 时返回 true
func (g *RedisConfirmationGuard) Acquire(ctx context.Context, orderID, paymentID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, confirmationKey(orderID, paymentID), "1", g.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	return ok, nil
}

// Release 在处理失败时释放标记，让重投或死信重放能够再次处理
func (g *RedisConfirmationGuard) Release(ctx context.Context, orderID, paymentID string) error {
	return errors.Wrap(g.client.Del(ctx, confirmationKey(orderID, paymentID)).Err(), "redis del")
}
