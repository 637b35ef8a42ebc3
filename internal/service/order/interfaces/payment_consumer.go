package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/order/domain"
)

const (
	commitTimeout      = 5 * time.Second
	maxPaymentAttempts = 3
	retryBackoff       = 200 * time.Millisecond
)

// MessageReader 是 *kafka.Reader 的最小子集
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PaymentHandler 处理一条支付确认
type PaymentHandler interface {
	HandlePaymentSucceeded(ctx context.Context, conf domain.PaymentConfirmation) (*domain.Order, error)
}

// ConfirmationGuard 在多实例间抢占同一条支付确认，抢不到说明别的实例已在处理
type ConfirmationGuard interface {
	Acquire(ctx context.Context, orderID, paymentID string) (bool, error)
	Release(ctx context.Context, orderID, paymentID string) error
}

// FailureSink 接收无法处理的消息
type FailureSink interface {
	Handle(ctx context.Context, msg kafka.Message, cause error)
}

// PaymentSucceededConsumer 消费 payment.succeeded 事件并把订单标记为已支付
type PaymentSucceededConsumer struct {
	reader  MessageReader
	handler PaymentHandler
	guard   ConfirmationGuard
	dlt     FailureSink
	tracer  trace.Tracer
	backoff time.Duration
}

// NewPaymentSucceededConsumer guard 和 dlt 可以为 nil
func NewPaymentSucceededConsumer(reader MessageReader, handler PaymentHandler, guard ConfirmationGuard, dlt FailureSink) *PaymentSucceededConsumer {
	return &PaymentSucceededConsumer{
		reader:  reader,
		handler: handler,
		guard:   guard,
		dlt:     dlt,
		tracer:  otel.Tracer(serviceName),
		backoff: retryBackoff,
	}
}

// Run 阻塞消费直到 ctx 结束。每条消息处理完(成功、重复或进入死信)后才提交 offset；
// 关停时仍未处理完的消息不提交，等待重新投递。
func (c *PaymentSucceededConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("payment consumer started")
	defer logger.Ctx(ctx).Info().Msg("payment consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch payment message")
		}

		if !c.consume(ctx, msg) {
			return nil
		}

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		err = c.reader.CommitMessages(commitCtx, msg)
		cancel()
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit payment message")
		}
	}
}

// consume 返回 false 表示因关停中断，消息不应提交
func (c *PaymentSucceededConsumer) consume(ctx context.Context, msg kafka.Message) bool {
	msgLogger := logger.Ctx(context.Background()).With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()
	msgCtx := logger.WithContext(mq.ExtractTraceContext(ctx, msg.Headers), msgLogger)
	msgCtx, span := c.tracer.Start(msgCtx, "kafka.consume.payment.succeeded", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)

	err := c.process(msgCtx, msg)
	if err == nil {
		return true
	}
	span.RecordError(err)
	if ctx.Err() != nil {
		logger.Ctx(msgCtx).Warn().Err(err).Msg("consumer stopping, payment confirmation left for redelivery")
		return false
	}
	span.SetStatus(codes.Error, err.Error())
	logger.Ctx(msgCtx).Error().Err(err).Str("key", string(msg.Key)).Msg("payment confirmation failed")
	if c.dlt != nil {
		c.dlt.Handle(context.WithoutCancel(msgCtx), msg, err)
	}
	return true
}

func (c *PaymentSucceededConsumer) process(ctx context.Context, msg kafka.Message) error {
	var conf domain.PaymentConfirmation
	if err := json.Unmarshal(msg.Value, &conf); err != nil {
		return fmt.Errorf("%w: malformed payment confirmation: %v", domain.ErrInvalidInput, err)
	}

	if c.guard != nil {
		acquired, err := c.guard.Acquire(ctx, conf.OrderID, conf.PaymentID)
		switch {
		case err != nil:
			// redis 不可用时退回到数据库的幂等保证
			logger.Ctx(ctx).Warn().Err(err).Msg("confirmation guard unavailable")
		case !acquired:
			logger.Ctx(ctx).Info().Str("order_id", conf.OrderID).Str("payment_id", conf.PaymentID).Msg("payment confirmation already handled")
			return nil
		}
	}

	err := c.confirm(ctx, conf)
	if err != nil && c.guard != nil {
		if rerr := c.guard.Release(context.WithoutCancel(ctx), conf.OrderID, conf.PaymentID); rerr != nil {
			logger.Ctx(ctx).Warn().Err(rerr).Msg("failed to release confirmation guard")
		}
	}
	return err
}

// confirm 只对可重试的错误重试
func (c *PaymentSucceededConsumer) confirm(ctx context.Context, conf domain.PaymentConfirmation) error {
	var err error
	for attempt := 1; attempt <= maxPaymentAttempts; attempt++ {
		if _, err = c.handler.HandlePaymentSucceeded(ctx, conf); err == nil || !retryable(err) {
			return err
		}
		logger.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Str("order_id", conf.OrderID).Msg("retrying payment confirmation")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return err
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrConcurrentUpdate)
}

// DeadLetterConsumer 监听死信主题并记录日志
type DeadLetterConsumer struct {
	reader MessageReader
}

func NewDeadLetterConsumer(reader MessageReader) *DeadLetterConsumer {
	return &DeadLetterConsumer{reader: reader}
}

func (c *DeadLetterConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("dead letter consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch dead letter")
		}

		logDeadLetter(mq.ExtractTraceContext(ctx, msg.Headers), msg)

		// 死信只记录，记录完即提交
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to commit dead letter")
		}
		cancel()
	}
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	headers := mq.KafkaHeaderCarrier(msg.Headers)
	logger.Ctx(ctx).Error().
		Str("original_topic", headers.Get(mq.HeaderOriginalTopic)).
		Str("original_partition", headers.Get(mq.HeaderOriginalPartition)).
		Str("original_offset", headers.Get(mq.HeaderOriginalOffset)).
		Str("exception_fqcn", headers.Get(mq.HeaderExceptionFqcn)).
		Str("exception_message", headers.Get(mq.HeaderExceptionMessage)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("dead letter message received")
}
