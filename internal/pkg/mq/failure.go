// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"orderflow/internal/pkg/logger"
)

// 死信消息头
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// DLTSuffix 是死信主题的后缀
const DLTSuffix = ".dlt"

// MessageWriter 是 *kafka.Writer 的最小子集，方便测试
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// FailureHandler 把处理失败的消息连同失败原因转发到死信主题
type FailureHandler struct {
	writer MessageWriter
}

func NewFailureHandler(writer MessageWriter) *FailureHandler {
	return &FailureHandler{writer: writer}
}

// DeadLetterTopic 返回某个主题对应的死信主题
func DeadLetterTopic(topic string) string {
	return topic + DLTSuffix
}

// BuildDeadLetter 构造死信消息，保留原始 key/value/headers
func BuildDeadLetter(msg kafka.Message, cause error) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	carrier := KafkaHeaderCarrier(headers)
	carrier.Set(HeaderOriginalTopic, msg.Topic)
	carrier.Set(HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	carrier.Set(HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	carrier.Set(HeaderExceptionFqcn, fmt.Sprintf("%T", cause))
	carrier.Set(HeaderExceptionMessage, cause.Error())

	return kafka.Message{
		Topic:   DeadLetterTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: carrier,
	}
}

// Handle 发送死信。发送失败只记录日志，调用方照常提交 offset。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	dl := BuildDeadLetter(msg, cause)
	InjectTraceContext(ctx, &dl.Headers)
	if err := h.writer.WriteMessages(ctx, dl); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", dl.Topic).
			Str("cause", cause.Error()).
			Msg("failed to publish dead letter")
		return
	}
	logger.Ctx(ctx).Warn().
		Str("topic", dl.Topic).
		Str("cause", cause.Error()).
		Msg("message moved to dead letter topic")
}
