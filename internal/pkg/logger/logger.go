// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 配置全局 zerolog 实例。level 为空或非法时使用 info。
func Init(serviceName, level string) {
	InitWithWriter(os.Stdout, serviceName, level)
}

func InitWithWriter(w io.Writer, serviceName, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// WithContext 把 logger 绑定到 ctx 上
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// Ctx 返回 ctx 上的 logger（没有则用全局 logger），并附带当前 span 的 trace_id
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		base := log.Logger
		l = &base
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		withTrace := l.With().Str("trace_id", sc.TraceID().String()).Logger()
		return &withTrace
	}
	return l
}

// SetLevel 调整全局日志级别，非法值忽略
func SetLevel(level string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		log.Logger = log.Logger.Level(lvl)
	}
}
