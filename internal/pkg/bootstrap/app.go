// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"orderflow/internal/pkg/nacos"
)

// Worker 是与 HTTP 服务同生命周期的后台任务（例如 Kafka 消费者），ctx 结束时应返回
type Worker func(ctx context.Context) error

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	Port        int
	Handler     http.Handler
	Workers     []Worker

	// Nacos 非空时注册服务实例，关停时注销
	Nacos *nacos.Client

	// Closers 在 HTTP 服务和后台任务全部退出后按逆序执行
	Closers []func(ctx context.Context) error

	ShutdownTimeout time.Duration
}

// Run 封装了通用的启动和优雅关停逻辑，阻塞直到收到退出信号或任一组件失败。
func Run(parent context.Context, info AppInfo) error {
	if info.ShutdownTimeout <= 0 {
		info.ShutdownTimeout = 10 * time.Second
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ip string
	if info.Nacos != nil {
		var err error
		if ip, err = GetOutboundIP(); err != nil {
			return fmt.Errorf("failed to get outbound IP address: %w", err)
		}
		if err := info.Nacos.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           info.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", server.Addr, err)
		}
		return nil
	})
	for _, w := range info.Workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("service", info.ServiceName).Msg("Shutting down service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), info.ShutdownTimeout)
		defer cancel()

		// 先从注册中心摘除，避免新流量进来
		if info.Nacos != nil {
			if err := info.Nacos.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				log.Error().Err(err).Msg("Error deregistering from Nacos")
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down http server")
		}
		return nil
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), info.ShutdownTimeout)
	defer cancel()
	for i := len(info.Closers) - 1; i >= 0; i-- {
		if cerr := info.Closers[i](closeCtx); cerr != nil {
			log.Error().Err(cerr).Msg("Error during shutdown")
		}
	}
	if err != nil {
		return err
	}
	log.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
	return nil
}

// GetOutboundIP 返回本机访问外网时使用的地址，用于服务注册
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
