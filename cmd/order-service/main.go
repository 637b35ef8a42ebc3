// cmd/order-service/main.go
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"orderflow/internal/pkg/bootstrap"
	"orderflow/internal/pkg/httpclient"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/pkg/nacos"
	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/infrastructure"
	"orderflow/internal/service/order/infrastructure/adapter"
	"orderflow/internal/service/order/infrastructure/rule"
	"orderflow/internal/service/order/interfaces"
	"orderflow/internal/tracing"
)

// main 是应用的组装根：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	bootstrap.SetCurrentConfig(cfg)
	logger.Init(cfg.App.Name, cfg.App.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("order service exited")
	}
}

func run(cfg bootstrap.Config) error {
	var closers []func(ctx context.Context) error
	closeOnError := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](context.Background())
		}
	}

	// 1. 链路追踪
	tp, err := tracing.InitTracerProvider(cfg.App.Name, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return err
	}
	closers = append(closers, tp.Shutdown)
	tracer := otel.Tracer(cfg.App.Name)

	// 2. Nacos：服务发现 + 远程配置
	var resolver httpclient.Resolver = httpclient.StaticResolver(cfg.Infra.Catalog.BaseURL)
	var nacosClient *nacos.Client
	if cfg.Infra.Nacos.ServerAddrs != "" {
		nacosClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			closeOnError()
			return err
		}
		closers = append(closers, func(context.Context) error { nacosClient.Close(); return nil })
		if cfg.Infra.Catalog.BaseURL == "" {
			resolver = nacosClient
		}
		err = bootstrap.WatchRemoteConfig(nacosClient, cfg.Infra.Nacos.DataID, cfg, func(c bootstrap.Config) {
			logger.SetLevel(c.App.LogLevel)
		})
		if err != nil {
			log.Warn().Err(err).Str("data_id", cfg.Infra.Nacos.DataID).Msg("remote config unavailable, using local config")
		}
	}

	// 3. 订单库
	db, err := infrastructure.OpenMySQL(infrastructure.MySQLOptions{
		Addr:         cfg.Infra.MySQL.Addr,
		User:         cfg.Infra.MySQL.User,
		Password:     cfg.Infra.MySQL.Password,
		Database:     cfg.Infra.MySQL.Database,
		MaxOpenConns: cfg.Infra.MySQL.MaxOpenConns,
	})
	if err != nil {
		closeOnError()
		return err
	}
	closers = append(closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if cfg.Infra.MySQL.AutoMigrate {
		if err := infrastructure.AutoMigrate(db); err != nil {
			closeOnError()
			return err
		}
	}
	orderRepo := infrastructure.NewGormOrderRepository(db)

	// 4. 支付服务：RabbitMQ 请求/应答
	amqpConn, amqpCh, err := mq.SetupAMQP(cfg.Infra.RabbitMQ.URL, cfg.Infra.RabbitMQ.Exchange)
	if err != nil {
		closeOnError()
		return err
	}
	closers = append(closers, func(context.Context) error { return amqpConn.Close() })
	rpcClient, err := mq.NewRPCClient(amqpCh, cfg.Infra.RabbitMQ.Exchange)
	if err != nil {
		closeOnError()
		return err
	}
	payments := adapter.NewPaymentAMQPAdapter(rpcClient, cfg.Infra.RabbitMQ.PaymentSessionKey)

	// 5. Kafka：订单事件、支付确认、死信
	brokers := cfg.Infra.Kafka.Brokers
	eventWriter := mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.OrderEventsTopic)
	events := adapter.NewOrderEventKafkaAdapter(eventWriter)
	closers = append(closers, func(context.Context) error { return events.Close() })

	// 死信按消息指定主题，writer 不设置 topic
	dltWriter := mq.NewKafkaWriter(brokers, "")
	closers = append(closers, func(context.Context) error { return dltWriter.Close() })

	paymentReader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.PaymentTopic, cfg.Infra.Kafka.ConsumerGroup)
	closers = append(closers, func(context.Context) error { return paymentReader.Close() })

	// 6. Redis：支付确认去重
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Infra.Redis.Addr,
		Password: cfg.Infra.Redis.Password,
		DB:       cfg.Infra.Redis.DB,
	})
	closers = append(closers, func(context.Context) error { return redisClient.Close() })
	guard := adapter.NewRedisConfirmationGuard(redisClient, cfg.Infra.Redis.DedupTTL)

	// 7. 应用服务
	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	opts := []application.Option{
		application.WithTracer(tracer),
		application.WithMetrics(orderMetrics),
		application.WithEventPublisher(events),
		application.WithCurrency(cfg.App.Currency),
		application.WithTimeouts(cfg.App.UpstreamTimeout, cfg.App.StoreTimeout),
		application.WithStrictPricingSource(func() bool { return bootstrap.GetCurrentConfig().App.StrictPricing }),
	}
	if cfg.App.ProductRule != "" {
		productRule, err := rule.NewCELProductRule(cfg.App.ProductRule)
		if err != nil {
			closeOnError()
			return err
		}
		opts = append(opts, application.WithProductRule(productRule))
	}
	catalog := adapter.NewCatalogHTTPAdapter(httpclient.NewClient(tracer, resolver), cfg.Infra.Catalog.ServiceName)
	orderService := application.NewOrderApplicationService(orderRepo, catalog, payments, opts...)

	// 8. 接口层
	mux := http.NewServeMux()
	interfaces.NewOrderHandler(orderService, orderMetrics).RegisterRoutes(mux)

	paymentConsumer := interfaces.NewPaymentSucceededConsumer(paymentReader, orderService, guard, mq.NewFailureHandler(dltWriter))
	workers := []bootstrap.Worker{paymentConsumer.Run}
	if cfg.Infra.Kafka.EnableDLTConsumer {
		dltReader := mq.NewKafkaReader(brokers, mq.DeadLetterTopic(cfg.Infra.Kafka.PaymentTopic), cfg.Infra.Kafka.ConsumerGroup+"-dlt")
		closers = append(closers, func(context.Context) error { return dltReader.Close() })
		workers = append(workers, interfaces.NewDeadLetterConsumer(dltReader).Run)
	}

	info := bootstrap.AppInfo{
		ServiceName: cfg.App.Name,
		Port:        cfg.App.Port,
		Handler:     mux,
		Workers:     workers,
		Closers:     closers,
	}
	if cfg.Infra.Nacos.Register && nacosClient != nil {
		info.Nacos = nacosClient
	}
	return bootstrap.Run(context.Background(), info)
}
