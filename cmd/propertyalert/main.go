package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/application"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	alertcache "github.com/wyfcoding/propertyalert/internal/propertyalert/infrastructure/cache"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/infrastructure/messaging"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/infrastructure/persistence/mysql"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/infrastructure/sender"
	httphandler "github.com/wyfcoding/propertyalert/internal/propertyalert/interfaces/http"
	"github.com/wyfcoding/propertyalert/pkg/cache"
	"github.com/wyfcoding/propertyalert/pkg/config"
	"github.com/wyfcoding/propertyalert/pkg/db"
	"github.com/wyfcoding/propertyalert/pkg/idgen"
	"github.com/wyfcoding/propertyalert/pkg/logger"
	"github.com/wyfcoding/propertyalert/pkg/metrics"
	"github.com/wyfcoding/propertyalert/pkg/middleware"
	"github.com/wyfcoding/propertyalert/pkg/mq"
	"github.com/wyfcoding/propertyalert/pkg/ratelimit"
)

// BootstrapName 服务标识。
const BootstrapName = "propertyalert"

// AppContext 应用资源上下文。
type AppContext struct {
	Config     *config.Config
	AppService *application.AlertService
	Scheduler  *application.DispatchScheduler
	Metrics    *metrics.Metrics
	Limiter    ratelimit.RateLimiter
	DB         *gorm.DB
}

func main() {
	configPath := flag.String("config", "configs/propertyalert/config.toml", "config file path")
	once := flag.Bool("once", false, "run a single dispatch sweep and exit")
	flag.Parse()

	if err := run(*configPath, *once); err != nil {
		slog.Error("service bootstrap failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if _, err := logger.Init(cfg.Logger); err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	nodeID, err := strconv.ParseInt(config.GetEnv("NODE_ID", "1"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid NODE_ID: %w", err)
	}
	if err := idgen.Init(nodeID); err != nil {
		return fmt.Errorf("idgen init failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCtx, cleanup, err := initService(cfg, metrics.New())
	if err != nil {
		return err
	}
	defer cleanup()

	if once {
		report, err := appCtx.Scheduler.RunOnce(ctx, time.Now())
		if err != nil {
			return err
		}
		slog.Info("single dispatch sweep finished", "processed", report.Processed, "failed", report.Failed, "inserted", report.Inserted)
		return nil
	}

	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		middleware.GinRecovery(),
		middleware.GinLogging(),
		middleware.GinCORS(),
		appCtx.Metrics.GinMiddleware(),
	)
	registerGin(engine, appCtx)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.GRPC.Enabled {
		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
			middleware.GRPCRecovery(),
			middleware.GRPCLogging(),
		))
		registerGRPC(grpcServer)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			addr := net.JoinHostPort(cfg.GRPC.Host, strconv.Itoa(cfg.GRPC.Port))
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			slog.Info("gRPC server listening", "addr", addr)
			return grpcServer.Serve(lis)
		})
	}

	g.Go(func() error {
		return appCtx.Scheduler.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("performing graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func registerGRPC(s *grpc.Server) {
	hs := health.NewServer()
	hs.SetServingStatus(BootstrapName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
}

func registerGin(e *gin.Engine, ctx *AppContext) {
	// 1. 系统路由组 (不限流)
	sys := e.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":    "UP",
				"service":   BootstrapName,
				"timestamp": time.Now().Unix(),
			})
		})
		sys.GET("/ready", func(c *gin.Context) {
			sqlDB, err := ctx.DB.DB()
			if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_READY"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "READY"})
		})
	}

	if ctx.Config.Metrics.Enabled {
		e.GET(ctx.Config.Metrics.Path, gin.WrapH(ctx.Metrics.Handler()))
	}

	// 2. 治理：限流保护
	api := e.Group("/")
	api.Use(middleware.RateLimit(ctx.Limiter, ctx.Config.RateLimit))

	// 3. 业务路由
	httphandler.NewAlertHandler(ctx.AppService).RegisterRoutes(api)

	slog.Info("HTTP service configured successfully", "service", BootstrapName)
}

func initService(c *config.Config, m *metrics.Metrics) (*AppContext, func(), error) {
	bootLog := slog.With("module", "bootstrap")
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. 基础设施
	gormDB, err := db.Open(c.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database init failed: %w", err)
	}
	closers = append(closers, func() { _ = db.Close(gormDB) })

	if c.Database.AutoMigrate {
		// 本地 sqlite 没有外部房源库，一并建表
		if err := mysql.AutoMigrate(gormDB, c.Database.Driver == "sqlite"); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("auto migrate failed: %w", err)
		}
		if !c.Kafka.Enabled {
			if err := gormDB.AutoMigrate(&messaging.OutboxMessage{}); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("outbox migrate failed: %w", err)
			}
		}
	}

	var redisCache *cache.RedisCache
	if c.Redis.Enabled {
		redisCache, err = cache.NewRedisCache(c.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis init failed: %w", err)
		}
		closers = append(closers, func() { _ = redisCache.Close() })
	}

	var producer *mq.Producer
	if c.Kafka.Enabled {
		producer = mq.NewProducer(c.Kafka)
		closers = append(closers, func() { _ = producer.Close() })
	}

	// 2. 治理能力
	var limiter ratelimit.RateLimiter
	if c.RateLimit.Enabled && redisCache != nil {
		limiter = ratelimit.NewRedisRateLimiter(redisCache.GetClient())
	}

	loc, err := time.LoadLocation(c.Alerts.Timezone)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// 3. 业务组件装配
	bootLog.Info("initializing property alert service...")
	subs := mysql.NewSubscriptionRepository(gormDB)
	baselines := mysql.NewPriceBaselineRepository(gormDB)
	interactions := mysql.NewInteractionRepository(gormDB)
	ledger := mysql.NewNotificationLedger(gormDB)
	if c.Alerts.LedgerRedisGuard && redisCache != nil {
		ledger = alertcache.NewRedisLedgerGuard(ledger, redisCache)
	}

	var publisher domain.EventPublisher
	if producer != nil {
		publisher = messaging.NewKafkaEventPublisher(producer, c.Kafka.AlertTopic, c.Kafka.InteractionTopic)
	} else {
		publisher = messaging.NewOutboxEventPublisher(gormDB)
	}

	breaker := sender.DefaultBreakerSettings()
	var pushSender domain.PushSender = sender.NewLogPushSender()
	if c.Push.Enabled {
		pushSender = sender.NewWebPushSender(c.Push)
	}
	pushSender = sender.NewBreakerPushSender(pushSender, breaker)

	var emailSender domain.EmailSender
	switch c.Email.Driver {
	case "smtp":
		emailSender = sender.NewSMTPSender(c.Email)
	case "kafka":
		emailSender = sender.NewKafkaEmailSender(producer, c.Email.Topic)
	default:
		emailSender = sender.NewLogEmailSender()
	}
	emailSender = sender.NewBreakerEmailSender(emailSender, breaker)

	matcher := application.NewMatchingEngine(mysql.NewListingReader(gormDB), application.MatchingConfig{
		DropThreshold:     decimal.NewFromFloat(c.Alerts.PriceDropThreshold),
		HeuristicMargin:   decimal.NewFromFloat(c.Alerts.HeuristicMargin),
		HeuristicFallback: c.Alerts.HeuristicFallback,
	})
	renderer := application.NewEmailRenderer(c.Alerts.BaseURL, c.Alerts.Locale)
	alertLog := slog.Default().With("module", "propertyalert")
	dispatcher := application.NewChannelDispatcher(pushSender, emailSender, renderer, m, alertLog)
	scheduler := application.NewDispatchScheduler(subs, ledger, baselines, matcher, dispatcher, publisher, m, alertLog, application.SchedulerConfig{
		Interval:       c.Alerts.Interval,
		Workers:        c.Alerts.Workers,
		MaxMatches:     c.Alerts.MaxMatches,
		PriceScanBatch: c.Alerts.PriceScanBatch,
		MaxPriceDrops:  c.Alerts.MaxPriceDrops,
		Location:       loc,
	})

	command := application.NewAlertCommand(subs, interactions, publisher, m, alertLog)
	query := application.NewAlertQuery(subs, ledger, matcher, c.Alerts.MaxMatches, c.Alerts.Locale)
	appService := application.NewAlertService(command, query, scheduler)

	return &AppContext{
		Config:     c,
		AppService: appService,
		Scheduler:  scheduler,
		Metrics:    m,
		Limiter:    limiter,
		DB:         gormDB,
	}, cleanup, nil
}
