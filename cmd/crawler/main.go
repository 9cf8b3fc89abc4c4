package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/AtomNotShy/tbbid-scrapy/internal/config"
	"github.com/AtomNotShy/tbbid-scrapy/internal/enrich"
	"github.com/AtomNotShy/tbbid-scrapy/internal/fetch"
	"github.com/AtomNotShy/tbbid-scrapy/internal/ingest"
	"github.com/AtomNotShy/tbbid-scrapy/internal/model"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/dedup"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/itemqueue"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/logger"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/notify"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/queue"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/ratelimit"
	"github.com/AtomNotShy/tbbid-scrapy/internal/worker"
)

// main 是入库 worker 进程的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志
// 2. 连接 MySQL / Redis 并建表
// 3. 启动 item 消费循环与入库流水线
// 4. 按需启动公告补抓循环
// 5. 启动 Metrics 服务并优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx := context.Background()

	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		appLogger.Error("open mysql failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := model.AutoMigrate(db); err != nil {
		appLogger.Error("auto migrate failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("connect redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pipeline, err := ingest.NewPipeline(ctx, db, appLogger)
	if err != nil {
		appLogger.Error("init pipeline failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	consumer, err := itemqueue.NewConsumer(rdb, appLogger,
		cfg.App.ItemQueueStream, cfg.App.ItemQueueGroup, cfg.App.ConsumerID,
		itemqueue.WithBatchSize(int64(cfg.App.QueueBatchSize)),
		itemqueue.WithMaxRetry(cfg.App.MaxRetry))
	if err != nil {
		appLogger.Error("init consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	w := worker.New(consumer, pipeline, appLogger)
	startedAt := time.Now()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		defer func() {
			if r := recover(); r != nil {
				appLogger.Error("PANIC in ingest worker loop", slog.Any("panic", r))
				// 记录日志后退出，交给容器编排重启，保持状态干净
				os.Exit(1)
			}
		}()
		if err := w.Run(workerCtx); err != nil && err != context.Canceled {
			appLogger.Error("ingest worker stopped", slog.String("error", err.Error()))
		}
	}()

	// 公告补抓：渲染缺失的公告正文并重新发布项目 item
	var (
		renderer *fetch.Renderer
		pool     *queue.Queue
	)
	if cfg.App.EnableEnrich {
		renderer, err = fetch.NewRenderer(workerCtx, cfg, appLogger)
		if err != nil {
			appLogger.Error("init renderer failed", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool = queue.NewQueue(appLogger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
		pool.Start(workerCtx)

		producer := itemqueue.NewItemQueue(rdb, appLogger, cfg.App.ItemQueueStream)
		deduper := dedup.NewDeduplicator(rdb, time.Duration(cfg.App.DedupWindow)*time.Second)
		limiter := ratelimit.NewRedisLimiter(rdb, appLogger, "", cfg.App.RateLimit, cfg.App.RateBurst)

		enricher := enrich.NewEnricher(db, appLogger, renderer, producer,
			deduper, limiter, pool, cfg.App.EnrichBatch)
		go enricher.RunLoop(workerCtx, cfg.App.EnrichInterval)
		appLogger.Info("enricher started",
			slog.Duration("interval", cfg.App.EnrichInterval),
			slog.Int("batch", cfg.App.EnrichBatch))
	}

	metricsAddr := ":2112"
	if v := os.Getenv("CRAWLER_METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("metrics server started", slog.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info("received os signal", slog.String("signal", sig.String()))

	appLogger.Info("shutting down ingest worker...")
	stopWorker()

	select {
	case <-workerDone:
	case <-time.After(30 * time.Second):
		appLogger.Warn("ingest worker shutdown timeout")
	}

	if pool != nil {
		pool.Shutdown()
	}
	if renderer != nil {
		if err := renderer.Close(); err != nil {
			appLogger.Error("close renderer failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}

	sendSummary(shutdownCtx, cfg, appLogger, w, pipeline, startedAt)

	if err := rdb.Close(); err != nil {
		appLogger.Error("close redis failed", slog.String("error", err.Error()))
	}
	appLogger.Info("ingest worker stopped gracefully")
}

// sendSummary 把本次运行的处理计数发给运维邮箱。
func sendSummary(ctx context.Context, cfg *config.Config, appLogger *slog.Logger, w *worker.Worker, pipeline *ingest.Pipeline, startedAt time.Time) {
	if cfg.App.NotifyEmail == "" {
		return
	}

	stats := w.Stats()
	pipelineStats := pipeline.Stats()
	summary := &notify.CrawlSummary{
		StartedAt:   startedAt.Format("2006-01-02 15:04:05"),
		FinishedAt:  time.Now().Format("2006-01-02 15:04:05"),
		Processed:   stats.Processed,
		Succeeded:   stats.Succeeded,
		Rejected:    stats.Rejected,
		Deferred:    pipelineStats.Deferred,
		Failed:      stats.Failed,
		PendingLeft: pipeline.PendingLen(),
		NewProjects: pipelineStats.NewProjects,
	}

	notifier := notify.NewEmailNotifier(&cfg.Email, appLogger)
	if err := notifier.Send(ctx, summary, cfg.App.NotifyEmail); err != nil {
		appLogger.Error("send summary failed", slog.String("error", err.Error()))
	}
}
