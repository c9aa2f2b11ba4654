package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/bus"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/config"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/db"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/queue"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/repository"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/service"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/template"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/transport"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/pkg/logger"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel)
	defer func() { _ = logr.Sync() }()
	logr.Infow("starting worker", "app", cfg.AppName)

	conn, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logr.Fatalw("failed to connect database", "error", err)
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		logr.Fatalw("failed to run migrations", "error", err)
	}

	amqpConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logr.Fatalw("failed to connect rabbitmq", "error", err)
	}
	defer amqpConn.Close()

	q, err := queue.NewRabbitQueue(amqpConn)
	if err != nil {
		logr.Fatalw("failed to open publish channel", "error", err)
	}
	defer q.Close()
	if err := q.Declare(cfg.DeadLetter, cfg.SendQueue, cfg.BatchQueue, cfg.WebhookQueue); err != nil {
		logr.Fatalw("failed to declare queues", "error", err)
	}

	messageRepo := &repository.MessageRepository{DB: conn}
	eventRepo := &repository.EventRepository{DB: conn}
	templateRepo := &repository.TemplateRepository{DB: conn}
	webhookRepo := &repository.WebhookRepository{DB: conn}

	var limiter *service.HourlyLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logr.Fatalw("invalid redis url", "error", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = service.NewHourlyLimiter(
			&service.RedisRateCounter{Client: rdb},
			cfg.RateLimitBase, cfg.RateLimitIncrement, cfg.RateLimitCap,
		)
	} else {
		logr.Warn("REDIS_URL not set, send rate limiting disabled")
	}

	var mailTransport transport.Transport
	if cfg.SMTPAddr != "" {
		mailTransport = transport.NewSMTPTransport(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword)
	} else {
		logr.Warn("SMTP_ADDR not set, using mock transport")
		mailTransport = transport.NewMockTransport()
	}

	metricsCollector := metrics.New()

	eventBus := bus.New(logr)
	dispatcher := &service.WebhookDispatcher{
		Repo:           webhookRepo,
		Queue:          q,
		Metrics:        metricsCollector,
		Logger:         logr,
		WebhookQueue:   cfg.WebhookQueue,
		UserAgent:      cfg.WebhookUserAgent,
		DefaultTimeout: cfg.WebhookTimeout,
		Client:         &http.Client{},
	}
	dispatcher.Register(eventBus)

	worker := &service.DeliveryWorker{
		Messages:     messageRepo,
		Events:       eventRepo,
		Renderer:     template.NewRenderer(templateRepo),
		Transport:    mailTransport,
		Queue:        q,
		Bus:          eventBus,
		Limiter:      limiter,
		Metrics:      metricsCollector,
		Logger:       logr,
		AppName:      cfg.AppName,
		AppURL:       cfg.AppURL,
		MailFrom:     cfg.MailFrom,
		MailFromName: cfg.MailFromName,
		SendQueue:    cfg.SendQueue,
		MaxAttempts:  cfg.SendMaxAttempts,
		BaseBackoff:  cfg.SendBaseBackoff,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSrv := startMetricsServer(cfg.MetricsAddr, metricsCollector, logr)

	sendConsumer := queue.NewConsumer(amqpConn, cfg.SendQueue, cfg.PrefetchCount, cfg.WorkerCount, logr)
	batchConsumer := queue.NewConsumer(amqpConn, cfg.BatchQueue, cfg.PrefetchCount, 2, logr)
	webhookConsumer := queue.NewConsumer(amqpConn, cfg.WebhookQueue, cfg.PrefetchCount, cfg.WorkerCount, logr)

	errs := make(chan error, 3)
	go func() {
		errs <- sendConsumer.Start(ctx, func(ctx context.Context, msg amqp.Delivery) error {
			var job queue.SendJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				logr.Errorw("invalid send job", "error", err)
				return msg.Reject(false)
			}
			return finish(msg, worker.ProcessSend(ctx, job))
		})
	}()
	go func() {
		errs <- batchConsumer.Start(ctx, func(ctx context.Context, msg amqp.Delivery) error {
			var job queue.BatchJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				logr.Errorw("invalid batch job", "error", err)
				return msg.Reject(false)
			}
			return finish(msg, worker.ProcessBatch(ctx, job))
		})
	}()
	go func() {
		errs <- webhookConsumer.Start(ctx, func(ctx context.Context, msg amqp.Delivery) error {
			var job queue.WebhookJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				logr.Errorw("invalid webhook job", "error", err)
				return msg.Reject(false)
			}
			return finish(msg, dispatcher.ProcessDelivery(ctx, job))
		})
	}()

	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			logr.Errorw("consumer exited", "error", err)
		}
	}

	shutdownHTTP(metricsSrv, logr)
	logr.Info("worker stopped")
}

// finish acknowledges handled jobs. Infrastructure errors get one
// immediate redelivery; a second failure dead-letters the job.
func finish(msg amqp.Delivery, err error) error {
	if err == nil {
		return msg.Ack(false)
	}
	_ = msg.Nack(false, !msg.Redelivered)
	return err
}

func startMetricsServer(addr string, metricsCollector *metrics.Metrics, logr *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsCollector.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Errorw("metrics server error", "error", err)
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Errorw("failed to shutdown metrics server", "error", err)
	}
}
