package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/streadway/amqp"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/bus"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/config"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/controller"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/db"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/queue"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/repository"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/service"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/template"
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
	logr.Infow("starting api server", "app", cfg.AppName)

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

	renderer := template.NewRenderer(templateRepo)
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
	}
	dispatcher.Register(eventBus)

	mailerService := &service.MailerService{
		Messages:   messageRepo,
		Events:     eventRepo,
		Queue:      q,
		Bus:        eventBus,
		Metrics:    metricsCollector,
		Logger:     logr,
		SendQueue:  cfg.SendQueue,
		BatchQueue: cfg.BatchQueue,
		BatchSize:  cfg.BatchSize,
		AppURL:     cfg.AppURL,
	}
	webhookService := &service.WebhookService{
		Repo:         webhookRepo,
		Queue:        q,
		Logger:       logr,
		WebhookQueue: cfg.WebhookQueue,
	}

	messageController := &controller.MessageController{
		MailerService: mailerService,
		Messages:      messageRepo,
	}
	webhookController := &controller.WebhookController{
		WebhookService: webhookService,
	}
	trackingController := &controller.TrackingController{
		MailerService: mailerService,
		AppURL:        cfg.AppURL,
		Logger:        logr,
	}
	templateController := &controller.TemplateController{
		Templates: templateRepo,
		Renderer:  renderer,
	}
	eventController := &controller.EventController{Bus: eventBus}

	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", messageController.SendMessage)
		r.Post("/messages/batch", messageController.SendBatch)
		r.Get("/messages/{id}", messageController.GetMessage)
		r.Get("/messages/{id}/events", messageController.GetMessageEvents)
		r.Post("/messages/{id}/events", messageController.RecordEvent)
		r.Post("/messages/{id}/resend", messageController.ResendMessage)
		r.Post("/events", eventController.PublishEvent)
		r.Get("/campaigns/{id}/stats", messageController.GetCampaignStats)

		r.Post("/templates", templateController.SaveTemplate)
		r.Get("/templates", templateController.ListTemplates)
		r.Get("/templates/{name}", templateController.GetTemplate)

		r.Post("/webhooks", webhookController.CreateSubscription)
		r.Get("/webhooks", webhookController.ListSubscriptions)
		r.Get("/webhooks/events", webhookController.ListEvents)
		r.Get("/webhooks/{id}", webhookController.GetSubscription)
		r.Put("/webhooks/{id}", webhookController.UpdateSubscription)
		r.Delete("/webhooks/{id}", webhookController.DeleteSubscription)
		r.Post("/webhooks/{id}/activate", webhookController.ActivateSubscription)
		r.Get("/webhooks/{id}/deliveries", webhookController.ListDeliveries)
		r.Post("/webhooks/deliveries/{id}/retry", webhookController.RetryDelivery)
	})

	r.Get("/tracker/{id}/open", trackingController.Open)
	r.Get("/tracker/{id}/click", trackingController.Click)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metricsCollector.Handler())

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Infow("api server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Errorw("http server error", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Errorw("failed to shutdown http server", "error", err)
	}
	logr.Info("api server stopped")
}
