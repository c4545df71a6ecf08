package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront-payments/internal/config"
	"storefront-payments/internal/database"
	"storefront-payments/internal/handler"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/metrics"
	"storefront-payments/internal/notify"
	"storefront-payments/internal/repo"
	"storefront-payments/internal/service"
	"storefront-payments/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	orderRepo := repo.NewOrderRepo(db)
	paymentRepo := repo.NewPaymentRepo(db)

	var adapters []payment.Adapter
	if cfg.FastPay.HashSecret != "" {
		fp, err := payment.NewFastPay(payment.FastPayConfig{
			TmnCode:    cfg.FastPay.TmnCode,
			HashSecret: cfg.FastPay.HashSecret,
			PayURL:     cfg.FastPay.PayURL,
			ReturnURL:  cfg.FastPay.ReturnURL,
		})
		if err != nil {
			logger.Fatal("failed to configure fastpay gateway", zap.Error(err))
		}
		adapters = append(adapters, fp)
	} else {
		logger.Warn("no fastpay credentials configured, registering sandbox gateway only")
		adapters = append(adapters, payment.NewSandbox("sandbox-secret"))
	}
	registry := payment.NewRegistry(adapters...)
	logger.Info("payment gateways registered", zap.Strings("gateways", registry.Names()))

	var notifier service.Notifier = notify.Noop{}
	kafkaClient := notify.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		kn := notify.NewKafkaNotifier(kafkaClient, logger)
		defer kn.Close()
		notifier = kn
	}

	m := metrics.NewPaymentMetrics()
	svc := service.NewPaymentService(orderRepo, paymentRepo, registry, notifier, m, logger)

	rw := worker.NewReconciliationWorker(svc, cfg.ReconcileInterval, cfg.ReconcileStaleAfter, logger)
	go rw.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	handler.NewPaymentHandler(svc, database.NewService(db), logger).Register(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
