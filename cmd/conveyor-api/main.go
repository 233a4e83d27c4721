// Conveyor API — HTTP-сервер управления процессами.
//
// API:
//   - Запускает процессы workflow'ов и принимает ввод операторов
//   - Принимает callbacks внешних систем
//   - Управляет паузой движка и subject'ами
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/catalog"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_api_http_requests_total",
		Help: "Total HTTP requests handled by conveyor_api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	processRepo := repo.NewProcessRepo(pool)
	subjectRepo := repo.NewSubjectRepo(pool)
	callbackRepo := repo.NewCallbackRepo(pool)
	engineRepo := repo.NewEngineRepo(pool)

	// Движок стартует в RUNNING, если строка состояния ещё не создана
	if err := engineRepo.Ensure(ctx); err != nil {
		logger.Error("failed to ensure engine state", "error", err)
		os.Exit(1)
	}

	// RabbitMQ (опционально: без него executor подхватит процессы polling'ом)
	var publisher *mq.Publisher
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, processes will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Каталог workflow'ов
	provisionerURL := os.Getenv("PROVISIONER_URL")
	if provisionerURL == "" {
		provisionerURL = "http://localhost:9090"
	}

	registry, err := catalog.New(catalog.Deps{
		Subjects:    subjectRepo,
		Provisioner: catalog.NewHTTPProvisioner(provisionerURL),
	})
	if err != nil {
		logger.Error("failed to build workflow catalog", "error", err)
		os.Exit(1)
	}

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		ProcessRepo:  processRepo,
		SubjectRepo:  subjectRepo,
		CallbackRepo: callbackRepo,
		EngineRepo:   engineRepo,
		Registry:     registry,
		Publisher:    publisher,
		Logger:       logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
