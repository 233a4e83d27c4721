// Conveyor Engine — исполнитель процессов.
//
// Engine:
//   - Получает новые процессы и пробуждения из RabbitMQ
//   - Захватывает процессы атомарным claim'ом и выполняет шаги
//   - Фиксирует checkpoint после каждого шага
//   - Дожимает паузу движка и восстанавливает истёкшие аренды
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/catalog"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/janitor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-engine")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	processRepo := repo.NewProcessRepo(pool)
	subjectRepo := repo.NewSubjectRepo(pool)
	callbackRepo := repo.NewCallbackRepo(pool)
	engineRepo := repo.NewEngineRepo(pool)

	if err := engineRepo.Ensure(ctx); err != nil {
		logger.Error("failed to ensure engine state", "error", err)
		os.Exit(1)
	}

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
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

	// Создаём executor
	execCfg := executor.Config{
		Processes: processRepo,
		Callbacks: callbackRepo,
		Engine:    engineRepo,
		Registry:  registry,
		Logger:    logger,
	}
	if publisher != nil {
		execCfg.Notifier = publisher
	}
	exec := executor.New(execCfg)

	// Создаём сервис движка
	concurrency := 0
	if v := os.Getenv("ENGINE_CONCURRENCY"); v != "" {
		concurrency, _ = strconv.Atoi(v)
	}

	service := executor.NewService(executor.ServiceConfig{
		Executor:    exec,
		Processes:   processRepo,
		Engine:      engineRepo,
		Conn:        mqConn,
		Concurrency: concurrency,
		Logger:      logger,
	})

	if err := service.Start(ctx); err != nil {
		logger.Error("failed to start engine service", "error", err)
		os.Exit(1)
	}

	// Janitor будит процессы с истёкшей арендой. Без RabbitMQ он не
	// нужен: polling подхватывает их напрямую.
	var jan *janitor.Janitor
	if publisher != nil {
		jan, err = janitor.New(janitor.Config{
			ProcessRepo: processRepo,
			Publisher:   publisher,
			Logger:      logger,
			CronExpr:    os.Getenv("JANITOR_CRON"),
		})
		if err != nil {
			logger.Error("failed to create janitor", "error", err)
			os.Exit(1)
		}
		jan.Start(ctx)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("ENGINE_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	if jan != nil {
		jan.Stop()
	}
	service.Stop()
	logger.Info("conveyor-engine stopped")
}
