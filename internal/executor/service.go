package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval  = 10 * time.Second
	defaultDrainInterval = 2 * time.Second
	defaultBatchSize     = 100
	defaultConcurrency   = 8
	defaultPrefetch      = 10
)

// Service — сервис движка.
//
// Service — компонент, который:
//   - Получает новые процессы из очереди processes.pending (event-driven)
//   - Получает пробуждения из очереди processes.wake
//   - Периодически проверяет готовые процессы в БД (polling fallback)
//   - Ограничивает число одновременно исполняемых процессов
//   - Дожимает паузу движка: PAUSING → PAUSED, когда RUNNING-процессов
//     не осталось
//
// Экземпляры масштабируются горизонтально — атомарный claim гарантирует,
// что процесс исполняется максимум одним экземпляром.
type Service struct {
	executor  *Executor
	processes ProcessStore
	engine    EngineStore

	// MQ
	conn *mq.Connection

	// Consumers
	pendingConsumer *mq.Consumer
	wakeConsumer    *mq.Consumer

	// Semaphore одновременного исполнения
	slots chan struct{}

	// Configuration
	pollInterval  time.Duration
	drainInterval time.Duration
	batchSize     int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// ServiceConfig — конфигурация Service.
type ServiceConfig struct {
	Executor  *Executor
	Processes ProcessStore
	Engine    EngineStore

	// MQ
	Conn *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество процессов за один poll (default: 100)

	// Concurrency — число одновременно исполняемых процессов (default: 8)
	Concurrency int

	// Logger
	Logger *slog.Logger
}

// NewService создаёт новый Service.
func NewService(cfg ServiceConfig) *Service {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		executor:      cfg.Executor,
		processes:     cfg.Processes,
		engine:        cfg.Engine,
		conn:          cfg.Conn,
		slots:         make(chan struct{}, concurrency),
		pollInterval:  pollInterval,
		drainInterval: defaultDrainInterval,
		batchSize:     batchSize,
		logger:        logger,
	}
}

// Start запускает Service.
//
// Запускает:
//   - Consumer для processes.pending
//   - Consumer для processes.wake
//   - Polling горутину для fallback
//   - Drain горутину для дожима паузы
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.logger.Info("starting engine service",
		"poll_interval", s.pollInterval,
		"batch_size", s.batchSize,
		"concurrency", cap(s.slots),
	)

	// Consumers поднимаются только при живом RabbitMQ;
	// без него работает polling-only режим
	if s.conn != nil {
		s.pendingConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueProcessesPending),
			Handler:  s.handleProcessPending,
			Prefetch: defaultPrefetch,
		})

		s.wakeConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueProcessesWake),
			Handler:  s.handleProcessWake,
			Prefetch: defaultPrefetch,
		})

		// Запускаем pending consumer
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.pendingConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("pending consumer error", "error", err)
			}
		}()

		// Запускаем wake consumer
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.wakeConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("wake consumer error", "error", err)
			}
		}()
	} else {
		s.logger.Warn("no message broker connection, running in polling-only mode")
	}

	// Запускаем polling
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx)
	}()

	// Запускаем drain паузы
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drainLoop(ctx)
	}()

	s.logger.Info("engine service started")
	return nil
}

// Stop останавливает Service.
func (s *Service) Stop() {
	s.stoppedMu.Lock()
	s.stopped = true
	s.stoppedMu.Unlock()

	s.logger.Info("stopping engine service...")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	if s.pendingConsumer != nil {
		s.pendingConsumer.Stop()
	}
	if s.wakeConsumer != nil {
		s.wakeConsumer.Stop()
	}

	// Ждём завершения горутин
	s.wg.Wait()

	s.logger.Info("engine service stopped")
}

// IsStopped проверяет, остановлен ли Service.
func (s *Service) IsStopped() bool {
	s.stoppedMu.RLock()
	defer s.stoppedMu.RUnlock()
	return s.stopped
}

// handleProcessPending обрабатывает событие о новом процессе.
func (s *Service) handleProcessPending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.ProcessPendingPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse process.pending payload", "error", err)
		return err
	}

	s.logger.Debug("received process.pending event", "process_id", payload.ProcessID)

	return s.execute(ctx, payload.ProcessID)
}

// handleProcessWake обрабатывает пробуждение процесса.
func (s *Service) handleProcessWake(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.ProcessWakePayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse process.wake payload", "error", err)
		return err
	}

	s.logger.Debug("received process.wake event",
		"process_id", payload.ProcessID,
		"reason", payload.Reason,
	)

	return s.execute(ctx, payload.ProcessID)
}

// execute выполняет процесс под семафором одновременного исполнения.
//
// Ожидаемые причины не выполнять (пауза движка, процесс не готов,
// процесс удалён) не считаются ошибками: сообщение подтверждается,
// разбуженный процесс подхватит polling после снятия паузы.
func (s *Service) execute(ctx context.Context, processID uuid.UUID) error {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slots }()

	err := s.executor.Run(ctx, processID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEnginePaused),
		errors.Is(err, ErrProcessNotReady),
		errors.Is(err, ErrProcessNotFound):
		s.logger.Debug("process not executed", "process_id", processID, "reason", err)
		return nil
	default:
		s.logger.Error("failed to execute process", "process_id", processID, "error", err)
		return err
	}
}

// pollLoop — цикл polling для fallback.
func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем процессы, созданные
	// или разбуженные пока были выключены)
	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (s *Service) poll(ctx context.Context) {
	engState, err := s.engine.Get(ctx)
	if err != nil {
		s.logger.Error("failed to get engine state", "error", err)
		return
	}
	if !engState.AllowsExecution() {
		return
	}

	processes, err := s.processes.ListReady(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list ready processes", "error", err)
		return
	}

	if len(processes) == 0 {
		return
	}

	s.logger.Debug("poll found ready processes", "count", len(processes))

	for i := range processes {
		if err := s.execute(ctx, processes[i].ID); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error("failed to execute process from poll",
				"process_id", processes[i].ID,
				"error", err,
			)
		}
	}
}

// drainLoop дожимает паузу движка: когда движок в PAUSING
// и RUNNING-процессов не осталось, переводит его в PAUSED.
func (s *Service) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// drain выполняет один цикл проверки паузы.
func (s *Service) drain(ctx context.Context) {
	engState, err := s.engine.Get(ctx)
	if err != nil {
		s.logger.Error("failed to get engine state", "error", err)
		return
	}

	if engState == domain.EngineRunning {
		telemetry.EnginePaused.Set(0)
	} else {
		telemetry.EnginePaused.Set(1)
	}

	running, err := s.processes.CountRunning(ctx)
	if err != nil {
		s.logger.Error("failed to count running processes", "error", err)
		return
	}
	telemetry.ProcessesRunning.Set(float64(running))

	if engState != domain.EnginePausing || running > 0 {
		return
	}

	err = s.engine.Transition(ctx, domain.EnginePausing, domain.EnginePaused)
	if err != nil {
		// Конкурирующий экземпляр уже дожал паузу или движок возобновлён
		s.logger.Debug("pause transition not applied", "error", err)
		return
	}

	s.logger.Info("engine drained, pause complete")
}
