package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// cronParser — парсер cron-выражений расписания уборки.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Janitor периодически находит RUNNING-процессы с истёкшей арендой
// (executor умер посреди шага) и публикует для них пробуждение.
// Claim при пробуждении перезахватит процесс и продолжит с последнего
// checkpoint'а.
type Janitor struct {
	processRepo *repo.ProcessRepo
	publisher   *mq.Publisher
	logger      *slog.Logger
	schedule    cron.Schedule
	batchSize   int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config — конфигурация Janitor.
type Config struct {
	ProcessRepo *repo.ProcessRepo
	Publisher   *mq.Publisher
	Logger      *slog.Logger
	CronExpr    string // расписание уборки (default: "* * * * *")
	BatchSize   int    // количество процессов за одну уборку (default: 100)
}

// New создаёт новый Janitor.
func New(cfg Config) (*Janitor, error) {
	expr := cfg.CronExpr
	if expr == "" {
		expr = "* * * * *"
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse janitor cron expression %q: %w", expr, err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Janitor{
		processRepo: cfg.ProcessRepo,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		schedule:    schedule,
		batchSize:   batchSize,
	}, nil
}

// Start запускает цикл уборки в фоне.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.loop(ctx)

	j.logger.Info("janitor started", "batch_size", j.batchSize)
}

// Stop останавливает janitor и ждёт завершения цикла.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	j.logger.Info("janitor stopped")
}

// loop ждёт следующего тика расписания и выполняет уборку.
func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := j.Sweep(ctx); err != nil {
			j.logger.Error("janitor sweep failed", "error", err)
		}
	}
}

// Sweep выполняет одну уборку.
//
// 1. Находит RUNNING-процессы с истёкшей арендой
// 2. Публикует process.wake для каждого
//
// Ошибка публикации одного процесса не блокирует остальные:
// при следующей уборке процесс всё ещё будет expired.
func (j *Janitor) Sweep(ctx context.Context) error {
	expired, err := j.processRepo.ListExpired(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("list expired processes: %w", err)
	}

	if len(expired) == 0 {
		return nil
	}

	j.logger.Debug("found expired leases", "count", len(expired))

	var woken int
	for i := range expired {
		p := &expired[i]

		if err := j.publisher.PublishProcessWake(ctx, p.ID, mq.WakeLease); err != nil {
			j.logger.Warn("failed to publish wake for expired process",
				"process_id", p.ID,
				"workflow", p.Workflow,
				"error", err,
			)
			continue
		}

		j.logger.Info("woke process with expired lease",
			"process_id", p.ID,
			"workflow", p.Workflow,
			"step_index", p.StepIndex,
		)
		woken++
	}

	j.logger.Info("janitor sweep completed",
		"expired", len(expired),
		"woken", woken,
	)

	return nil
}
