package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/workflow"
)

// defaultLease — срок аренды исполнения. Истёкшая аренда у RUNNING
// процесса означает упавший executor.
const defaultLease = 2 * time.Minute

// Executor выполняет один процесс от claim'а до остановки:
// терминального статуса, приостановки или паузы движка.
//
// Процесс захватывается атомарным CAS (CREATED → RUNNING), поэтому
// конкурирующие executor'ы не исполняют один процесс одновременно.
// После каждого шага прогресс фиксируется checkpoint'ом; abort,
// случившийся во время шага, обнаруживается по несработавшему
// условному UPDATE.
type Executor struct {
	processes ProcessStore
	callbacks CallbackStore
	engine    EngineStore
	registry  *workflow.Registry
	notifier  Notifier

	lease  time.Duration
	logger *slog.Logger
}

// Config — конфигурация Executor.
type Config struct {
	Processes ProcessStore
	Callbacks CallbackStore
	Engine    EngineStore
	Registry  *workflow.Registry

	// Notifier — опциональный сток уведомлений о статусах.
	Notifier Notifier

	// Lease — срок аренды исполнения (default: 2m).
	Lease time.Duration

	Logger *slog.Logger
}

// New создаёт новый Executor.
func New(cfg Config) *Executor {
	lease := cfg.Lease
	if lease <= 0 {
		lease = defaultLease
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		processes: cfg.Processes,
		callbacks: cfg.Callbacks,
		engine:    cfg.Engine,
		registry:  cfg.Registry,
		notifier:  cfg.Notifier,
		lease:     lease,
		logger:    logger,
	}
}

// Run захватывает процесс и выполняет шаги, пока процесс не остановится.
//
// Возвращает nil, когда процесс дошёл до остановки штатно (завершён,
// приостановлен, упал — всё это зафиксировано в БД). Ожидаемые причины
// не начинать выполнение — ErrEnginePaused, ErrProcessNotReady,
// ErrProcessNotFound.
func (e *Executor) Run(ctx context.Context, processID uuid.UUID) error {
	// 1. Gate: при паузе движка процессы не захватываются
	engState, err := e.engine.Get(ctx)
	if err != nil {
		return fmt.Errorf("get engine state: %w", err)
	}
	if !engState.AllowsExecution() {
		return ErrEnginePaused
	}

	// 2. Атомарный claim
	p, err := e.processes.Claim(ctx, processID, e.lease)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrInvalidState):
			return ErrProcessNotReady
		case errors.Is(err, repo.ErrNotFound):
			return ErrProcessNotFound
		}
		return fmt.Errorf("claim process: %w", err)
	}

	logger := telemetry.WithWorkflow(
		telemetry.WithProcessID(e.logger, p.ID.String()), p.Workflow)
	logger.Info("process claimed",
		"step_index", p.StepIndex,
		"claimed_from", p.ClaimedFrom,
	)

	wf, err := e.registry.Get(p.Workflow)
	if err != nil {
		// Workflow исчез из реестра (деплой со сменой каталога) —
		// фатально для процесса
		return e.failProcess(ctx, logger, p, nil, &domain.Failure{
			Message: fmt.Sprintf("workflow %q is not registered", p.Workflow),
		})
	}

	// 3. Потребляем staged-ввод, если процесс был разбужен
	if stop, err := e.consumeStaged(ctx, logger, p, wf); stop || err != nil {
		return err
	}

	// 4. Основной цикл шагов
	return e.runSteps(ctx, logger, p, wf)
}

// consumeStaged обрабатывает staged-данные разбуженного процесса:
// ввод resume, payload callback'а или запрос retry.
//
// Возвращает stop=true, если выполнение уже остановлено (например,
// validate callback'а упал).
func (e *Executor) consumeStaged(ctx context.Context, logger *slog.Logger, p *domain.Process, wf *workflow.Workflow) (stop bool, err error) {
	switch {
	case p.StagedInput != nil:
		step := wf.Steps.At(p.StepIndex)
		if !step.IsInput() {
			return true, e.failProcess(ctx, logger, p, nil, &domain.Failure{
				Message: fmt.Sprintf("staged input at non-input step %q", step.Name),
			})
		}

		started := time.Now()
		// Поля сливаются в порядке объявления формы
		update := domain.NewState()
		for _, field := range step.Form.Fields {
			if v, ok := p.StagedInput[field.Name]; ok {
				update.Set(field.Name, v)
			}
		}
		p.State.Merge(update)
		entry := newEntry(p, step.Name, domain.StepOutcomeCompleted, nil, started)
		p.StepIndex++
		p.ClearStaged()

		if err := e.checkpoint(ctx, logger, p, entry); err != nil {
			return true, err
		}
		logger.Info("resume input merged", "step", step.Name)

	case p.StagedCallback != nil:
		step := wf.Steps.At(p.StepIndex)
		if !step.IsCallback() {
			return true, e.failProcess(ctx, logger, p, nil, &domain.Failure{
				Message: fmt.Sprintf("staged callback at non-callback step %q", step.Name),
			})
		}

		started := time.Now()
		payload := p.StagedCallback
		p.ClearStaged()

		res := e.invoke(step.Name, func() workflow.Result {
			return step.Bridge.Validate(ctx, e.stepInput(p, step), payload)
		})
		e.observeStep(p.Workflow, step.Name, started)

		switch res.Kind() {
		case workflow.KindContinue:
			p.State.Merge(res.Update())
			entry := newEntry(p, step.Name, domain.StepOutcomeCompleted, nil, started)
			p.StepIndex++
			if err := e.checkpoint(ctx, logger, p, entry); err != nil {
				return true, err
			}
			logger.Info("callback validated", "step", step.Name)

		case workflow.KindFail:
			entry := newEntry(p, step.Name, domain.StepOutcomeFailed, res.Failure(), started)
			return true, e.failProcess(ctx, logger, p, entry, res.Failure())

		default:
			failure := &domain.Failure{
				Message: fmt.Sprintf("callback validate of %q suspended", step.Name),
			}
			entry := newEntry(p, step.Name, domain.StepOutcomeFailed, failure, started)
			return true, e.failProcess(ctx, logger, p, entry, failure)
		}

	case p.RetryRequested:
		// Упавший шаг выполнится заново в основном цикле
		logger.Info("retrying failed step", "step_index", p.StepIndex)
		p.ClearStaged()
	}

	return false, nil
}

// runSteps выполняет шаги начиная с p.StepIndex до остановки.
func (e *Executor) runSteps(ctx context.Context, logger *slog.Logger, p *domain.Process, wf *workflow.Workflow) error {
	for {
		// Abort мог быть обнаружен checkpoint'ом предыдущего шага
		if p.Status != domain.ProcessStatusRunning {
			return nil
		}

		if p.StepIndex >= wf.Steps.Len() {
			p.MarkCompleted()
			if err := e.checkpoint(ctx, logger, p, nil); err != nil {
				return err
			}
			telemetry.ProcessesFinished.WithLabelValues(p.Workflow, string(p.Status)).Inc()
			e.notify(ctx, p, "")
			logger.Info("process completed", "duration", p.Duration())
			return nil
		}

		// Граница шага — единственное место, где действует пауза движка
		engState, err := e.engine.Get(ctx)
		if err != nil {
			return fmt.Errorf("get engine state: %w", err)
		}
		if !engState.AllowsExecution() {
			p.MarkReady()
			if err := e.checkpoint(ctx, logger, p, nil); err != nil {
				return err
			}
			logger.Info("process parked by engine pause", "step_index", p.StepIndex)
			return nil
		}

		step := wf.Steps.At(p.StepIndex)
		stop, err := e.runStep(ctx, logger, p, step)
		if stop || err != nil {
			return err
		}
	}
}

// runStep выполняет один шаг. stop=true, если процесс остановился
// (приостановлен, ждёт callback, упал).
func (e *Executor) runStep(ctx context.Context, logger *slog.Logger, p *domain.Process, step workflow.Step) (stop bool, err error) {
	started := time.Now()

	if step.IsCallback() {
		return e.runCallbackAction(ctx, logger, p, step, started)
	}

	res := e.invoke(step.Name, func() workflow.Result {
		return step.Invoke(ctx, e.stepInput(p, step))
	})
	if !step.IsSentinel() {
		e.observeStep(p.Workflow, step.Name, started)
	}

	switch res.Kind() {
	case workflow.KindContinue:
		p.State.Merge(res.Update())
		entry := newEntry(p, step.Name, domain.StepOutcomeCompleted, nil, started)
		p.StepIndex++
		if err := e.checkpoint(ctx, logger, p, entry); err != nil {
			return true, err
		}
		logger.Debug("step completed", "step", step.Name, "step_index", p.StepIndex-1)
		return false, nil

	case workflow.KindSuspend:
		p.MarkSuspended(res.Form())
		entry := newEntry(p, step.Name, domain.StepOutcomeSuspended, nil, started)
		if err := e.checkpoint(ctx, logger, p, entry); err != nil {
			return true, err
		}
		e.notify(ctx, p, "")
		logger.Info("process suspended", "step", step.Name)
		return true, nil

	default:
		entry := newEntry(p, step.Name, domain.StepOutcomeFailed, res.Failure(), started)
		return true, e.failProcess(ctx, logger, p, entry, res.Failure())
	}
}

// runCallbackAction выполняет action-половину callback-шага: выдаёт
// одноразовый token, запускает внешнюю операцию и переводит процесс
// в WAITING_ON_CALLBACK.
func (e *Executor) runCallbackAction(ctx context.Context, logger *slog.Logger, p *domain.Process, step workflow.Step, started time.Time) (bool, error) {
	cb := &domain.Callback{
		Token:     uuid.New(),
		ProcessID: p.ID,
		StepIndex: p.StepIndex,
		CreatedAt: started,
	}
	if err := e.callbacks.Create(ctx, cb); err != nil {
		// Инфраструктурная ошибка: процесс остаётся RUNNING, аренда
		// истечёт и процесс будет переclaim'ен
		return true, fmt.Errorf("create callback token: %w", err)
	}

	res := e.invoke(step.Name, func() workflow.Result {
		return step.Bridge.Action(ctx, e.stepInput(p, step), cb.Token.String())
	})
	e.observeStep(p.Workflow, step.Name, started)

	switch res.Kind() {
	case workflow.KindContinue:
		p.State.Merge(res.Update())
		p.MarkWaitingOnCallback()
		entry := newEntry(p, step.Name, domain.StepOutcomeWaiting, nil, started)
		if err := e.checkpoint(ctx, logger, p, entry); err != nil {
			return true, err
		}
		e.notify(ctx, p, "")
		logger.Info("process waiting on callback", "step", step.Name, "token", cb.Token)
		return true, nil

	case workflow.KindFail:
		entry := newEntry(p, step.Name, domain.StepOutcomeFailed, res.Failure(), started)
		return true, e.failProcess(ctx, logger, p, entry, res.Failure())

	default:
		failure := &domain.Failure{
			Message: fmt.Sprintf("callback action of %q suspended", step.Name),
		}
		entry := newEntry(p, step.Name, domain.StepOutcomeFailed, failure, started)
		return true, e.failProcess(ctx, logger, p, entry, failure)
	}
}

// failProcess переводит процесс в FAILED и фиксирует checkpoint.
func (e *Executor) failProcess(ctx context.Context, logger *slog.Logger, p *domain.Process, entry *domain.StepEntry, failure *domain.Failure) error {
	p.MarkFailed(failure)
	if err := e.checkpoint(ctx, logger, p, entry); err != nil {
		return err
	}
	telemetry.ProcessesFinished.WithLabelValues(p.Workflow, string(p.Status)).Inc()
	e.notify(ctx, p, failure.Message)
	logger.Warn("process failed",
		"step_index", p.StepIndex,
		"error", failure.Message,
		"retryable", failure.Retryable,
	)
	return nil
}

// checkpoint фиксирует прогресс. Несработавший условный UPDATE
// означает abort во время шага: выполнение прекращается молча,
// изменения шага отброшены.
func (e *Executor) checkpoint(ctx context.Context, logger *slog.Logger, p *domain.Process, entry *domain.StepEntry) error {
	err := e.processes.Checkpoint(ctx, p, entry)
	if errors.Is(err, repo.ErrInvalidState) {
		logger.Info("process aborted during step, checkpoint discarded",
			"step_index", p.StepIndex,
		)
		p.Status = domain.ProcessStatusAborted
		return nil
	}
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// stepInput возвращает вход шага: подмножество state по Requires
// либо копию всего state, если Requires не объявлены.
func (e *Executor) stepInput(p *domain.Process, step workflow.Step) domain.State {
	if len(step.Requires) > 0 {
		return p.State.Subset(step.Requires...)
	}
	return p.State.Clone()
}

// invoke вызывает функцию шага с panic-recovery: паника шага не роняет
// executor, а превращается в фатальную ошибку процесса со stack trace.
func (e *Executor) invoke(stepName string, fn func() workflow.Result) (res workflow.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = workflow.FailWith(&domain.Failure{
				Message: fmt.Sprintf("step %q panicked: %v", stepName, r),
				Trace:   string(debug.Stack()),
			})
		}
	}()
	return fn()
}

// observeStep записывает метрики выполнения шага.
func (e *Executor) observeStep(wfName, stepName string, started time.Time) {
	telemetry.StepDuration.WithLabelValues(wfName, stepName).
		Observe(time.Since(started).Seconds())
}

// notify публикует уведомление о смене статуса процесса.
func (e *Executor) notify(ctx context.Context, p *domain.Process, errMsg string) {
	if e.notifier == nil {
		return
	}
	e.notifier.PublishProcessStatus(ctx, mq.ProcessStatusPayload{
		ProcessID: p.ID,
		Workflow:  p.Workflow,
		SubjectID: p.SubjectID,
		Status:    string(p.Status),
		StepIndex: p.StepIndex,
		Error:     errMsg,
	})
}

// newEntry создаёт запись журнала выполнения шага.
func newEntry(p *domain.Process, stepName string, outcome domain.StepOutcome, failure *domain.Failure, started time.Time) *domain.StepEntry {
	telemetry.StepsExecuted.WithLabelValues(p.Workflow, stepName, string(outcome)).Inc()
	return &domain.StepEntry{
		ID:         uuid.New(),
		ProcessID:  p.ID,
		StepIndex:  p.StepIndex,
		StepName:   stepName,
		Outcome:    outcome,
		Failure:    failure,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
}
