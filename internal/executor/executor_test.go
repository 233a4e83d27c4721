package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/forms"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/workflow"
)

// --- Fakes ---

// fakeProcessStore — in-memory ProcessStore с checkpoint-семантикой
// репозитория: условное обновление срабатывает только пока процесс
// в RUNNING.
type fakeProcessStore struct {
	mu      sync.Mutex
	procs   map[uuid.UUID]*domain.Process
	entries []domain.StepEntry

	// beforeCheckpoint вызывается перед применением checkpoint'а
	// (для симуляции гонки с abort).
	beforeCheckpoint func(stored *domain.Process)
}

func newFakeProcessStore(procs ...*domain.Process) *fakeProcessStore {
	store := &fakeProcessStore{procs: make(map[uuid.UUID]*domain.Process)}
	for _, p := range procs {
		store.procs[p.ID] = p
	}
	return store
}

func copyProcess(p *domain.Process) *domain.Process {
	copied := *p
	copied.State = p.State.Clone()
	return &copied
}

func (f *fakeProcessStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return copyProcess(p), nil
}

func (f *fakeProcessStore) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*domain.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.procs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}

	claimable := p.Status == domain.ProcessStatusCreated ||
		(p.Status == domain.ProcessStatusRunning &&
			p.LeaseExpiresAt != nil && p.LeaseExpiresAt.Before(time.Now()))
	if !claimable {
		return nil, repo.ErrInvalidState
	}

	p.MarkRunning(time.Now().Add(lease))
	return copyProcess(p), nil
}

func (f *fakeProcessStore) Checkpoint(ctx context.Context, p *domain.Process, entry *domain.StepEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.procs[p.ID]
	if !ok {
		return repo.ErrNotFound
	}

	if f.beforeCheckpoint != nil {
		f.beforeCheckpoint(stored)
	}

	if stored.Status != domain.ProcessStatusRunning {
		return repo.ErrInvalidState
	}

	f.procs[p.ID] = copyProcess(p)
	if entry != nil {
		f.entries = append(f.entries, *entry)
	}
	return nil
}

func (f *fakeProcessStore) ListReady(ctx context.Context, limit int) ([]domain.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Process
	for _, p := range f.procs {
		if p.Status == domain.ProcessStatusCreated {
			out = append(out, *copyProcess(p))
		}
	}
	return out, nil
}

func (f *fakeProcessStore) CountRunning(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.procs {
		if p.Status == domain.ProcessStatusRunning {
			count++
		}
	}
	return count, nil
}

func (f *fakeProcessStore) stored(id uuid.UUID) *domain.Process {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyProcess(f.procs[id])
}

// stage имитирует API: кладёт staged-данные и будит процесс.
func (f *fakeProcessStore) stage(id uuid.UUID, mutate func(p *domain.Process)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.procs[id]
	mutate(p)
	p.MarkReady()
}

// fakeCallbackStore — in-memory CallbackStore.
type fakeCallbackStore struct {
	mu        sync.Mutex
	callbacks []domain.Callback
	createErr error
}

func (f *fakeCallbackStore) Create(ctx context.Context, cb *domain.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.callbacks = append(f.callbacks, *cb)
	return nil
}

// fakeEngineStore — in-memory EngineStore.
type fakeEngineStore struct {
	mu    sync.Mutex
	state domain.EngineState
}

func (f *fakeEngineStore) Get(ctx context.Context) (domain.EngineState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeEngineStore) Transition(ctx context.Context, from, to domain.EngineState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != from {
		return repo.ErrInvalidState
	}
	f.state = to
	return nil
}

func (f *fakeEngineStore) set(state domain.EngineState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

// --- Helpers ---

func newTestProcess(workflowName string) *domain.Process {
	return &domain.Process{
		ID:        uuid.New(),
		Workflow:  workflowName,
		Intent:    domain.IntentSystem,
		Status:    domain.ProcessStatusCreated,
		State:     domain.NewState(),
		CreatedAt: time.Now(),
	}
}

func newTestExecutor(t *testing.T, wf *workflow.Workflow, procs *fakeProcessStore, engine *fakeEngineStore) (*Executor, *fakeCallbackStore) {
	t.Helper()

	reg := workflow.NewRegistry()
	if err := reg.Register(wf); err != nil {
		t.Fatalf("register workflow: %v", err)
	}

	callbacks := &fakeCallbackStore{}
	exec := New(Config{
		Processes: procs,
		Callbacks: callbacks,
		Engine:    engine,
		Registry:  reg,
	})
	return exec, callbacks
}

func setStep(name string, key string, value any) workflow.Step {
	return workflow.NewStep(name, func(ctx context.Context, in domain.State) workflow.Result {
		update := domain.NewState()
		update.Set(key, value)
		return workflow.Continue(update)
	}).WithProvides(key)
}

// --- Tests ---

func TestExecutor_RunsToCompletion(t *testing.T) {
	wf := workflow.New("simple", domain.IntentSystem, nil, workflow.Of(
		setStep("set_a", "a", 1),
		setStep("set_b", "b", 2),
	))

	p := newTestProcess("simple")
	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", stored.Status)
	}
	if stored.FinishedAt == nil {
		t.Error("expected FinishedAt to be set")
	}

	// State накоплен в порядке шагов
	keys := stored.State.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("expected state keys [a b], got %v", keys)
	}

	// Журнал: begin, set_a, set_b, done — индексы строго возрастают
	if len(procs.entries) != 4 {
		t.Fatalf("expected 4 journal entries, got %d", len(procs.entries))
	}
	for i, entry := range procs.entries {
		if entry.StepIndex != i {
			t.Errorf("entry %d: expected index %d, got %d", i, i, entry.StepIndex)
		}
		if entry.Outcome != domain.StepOutcomeCompleted {
			t.Errorf("entry %d: expected COMPLETED, got %s", i, entry.Outcome)
		}
	}
}

func TestExecutor_SuspendAndResume(t *testing.T) {
	var initRuns int

	initStep := workflow.NewStep("init", func(ctx context.Context, in domain.State) workflow.Result {
		initRuns++
		update := domain.NewState()
		update.Set("a", 1)
		update.Set("b", 2)
		return workflow.Continue(update)
	}).WithProvides("a", "b")

	askC := workflow.InputStep("ask_c", forms.NewSchema("Need c",
		forms.Field{Name: "c", Type: forms.FieldInt, Required: true},
	))

	sum := workflow.NewStep("sum", func(ctx context.Context, in domain.State) workflow.Result {
		a, _ := in.Get("a")
		b, _ := in.Get("b")
		c, _ := in.Get("c")
		update := domain.NewState()
		update.Set("total", a.(int)+b.(int)+c.(int))
		return workflow.Continue(update)
	}).WithRequires("a", "b", "c").WithProvides("total")

	wf := workflow.New("suspending", domain.IntentSystem, nil, workflow.Of(initStep, askC, sum))

	p := newTestProcess("suspending")
	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	// 1. Первый запуск: процесс доходит до input-шага и приостанавливается
	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusSuspended {
		t.Fatalf("expected SUSPENDED, got %s", stored.Status)
	}
	if stored.PendingForm == nil || stored.PendingForm.Fields[0].Name != "c" {
		t.Fatal("expected pending form asking for c")
	}
	if initRuns != 1 {
		t.Fatalf("expected init to run once, ran %d times", initRuns)
	}

	// 2. Resume: API кладёт провалидированный ввод и будит процесс
	procs.stage(p.ID, func(p *domain.Process) {
		p.StagedInput = map[string]any{"c": 5}
	})

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored = procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (failure: %v)", stored.Status, stored.Failure)
	}

	// Шаги до приостановки не выполняются повторно
	if initRuns != 1 {
		t.Errorf("resume must not re-run pre-suspension steps, init ran %d times", initRuns)
	}

	// Ввод слит после накопленных ключей, сумма посчитана
	keys := stored.State.Keys()
	want := []string{"a", "b", "c", "total"}
	if len(keys) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, keys)
		}
	}
	if total, _ := stored.State.Get("total"); total != 8 {
		t.Errorf("expected total=8, got %v", total)
	}
}

func TestExecutor_RetryRerunsExactlyFailedStep(t *testing.T) {
	var okRuns, flakyRuns int

	okStep := workflow.NewStep("ok", func(ctx context.Context, in domain.State) workflow.Result {
		okRuns++
		return workflow.Continue(domain.NewState())
	})
	flaky := workflow.NewStep("flaky", func(ctx context.Context, in domain.State) workflow.Result {
		flakyRuns++
		if flakyRuns == 1 {
			return workflow.FailRetryable(errors.New("transient"))
		}
		return workflow.Continue(domain.NewState())
	})

	wf := workflow.New("flaky", domain.IntentSystem, nil, workflow.Of(okStep, flaky))

	p := newTestProcess("flaky")
	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	// 1. Первый запуск падает на flaky
	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusFailed {
		t.Fatalf("expected FAILED, got %s", stored.Status)
	}
	if !stored.Failure.Retryable {
		t.Error("expected retryable failure")
	}
	failedAt := stored.StepIndex

	// 2. Retry будит процесс на том же индексе
	procs.stage(p.ID, func(p *domain.Process) {
		p.RetryRequested = true
	})

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored = procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (failure: %v)", stored.Status, stored.Failure)
	}
	if stored.Failure != nil {
		t.Error("failure should be cleared after successful retry")
	}

	// Повторяется ровно упавший шаг
	if okRuns != 1 {
		t.Errorf("retry must not re-run completed steps, ok ran %d times", okRuns)
	}
	if flakyRuns != 2 {
		t.Errorf("expected flaky to run twice, ran %d times", flakyRuns)
	}

	// В журнале два вызова flaky с одним индексом
	var flakyEntries []domain.StepEntry
	for _, e := range procs.entries {
		if e.StepName == "flaky" {
			flakyEntries = append(flakyEntries, e)
		}
	}
	if len(flakyEntries) != 2 {
		t.Fatalf("expected 2 journal entries for flaky, got %d", len(flakyEntries))
	}
	if flakyEntries[0].StepIndex != failedAt || flakyEntries[1].StepIndex != failedAt {
		t.Error("retry entries should share the failed step index")
	}
	if flakyEntries[0].Outcome != domain.StepOutcomeFailed {
		t.Errorf("expected first outcome FAILED, got %s", flakyEntries[0].Outcome)
	}
}

func TestExecutor_PanicBecomesFailure(t *testing.T) {
	panicking := workflow.NewStep("boom", func(ctx context.Context, in domain.State) workflow.Result {
		panic("unexpected nil")
	})
	wf := workflow.New("panicking", domain.IntentSystem, nil, workflow.Of(panicking))

	p := newTestProcess("panicking")
	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("panic must not escape executor: %v", err)
	}

	stored := procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusFailed {
		t.Fatalf("expected FAILED, got %s", stored.Status)
	}
	if stored.Failure == nil || stored.Failure.Trace == "" {
		t.Error("expected failure with stack trace")
	}
	if stored.Failure.Retryable {
		t.Error("panic is a fatal failure")
	}
}

func TestExecutor_EnginePausedRejectsClaim(t *testing.T) {
	wf := workflow.New("gated", domain.IntentSystem, nil, workflow.Of(setStep("a", "a", 1)))

	p := newTestProcess("gated")
	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EnginePausing}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	err := exec.Run(context.Background(), p.ID)
	if !errors.Is(err, ErrEnginePaused) {
		t.Fatalf("expected ErrEnginePaused, got %v", err)
	}

	if stored := procs.stored(p.ID); stored.Status != domain.ProcessStatusCreated {
		t.Errorf("process should stay CREATED, got %s", stored.Status)
	}
}

func TestExecutor_PauseParksProcessAtStepBoundary(t *testing.T) {
	engine := &fakeEngineStore{state: domain.EngineRunning}

	var secondRan bool
	first := workflow.NewStep("first", func(ctx context.Context, in domain.State) workflow.Result {
		// Пауза запрошена пока шаг выполнялся
		engine.set(domain.EnginePausing)
		return workflow.Continue(domain.NewState())
	})
	second := workflow.NewStep("second", func(ctx context.Context, in domain.State) workflow.Result {
		secondRan = true
		return workflow.Continue(domain.NewState())
	})

	wf := workflow.New("pausable", domain.IntentSystem, nil, workflow.Of(first, second))

	p := newTestProcess("pausable")
	procs := newFakeProcessStore(p)
	exec, _ := newTestExecutor(t, wf, procs, engine)

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if secondRan {
		t.Error("step after pause boundary must not run")
	}

	stored := procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusCreated {
		t.Fatalf("parked process should be CREATED, got %s", stored.Status)
	}
	// Прогресс первого шага сохранён: после снятия паузы выполнение
	// продолжится со второго шага
	if stored.StepIndex != 2 {
		t.Errorf("expected step index 2 (past first), got %d", stored.StepIndex)
	}
}

func TestExecutor_CallbackRoundTrip(t *testing.T) {
	var actionToken string

	bridge := workflow.CallbackStep("external",
		func(ctx context.Context, in domain.State, token string) workflow.Result {
			actionToken = token
			update := domain.NewState()
			update.Set("job", "job-1")
			return workflow.Continue(update)
		},
		func(ctx context.Context, in domain.State, payload map[string]any) workflow.Result {
			if payload["status"] != "completed" {
				return workflow.Fail(errors.New("external job failed"))
			}
			update := domain.NewState()
			update.Set("result", payload["details"])
			return workflow.Continue(update)
		},
	).WithProvides("job", "result")

	wf := workflow.New("bridged", domain.IntentSystem, nil, workflow.Of(bridge))

	p := newTestProcess("bridged")
	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, callbacks := newTestExecutor(t, wf, procs, engine)

	// 1. Action: выдан token, процесс ждёт callback
	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusWaitingOnCallback {
		t.Fatalf("expected WAITING_ON_CALLBACK, got %s", stored.Status)
	}
	if actionToken == "" {
		t.Fatal("action should receive a callback token")
	}
	if len(callbacks.callbacks) != 1 {
		t.Fatalf("expected 1 issued callback, got %d", len(callbacks.callbacks))
	}
	if callbacks.callbacks[0].Token.String() != actionToken {
		t.Error("issued token should match the one passed to action")
	}
	if callbacks.callbacks[0].ProcessID != p.ID {
		t.Error("callback should reference the process")
	}
	if job, _ := stored.State.Get("job"); job != "job-1" {
		t.Errorf("action update should be checkpointed, got job=%v", job)
	}

	// 2. Callback доставлен: validate пропускает процесс дальше
	procs.stage(p.ID, func(p *domain.Process) {
		p.StagedCallback = map[string]any{
			"status":  "completed",
			"details": map[string]any{"ip": "10.0.0.1"},
		}
	})

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored = procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (failure: %v)", stored.Status, stored.Failure)
	}
	if _, ok := stored.State.Get("result"); !ok {
		t.Error("validate update should be merged into state")
	}
}

func TestExecutor_CallbackValidateFailureIsFatal(t *testing.T) {
	bridge := workflow.CallbackStep("external",
		func(ctx context.Context, in domain.State, token string) workflow.Result {
			return workflow.Continue(domain.NewState())
		},
		func(ctx context.Context, in domain.State, payload map[string]any) workflow.Result {
			return workflow.Fail(fmt.Errorf("external job failed: %v", payload["error"]))
		},
	)
	wf := workflow.New("failing-bridge", domain.IntentSystem, nil, workflow.Of(bridge))

	p := newTestProcess("failing-bridge")
	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	procs.stage(p.ID, func(p *domain.Process) {
		p.StagedCallback = map[string]any{"status": "failed", "error": "quota exceeded"}
	})

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusFailed {
		t.Fatalf("expected FAILED, got %s", stored.Status)
	}
	if stored.Failure.Retryable {
		t.Error("validate failure is fatal")
	}
}

func TestExecutor_AbortDuringStepDiscardsCheckpoint(t *testing.T) {
	wf := workflow.New("aborted", domain.IntentSystem, nil, workflow.Of(
		setStep("set_a", "a", 1),
		setStep("set_b", "b", 2),
	))

	p := newTestProcess("aborted")
	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	// Оператор прерывает процесс пока выполняется первый шаг
	aborted := false
	procs.beforeCheckpoint = func(stored *domain.Process) {
		if !aborted && stored.StepIndex >= 0 {
			stored.MarkAborted()
			aborted = true
		}
	}

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("abort race should not be an error: %v", err)
	}

	stored := procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusAborted {
		t.Fatalf("expected ABORTED, got %s", stored.Status)
	}
	// Изменения прерванного шага отброшены
	if stored.State.Len() != 0 {
		t.Errorf("discarded checkpoint should not change state, got %v", stored.State.Keys())
	}
	if len(procs.entries) != 0 {
		t.Errorf("discarded checkpoint should not journal the step, got %d entries", len(procs.entries))
	}
}

func TestExecutor_ClaimRejectsNotReadyProcess(t *testing.T) {
	wf := workflow.New("busy", domain.IntentSystem, nil, workflow.Of(setStep("a", "a", 1)))

	p := newTestProcess("busy")
	p.Status = domain.ProcessStatusSuspended
	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	err := exec.Run(context.Background(), p.ID)
	if !errors.Is(err, ErrProcessNotReady) {
		t.Fatalf("expected ErrProcessNotReady, got %v", err)
	}
}

func TestExecutor_UnknownProcess(t *testing.T) {
	wf := workflow.New("any", domain.IntentSystem, nil, workflow.Of())
	procs := newFakeProcessStore()
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	err := exec.Run(context.Background(), uuid.New())
	if !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestExecutor_ExpiredLeaseIsReclaimable(t *testing.T) {
	wf := workflow.New("stale", domain.IntentSystem, nil, workflow.Of(setStep("a", "a", 1)))

	// Процесс завис в RUNNING с истёкшей арендой (executor умер)
	p := newTestProcess("stale")
	p.Status = domain.ProcessStatusRunning
	expired := time.Now().Add(-time.Minute)
	p.LeaseExpiresAt = &expired

	procs := newFakeProcessStore(p)
	engine := &fakeEngineStore{state: domain.EngineRunning}
	exec, _ := newTestExecutor(t, wf, procs, engine)

	if err := exec.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := procs.stored(p.ID)
	if stored.Status != domain.ProcessStatusCompleted {
		t.Fatalf("expected reclaimed process to complete, got %s", stored.Status)
	}
}
