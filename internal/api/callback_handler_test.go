package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/workflow"
)

// --- Fakes ---

// fakeProcessStore — in-memory ProcessStore со staging-семантикой
// репозитория: условные переходы по статусу.
type fakeProcessStore struct {
	procs map[uuid.UUID]*domain.Process

	// created — процессы, принятые Create.
	created []*domain.Process

	// stagedCallbacks — сколько раз процессу клали callback payload.
	stagedCallbacks int
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

func (f *fakeProcessStore) Create(ctx context.Context, p *domain.Process) error {
	f.procs[p.ID] = copyProcess(p)
	f.created = append(f.created, f.procs[p.ID])
	return nil
}

func (f *fakeProcessStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Process, error) {
	p, ok := f.procs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return copyProcess(p), nil
}

func (f *fakeProcessStore) List(ctx context.Context, filter repo.ProcessFilter) ([]domain.Process, error) {
	return nil, nil
}

func (f *fakeProcessStore) ListSteps(ctx context.Context, processID uuid.UUID) ([]domain.StepEntry, error) {
	return nil, nil
}

func (f *fakeProcessStore) ListReady(ctx context.Context, limit int) ([]domain.Process, error) {
	return nil, nil
}

func (f *fakeProcessStore) StageResume(ctx context.Context, id uuid.UUID, input map[string]any) (*domain.Process, error) {
	p, ok := f.procs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if p.Status != domain.ProcessStatusSuspended {
		return nil, repo.ErrInvalidState
	}
	p.StagedInput = input
	p.MarkReady()
	return copyProcess(p), nil
}

func (f *fakeProcessStore) StageCallback(ctx context.Context, id uuid.UUID, payload map[string]any) (*domain.Process, error) {
	p, ok := f.procs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if p.Status != domain.ProcessStatusWaitingOnCallback {
		return nil, repo.ErrInvalidState
	}
	f.stagedCallbacks++
	p.StagedCallback = payload
	p.MarkReady()
	return copyProcess(p), nil
}

func (f *fakeProcessStore) RequestRetry(ctx context.Context, id uuid.UUID, force bool) (*domain.Process, error) {
	p, ok := f.procs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if p.Status != domain.ProcessStatusFailed {
		return nil, repo.ErrInvalidState
	}
	p.RetryRequested = true
	p.MarkReady()
	return copyProcess(p), nil
}

func (f *fakeProcessStore) Abort(ctx context.Context, id uuid.UUID) (*domain.Process, error) {
	p, ok := f.procs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if !p.Status.CanAbort() {
		return nil, repo.ErrInvalidState
	}
	p.MarkAborted()
	return copyProcess(p), nil
}

// fakeCallbackStore — in-memory CallbackStore с consume-семантикой
// репозитория: токен одноразовый, потребление очищает прогресс.
type fakeCallbackStore struct {
	cbs map[uuid.UUID]*domain.Callback
}

func newFakeCallbackStore(cbs ...*domain.Callback) *fakeCallbackStore {
	store := &fakeCallbackStore{cbs: make(map[uuid.UUID]*domain.Callback)}
	for _, cb := range cbs {
		store.cbs[cb.Token] = cb
	}
	return store
}

func (f *fakeCallbackStore) GetByToken(ctx context.Context, token uuid.UUID) (*domain.Callback, error) {
	cb, ok := f.cbs[token]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *cb
	return &copied, nil
}

func (f *fakeCallbackStore) Consume(ctx context.Context, token uuid.UUID, payload map[string]any) (*domain.Callback, error) {
	cb, ok := f.cbs[token]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if cb.IsConsumed() {
		return nil, repo.ErrTokenConsumed
	}
	if cb.ProcessID == uuid.Nil {
		return nil, repo.ErrInvalidState
	}

	now := time.Now()
	cb.ConsumedAt = &now
	cb.Payload = payload
	cb.Progress = nil

	copied := *cb
	return &copied, nil
}

func (f *fakeCallbackStore) SetProgress(ctx context.Context, token uuid.UUID, progress map[string]any) error {
	cb, ok := f.cbs[token]
	if !ok || cb.IsConsumed() || cb.ProcessID == uuid.Nil {
		return nil
	}
	cb.Progress = progress
	return nil
}

func (f *fakeCallbackStore) InvalidateForProcess(ctx context.Context, processID uuid.UUID) error {
	for _, cb := range f.cbs {
		if cb.ProcessID == processID && !cb.IsConsumed() {
			cb.ProcessID = uuid.Nil
		}
	}
	return nil
}

// fakeEngineStore — in-memory EngineStore с CAS-переходами.
type fakeEngineStore struct {
	state domain.EngineState
}

func (f *fakeEngineStore) Get(ctx context.Context) (domain.EngineState, error) {
	return f.state, nil
}

func (f *fakeEngineStore) Transition(ctx context.Context, from, to domain.EngineState) error {
	if f.state != from {
		return repo.ErrInvalidState
	}
	f.state = to
	return nil
}

// --- Helpers ---

func newTestMux(t *testing.T, cfg Config) *http.ServeMux {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Registry == nil {
		cfg.Registry = workflow.NewRegistry()
	}
	if cfg.EngineRepo == nil {
		cfg.EngineRepo = &fakeEngineStore{state: domain.EngineRunning}
	}

	mux := http.NewServeMux()
	NewHandler(cfg).RegisterRoutes(mux)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func waitingProcess() *domain.Process {
	return &domain.Process{
		ID:        uuid.New(),
		Workflow:  "external.job",
		Intent:    domain.IntentSystem,
		Status:    domain.ProcessStatusWaitingOnCallback,
		State:     domain.NewState(),
		CreatedAt: time.Now(),
	}
}

func activeCallback(p *domain.Process) *domain.Callback {
	return &domain.Callback{
		Token:     uuid.New(),
		ProcessID: p.ID,
		StepIndex: 2,
		CreatedAt: time.Now(),
	}
}

// --- Tests ---

func TestDeliverCallback_NullBodyStagesEmptyPayload(t *testing.T) {
	p := waitingProcess()
	procs := newFakeProcessStore(p)
	cb := activeCallback(p)
	mux := newTestMux(t, Config{
		ProcessRepo:  procs,
		CallbackRepo: newFakeCallbackStore(cb),
	})

	// Тело `null` — валидный JSON, декодируется в nil map
	rec := doRequest(t, mux, http.MethodPost, "/api/v1/callbacks/"+cb.Token.String(), "null")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored := procs.procs[p.ID]
	if stored.Status != domain.ProcessStatusCreated {
		t.Errorf("expected process woken to CREATED, got %s", stored.Status)
	}
	// Nil staged callback неотличим от «доставки не было»: executor
	// перезапустил бы action. Пустая доставка обязана стать {}.
	if stored.StagedCallback == nil {
		t.Error("empty delivery must stage a non-nil payload")
	}
}

func TestDeliverCallback_SecondDeliveryRejected(t *testing.T) {
	p := waitingProcess()
	procs := newFakeProcessStore(p)
	cb := activeCallback(p)
	mux := newTestMux(t, Config{
		ProcessRepo:  procs,
		CallbackRepo: newFakeCallbackStore(cb),
	})

	path := "/api/v1/callbacks/" + cb.Token.String()

	rec := doRequest(t, mux, http.MethodPost, path, `{"status":"completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	statusAfterFirst := procs.procs[p.ID].Status

	// Дубликат того же callback'а
	rec = doRequest(t, mux, http.MethodPost, path, `{"status":"failed"}`)
	if rec.Code != http.StatusGone {
		t.Fatalf("duplicate delivery: expected 410, got %d", rec.Code)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeInvalidToken {
		t.Errorf("expected INVALID_TOKEN, got %s", errResp.Error.Code)
	}

	// Процесс не тронут дубликатом
	if procs.stagedCallbacks != 1 {
		t.Errorf("expected exactly one staging, got %d", procs.stagedCallbacks)
	}
	if got := procs.procs[p.ID].Status; got != statusAfterFirst {
		t.Errorf("duplicate changed process status: %s -> %s", statusAfterFirst, got)
	}
	if payload := procs.procs[p.ID].StagedCallback; payload["status"] != "completed" {
		t.Errorf("duplicate overwrote staged payload: %v", payload)
	}
}

func TestDeliverCallback_UnknownToken(t *testing.T) {
	mux := newTestMux(t, Config{
		ProcessRepo:  newFakeProcessStore(),
		CallbackRepo: newFakeCallbackStore(),
	})

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/callbacks/"+uuid.NewString(), `{}`)
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
}

func TestDeliverCallback_InvalidatedTokenRejected(t *testing.T) {
	p := waitingProcess()
	cb := activeCallback(p)
	cb.ProcessID = uuid.Nil // abort инвалидировал токен
	mux := newTestMux(t, Config{
		ProcessRepo:  newFakeProcessStore(p),
		CallbackRepo: newFakeCallbackStore(cb),
	})

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/callbacks/"+cb.Token.String(), `{}`)
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
}

func TestCallbackProgress_VisibleUntilConsumed(t *testing.T) {
	p := waitingProcess()
	cb := activeCallback(p)
	mux := newTestMux(t, Config{
		ProcessRepo:  newFakeProcessStore(p),
		CallbackRepo: newFakeCallbackStore(cb),
	})

	path := "/api/v1/callbacks/" + cb.Token.String()

	rec := doRequest(t, mux, http.MethodPost, path+"/progress", `{"progress":{"percent":40}}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	// Прогресс виден наблюдателю, пока токен активен
	rec = doRequest(t, mux, http.MethodGet, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data CallbackResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Data.Consumed {
		t.Error("token should not be consumed yet")
	}
	if resp.Data.Progress["percent"] != float64(40) {
		t.Errorf("expected progress percent 40, got %v", resp.Data.Progress)
	}

	// Финальная доставка потребляет токен и очищает прогресс
	rec = doRequest(t, mux, http.MethodPost, path, `{"status":"completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodGet, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp.Data = CallbackResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Data.Consumed {
		t.Error("token should be consumed after delivery")
	}
	if len(resp.Data.Progress) != 0 {
		t.Errorf("progress should be cleared after delivery, got %v", resp.Data.Progress)
	}
}

func TestCallbackProgress_ConsumedTokenIsNoop(t *testing.T) {
	p := waitingProcess()
	cb := activeCallback(p)
	consumed := time.Now()
	cb.ConsumedAt = &consumed
	store := newFakeCallbackStore(cb)
	mux := newTestMux(t, Config{
		ProcessRepo:  newFakeProcessStore(p),
		CallbackRepo: store,
	})

	path := "/api/v1/callbacks/" + cb.Token.String()
	rec := doRequest(t, mux, http.MethodPost, path+"/progress", `{"progress":{"percent":99}}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if store.cbs[cb.Token].Progress != nil {
		t.Errorf("progress on a consumed token must be dropped, got %v", store.cbs[cb.Token].Progress)
	}
}

func TestGetCallback_UnknownToken(t *testing.T) {
	mux := newTestMux(t, Config{
		ProcessRepo:  newFakeProcessStore(),
		CallbackRepo: newFakeCallbackStore(),
	})

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/callbacks/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
