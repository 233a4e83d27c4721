package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/forms"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/workflow"
)

// ListWorkflows возвращает каталог зарегистрированных workflow'ов.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()

	result := make([]WorkflowResponse, 0, len(names))
	for _, name := range names {
		wf, err := h.registry.Get(name)
		if err != nil {
			continue
		}
		result = append(result, WorkflowResponse{
			Name:        wf.Name,
			Intent:      wf.Intent,
			InitialForm: wf.InitialForm,
			StepCount:   wf.Steps.Len(),
		})
	}

	List(w, result, len(result))
}

// StartProcess запускает новый процесс workflow.
// POST /api/v1/workflows/{name}/processes
//
// Отклоняется синхронно: 404 — неизвестный workflow, 409 ENGINE_LOCKED —
// движок на паузе, 409 CONFLICT — subject не insync, 400 INVALID_INPUT —
// стартовая форма не прошла валидацию.
func (h *Handler) StartProcess(w http.ResponseWriter, r *http.Request) {
	wf, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		NotFound(w, "workflow not found")
		return
	}

	// 1. Gate: пауза движка отклоняет запуск сразу
	engState, err := h.engineRepo.Get(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	if !engState.AllowsExecution() {
		EngineLocked(w)
		return
	}

	var req StartProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// 2. Subject: обязателен для всех intent'ов кроме SYSTEM
	var subjectID *uuid.UUID
	if wf.Intent.RequiresSubject() {
		id, err := uuid.Parse(req.SubjectID)
		if err != nil {
			BadRequest(w, "invalid subject_id")
			return
		}

		subject, err := h.subjectRepo.Load(r.Context(), id)
		if HandleRepoError(w, h.logger, err, "subject not found") {
			return
		}

		// Не-insync subject уже изменяется другим workflow
		if wf.Intent.MutatesLifecycle() && !subject.InSync {
			Conflict(w, "subject is being modified by another process")
			return
		}

		subjectID = &id
	}

	// 3. Валидация стартовой формы
	clean := map[string]any{}
	if wf.InitialForm != nil {
		clean, err = wf.InitialForm.Validate(req.Input)
		if err != nil {
			var verr *forms.ValidationError
			if errors.As(err, &verr) {
				InvalidInput(w, verr)
				return
			}
			InternalError(w, h.logger, err)
			return
		}
	}

	// 4. Начальный state: subject_id, затем поля формы в порядке схемы
	initial := domain.NewState()
	if subjectID != nil {
		initial.Set(workflow.KeySubjectID, subjectID.String())
	}
	if wf.InitialForm != nil {
		for _, field := range wf.InitialForm.Fields {
			if v, ok := clean[field.Name]; ok {
				initial.Set(field.Name, v)
			}
		}
	}

	p := &domain.Process{
		ID:        uuid.New(),
		Workflow:  wf.Name,
		Intent:    wf.Intent,
		SubjectID: subjectID,
		Status:    domain.ProcessStatusCreated,
		State:     initial,
		CreatedAt: time.Now(),
	}

	if err := h.processRepo.Create(r.Context(), p); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	telemetry.ProcessesStarted.WithLabelValues(wf.Name).Inc()
	h.publishPending(r, p.ID)

	Created(w, ProcessFromDomain(*p))
}

// GetProcess возвращает процесс по ID.
// GET /api/v1/processes/{id}
func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid process id")
		return
	}

	p, err := h.processRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "process not found") {
		return
	}

	Success(w, ProcessFromDomain(*p))
}

// ListProcesses возвращает список процессов с фильтрацией.
// GET /api/v1/processes?subject_id=...&status=...&workflow=...&limit=...&offset=...
func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	filter := repo.ProcessFilter{}

	if subjectIDStr := r.URL.Query().Get("subject_id"); subjectIDStr != "" {
		subjectID, err := uuid.Parse(subjectIDStr)
		if err != nil {
			BadRequest(w, "invalid subject_id")
			return
		}
		filter.SubjectID = &subjectID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.ProcessStatus(status)
	}

	filter.Workflow = r.URL.Query().Get("workflow")

	filter.Limit = 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = int(mustParseInt(limitStr, 50))
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = int(mustParseInt(offsetStr, 0))
	}

	processes, err := h.processRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ProcessResponse, len(processes))
	for i, p := range processes {
		result[i] = ProcessFromDomain(p)
	}

	List(w, result, len(result))
}

// ListProcessSteps возвращает журнал выполнения процесса.
// GET /api/v1/processes/{id}/steps
func (h *Handler) ListProcessSteps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid process id")
		return
	}

	// Проверяем, что процесс существует
	_, err = h.processRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "process not found") {
		return
	}

	entries, err := h.processRepo.ListSteps(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]StepEntryResponse, len(entries))
	for i, e := range entries {
		result[i] = StepEntryFromDomain(e)
	}

	List(w, result, len(result))
}

// ResumeProcess принимает ввод оператора и будит приостановленный процесс.
// POST /api/v1/processes/{id}/resume
func (h *Handler) ResumeProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid process id")
		return
	}

	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	p, err := h.processRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "process not found") {
		return
	}

	if p.Status != domain.ProcessStatusSuspended || p.PendingForm == nil {
		InvalidState(w, "process is not suspended")
		return
	}

	// Валидация по форме, которую ждёт процесс
	clean, err := p.PendingForm.Validate(req.Input)
	if err != nil {
		var verr *forms.ValidationError
		if errors.As(err, &verr) {
			InvalidInput(w, verr)
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	staged, err := h.processRepo.StageResume(r.Context(), id, clean)
	if HandleRepoError(w, h.logger, err, "process not found") {
		return
	}

	h.publishWake(r, staged.ID, mq.WakeResume)

	Success(w, ProcessFromDomain(*staged))
}

// RetryProcess будит упавший процесс для повтора упавшего шага.
// POST /api/v1/processes/{id}/retry
func (h *Handler) RetryProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid process id")
		return
	}

	var req RetryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	staged, err := h.processRepo.RequestRetry(r.Context(), id, req.Force)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			InvalidState(w, "process is not failed, or failure requires force")
			return
		}
		HandleRepoError(w, h.logger, err, "process not found")
		return
	}

	h.publishWake(r, staged.ID, mq.WakeRetry)

	Success(w, ProcessFromDomain(*staged))
}

// AbortProcess прерывает процесс.
// POST /api/v1/processes/{id}/abort
func (h *Handler) AbortProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid process id")
		return
	}

	p, err := h.processRepo.Abort(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			InvalidState(w, "process is already finished")
			return
		}
		HandleRepoError(w, h.logger, err, "process not found")
		return
	}

	// Выданные токены больше не примут callback
	if err := h.callbackRepo.InvalidateForProcess(r.Context(), id); err != nil {
		h.logger.Warn("failed to invalidate callbacks", "process_id", id, "error", err)
	}

	Success(w, ProcessFromDomain(*p))
}

// publishPending публикует событие о новом процессе.
func (h *Handler) publishPending(r *http.Request, processID uuid.UUID) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishProcessPending(r.Context(), processID); err != nil {
		h.logger.Warn("failed to publish process.pending",
			"process_id", processID, "error", err)
	}
}

// publishWake публикует пробуждение процесса.
func (h *Handler) publishWake(r *http.Request, processID uuid.UUID, reason mq.WakeReason) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishProcessWake(r.Context(), processID, reason); err != nil {
		h.logger.Warn("failed to publish process.wake",
			"process_id", processID, "reason", reason, "error", err)
	}
}

// mustParseInt парсит строку в int с дефолтным значением.
func mustParseInt(s string, defaultVal int64) int64 {
	if n, err := json.Number(s).Int64(); err == nil {
		return n
	}
	return defaultVal
}
