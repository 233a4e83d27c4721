package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/forms"
)

// Process DTOs

// StartProcessRequest — запрос на запуск workflow.
type StartProcessRequest struct {
	SubjectID string         `json:"subject_id,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}

// ResumeRequest — запрос на продолжение приостановленного процесса.
type ResumeRequest struct {
	Input map[string]any `json:"input"`
}

// RetryRequest — запрос на повтор упавшего шага.
type RetryRequest struct {
	// Force — повторить даже фатальную (не-retryable) ошибку.
	Force bool `json:"force,omitempty"`
}

// ProcessResponse — ответ с процессом.
type ProcessResponse struct {
	ID          uuid.UUID            `json:"id"`
	Workflow    string               `json:"workflow"`
	Intent      domain.Intent        `json:"intent"`
	SubjectID   *uuid.UUID           `json:"subject_id,omitempty"`
	Status      domain.ProcessStatus `json:"status"`
	StepIndex   int                  `json:"step_index"`
	State       domain.State         `json:"state"`
	PendingForm *forms.Schema        `json:"pending_form,omitempty"`
	Failure     *domain.Failure      `json:"failure,omitempty"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// ProcessFromDomain конвертирует domain.Process в ProcessResponse.
func ProcessFromDomain(p domain.Process) ProcessResponse {
	return ProcessResponse{
		ID:          p.ID,
		Workflow:    p.Workflow,
		Intent:      p.Intent,
		SubjectID:   p.SubjectID,
		Status:      p.Status,
		StepIndex:   p.StepIndex,
		State:       p.State,
		PendingForm: p.PendingForm,
		Failure:     p.Failure,
		StartedAt:   p.StartedAt,
		FinishedAt:  p.FinishedAt,
		CreatedAt:   p.CreatedAt,
	}
}

// StepEntryResponse — запись журнала выполнения шага.
type StepEntryResponse struct {
	StepIndex  int                `json:"step_index"`
	StepName   string             `json:"step_name"`
	Outcome    domain.StepOutcome `json:"outcome"`
	Failure    *domain.Failure    `json:"failure,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// StepEntryFromDomain конвертирует domain.StepEntry в StepEntryResponse.
func StepEntryFromDomain(e domain.StepEntry) StepEntryResponse {
	return StepEntryResponse{
		StepIndex:  e.StepIndex,
		StepName:   e.StepName,
		Outcome:    e.Outcome,
		Failure:    e.Failure,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
	}
}

// Subject DTOs

// CreateSubjectRequest — запрос на создание subject'а.
type CreateSubjectRequest struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// SubjectResponse — ответ с subject'ом.
type SubjectResponse struct {
	ID        uuid.UUID           `json:"id"`
	Name      string              `json:"name"`
	State     domain.SubjectState `json:"state"`
	InSync    bool                `json:"insync"`
	Config    map[string]any      `json:"config,omitempty"`
	LastDelta map[string]any      `json:"last_delta,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// SubjectFromDomain конвертирует domain.Subject в SubjectResponse.
func SubjectFromDomain(s domain.Subject) SubjectResponse {
	return SubjectResponse{
		ID:        s.ID,
		Name:      s.Name,
		State:     s.State,
		InSync:    s.InSync,
		Config:    s.Config,
		LastDelta: s.LastDelta,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Workflow DTOs

// WorkflowResponse — описание workflow из каталога.
type WorkflowResponse struct {
	Name        string        `json:"name"`
	Intent      domain.Intent `json:"intent"`
	InitialForm *forms.Schema `json:"initial_form,omitempty"`
	StepCount   int           `json:"step_count"`
}

// Engine DTOs

// EngineResponse — текущее состояние движка.
type EngineResponse struct {
	State domain.EngineState `json:"state"`
}

// Callback DTOs

// ProgressRequest — транзиентный прогресс внешней операции.
type ProgressRequest struct {
	Progress map[string]any `json:"progress"`
}

// CallbackResponse — состояние callback-адреса для наблюдателей.
type CallbackResponse struct {
	Token     uuid.UUID      `json:"token"`
	ProcessID uuid.UUID      `json:"process_id,omitempty"`
	StepIndex int            `json:"step_index"`
	Consumed  bool           `json:"consumed"`
	Progress  map[string]any `json:"progress,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CallbackFromDomain конвертирует domain.Callback в CallbackResponse.
func CallbackFromDomain(cb domain.Callback) CallbackResponse {
	return CallbackResponse{
		Token:     cb.Token,
		ProcessID: cb.ProcessID,
		StepIndex: cb.StepIndex,
		Consumed:  cb.IsConsumed(),
		Progress:  cb.Progress,
		CreatedAt: cb.CreatedAt,
	}
}
