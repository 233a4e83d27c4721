package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/forms"
)

// Process — персистентная запись об одном выполнении workflow.
//
// Process создаётся когда:
// - Оператор запускает workflow через API/CLI
// - Внешний планировщик вызывает start
//
// Запись изменяется только executor'ом (по одному шагу за раз, под
// checkpoint-контрактом) и никогда не удаляется: завершённые и прерванные
// процессы остаются как audit trail.
type Process struct {
	// ID — уникальный идентификатор процесса.
	ID uuid.UUID `json:"id"`

	// Workflow — имя workflow из реестра.
	Workflow string `json:"workflow"`

	// Intent — назначение workflow (CREATE/MODIFY/TERMINATE/VALIDATE/SYSTEM).
	Intent Intent `json:"intent"`

	// SubjectID — ссылка на subject. Nil для SYSTEM-процессов.
	SubjectID *uuid.UUID `json:"subject_id,omitempty"`

	// Status — текущий статус выполнения.
	Status ProcessStatus `json:"status"`

	// StepIndex — индекс следующего (или прерванного) шага в StepList.
	StepIndex int `json:"step_index"`

	// State — накопленный state после последнего checkpoint'а.
	State State `json:"state"`

	// PendingForm — схема ввода, которого ждёт процесс в SUSPENDED.
	PendingForm *forms.Schema `json:"pending_form,omitempty"`

	// StagedInput — провалидированный ввод resume, ещё не слитый в State.
	// Заполняется API при resume, потребляется executor'ом при claim.
	StagedInput map[string]any `json:"staged_input,omitempty"`

	// StagedCallback — payload доставленного callback'а, ещё не обработанный
	// validate-шагом.
	StagedCallback map[string]any `json:"staged_callback,omitempty"`

	// RetryRequested — запрошен явный retry упавшего шага.
	RetryRequested bool `json:"retry_requested,omitempty"`

	// Failure — детали ошибки, если процесс в FAILED.
	Failure *Failure `json:"failure,omitempty"`

	// ClaimedFrom — статус процесса на момент claim (служебное поле executor'а).
	ClaimedFrom ProcessStatus `json:"-"`

	// LeaseExpiresAt — срок аренды исполнения. Истёкшая аренда у RUNNING
	// процесса означает упавший executor: процесс можно переclaim'ить.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// StartedAt — время первого перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения терминального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания процесса.
	CreatedAt time.Time `json:"created_at"`
}

// Failure — зафиксированная ошибка шага.
type Failure struct {
	// Message — сообщение об ошибке.
	Message string `json:"message"`

	// Trace — технические детали (stack trace при панике шага).
	Trace string `json:"trace,omitempty"`

	// Retryable — классификация: можно ли повторить шаг без ручного
	// вмешательства.
	Retryable bool `json:"retryable"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если процесс ещё не завершён.
func (p *Process) Duration() time.Duration {
	if p.StartedAt == nil || p.FinishedAt == nil {
		return 0
	}
	return p.FinishedAt.Sub(*p.StartedAt)
}

// IsFinished возвращает true, если процесс в терминальном статусе.
func (p *Process) IsFinished() bool {
	return p.Status.IsTerminal()
}

// MarkRunning переводит процесс в RUNNING с арендой до leaseExpires.
func (p *Process) MarkRunning(leaseExpires time.Time) {
	p.ClaimedFrom = p.Status
	p.Status = ProcessStatusRunning
	p.LeaseExpiresAt = &leaseExpires
	if p.StartedAt == nil {
		now := time.Now()
		p.StartedAt = &now
	}
}

// MarkSuspended переводит процесс в SUSPENDED с ожидаемой формой ввода.
func (p *Process) MarkSuspended(form *forms.Schema) {
	p.Status = ProcessStatusSuspended
	p.PendingForm = form
	p.LeaseExpiresAt = nil
}

// MarkWaitingOnCallback переводит процесс в WAITING_ON_CALLBACK.
func (p *Process) MarkWaitingOnCallback() {
	p.Status = ProcessStatusWaitingOnCallback
	p.LeaseExpiresAt = nil
}

// MarkReady возвращает процесс в CREATED («готов к выполнению»).
// Используется при resume/callback/retry и при паузе движка.
func (p *Process) MarkReady() {
	p.Status = ProcessStatusCreated
	p.LeaseExpiresAt = nil
}

// MarkCompleted переводит процесс в COMPLETED.
func (p *Process) MarkCompleted() {
	now := time.Now()
	p.Status = ProcessStatusCompleted
	p.FinishedAt = &now
	p.PendingForm = nil
	p.LeaseExpiresAt = nil
}

// MarkFailed переводит процесс в FAILED с деталями ошибки.
func (p *Process) MarkFailed(failure *Failure) {
	p.Status = ProcessStatusFailed
	p.Failure = failure
	p.RetryRequested = false
	p.LeaseExpiresAt = nil
}

// MarkAborted переводит процесс в ABORTED.
func (p *Process) MarkAborted() {
	now := time.Now()
	p.Status = ProcessStatusAborted
	p.FinishedAt = &now
	p.PendingForm = nil
	p.StagedInput = nil
	p.StagedCallback = nil
	p.LeaseExpiresAt = nil
}

// ClearStaged очищает потреблённый staged-ввод перед продолжением.
func (p *Process) ClearStaged() {
	p.StagedInput = nil
	p.StagedCallback = nil
	p.PendingForm = nil
	p.RetryRequested = false
	p.Failure = nil
}
