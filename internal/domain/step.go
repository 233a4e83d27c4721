package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepOutcome — исход выполнения одного шага.
type StepOutcome string

const (
	// StepOutcomeCompleted — шаг выполнен, state слит, индекс продвинут.
	StepOutcomeCompleted StepOutcome = "COMPLETED"

	// StepOutcomeSuspended — шаг запросил пользовательский ввод.
	StepOutcomeSuspended StepOutcome = "SUSPENDED"

	// StepOutcomeWaiting — шаг запустил внешнюю операцию и ждёт callback.
	StepOutcomeWaiting StepOutcome = "WAITING"

	// StepOutcomeFailed — шаг завершился ошибкой.
	StepOutcomeFailed StepOutcome = "FAILED"
)

// StepEntry — запись журнала выполнения об одном вызове шага.
//
// Записи добавляются в той же транзакции, что и checkpoint процесса,
// и образуют audit trail: кто, когда и с каким исходом выполнялся.
// Повторный вызов шага (retry, re-run после падения executor'а)
// добавляет новую запись с тем же индексом.
type StepEntry struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// ProcessID — процесс, которому принадлежит запись.
	ProcessID uuid.UUID `json:"process_id"`

	// StepIndex — позиция шага в StepList.
	StepIndex int `json:"step_index"`

	// StepName — имя шага (для логов и UI).
	StepName string `json:"step_name"`

	// Outcome — исход вызова.
	Outcome StepOutcome `json:"outcome"`

	// Failure — детали ошибки при Outcome == FAILED.
	Failure *Failure `json:"failure,omitempty"`

	// StartedAt — время начала вызова.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время окончания вызова.
	FinishedAt time.Time `json:"finished_at"`
}
