package workflow

import (
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/forms"
)

// Workflow — именованный pipeline: intent, начальная форма ввода
// и последовательность шагов.
//
// Workflow неизменяем после регистрации: реестр нормализует StepList
// и валидирует объявленные ключи один раз, до любого выполнения.
type Workflow struct {
	// Name — имя workflow, по которому его запускают.
	Name string

	// Intent — назначение (CREATE/MODIFY/TERMINATE/VALIDATE/SYSTEM).
	Intent domain.Intent

	// InitialForm — форма ввода, валидируемая при start.
	// Провалидированные поля попадают в начальный state.
	InitialForm *forms.Schema

	// Steps — шаги workflow (нормализуются при регистрации).
	Steps StepList
}

// New создаёт workflow.
func New(name string, intent domain.Intent, initial *forms.Schema, steps StepList) *Workflow {
	return &Workflow{
		Name:        name,
		Intent:      intent,
		InitialForm: initial,
		Steps:       steps,
	}
}

// InitialKeys возвращает ключи, доступные state до первого шага:
// поля начальной формы плюс subject_id для workflow'ов с subject'ом.
func (w *Workflow) InitialKeys() []string {
	var keys []string
	if w.Intent.RequiresSubject() {
		keys = append(keys, KeySubjectID)
	}
	if w.InitialForm != nil {
		keys = append(keys, w.InitialForm.FieldNames()...)
	}
	return keys
}

// KeySubjectID — ключ state, под которым лежит идентификатор subject'а.
const KeySubjectID = "subject_id"
