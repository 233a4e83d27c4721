package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subject — бизнес-сущность (например, подписка), над которой работает
// workflow. Несёт собственный lifecycle-статус, независимый от статусов
// процессов.
//
// Lifecycle-статус изменяется только выделенными lifecycle-шагами
// (unsync/sync) — обычные бизнес-шаги могут менять Config, но не State.
type Subject struct {
	// ID — уникальный идентификатор subject'а.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name"`

	// State — lifecycle-статус.
	State SubjectState `json:"state"`

	// InSync — false, пока какой-то workflow изменяет subject.
	// Новые CREATE/MODIFY/TERMINATE workflow'ы против не-insync subject'а
	// отклоняются до завершения текущего.
	InSync bool `json:"insync"`

	// Config — текущая конфигурация subject'а.
	Config map[string]any `json:"config,omitempty"`

	// LastDelta — отображаемая разница конфигурации после последнего sync.
	LastDelta map[string]any `json:"last_delta,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// MarkProvisioning переводит subject в PROVISIONING и снимает insync.
func (s *Subject) MarkProvisioning() {
	s.State = SubjectProvisioning
	s.InSync = false
	s.UpdatedAt = time.Now()
}

// MarkActive переводит subject в ACTIVE и возвращает insync.
func (s *Subject) MarkActive(delta map[string]any) {
	s.State = SubjectActive
	s.InSync = true
	s.LastDelta = delta
	s.UpdatedAt = time.Now()
}

// MarkTerminated переводит subject в TERMINATED и возвращает insync.
func (s *Subject) MarkTerminated(delta map[string]any) {
	s.State = SubjectTerminated
	s.InSync = true
	s.LastDelta = delta
	s.UpdatedAt = time.Now()
}
