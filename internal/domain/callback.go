package domain

import (
	"time"

	"github.com/google/uuid"
)

// Callback — одноразовый адрес, по которому внешняя система сообщает
// о завершении долгой операции, запущенной callback-шагом.
//
// Token выдаётся action-функцией шага и действует до первой доставки:
// повторная доставка по потреблённому token'у отклоняется, поэтому
// дубликаты callback'ов не двигают процесс дважды.
type Callback struct {
	// Token — одноразовый идентификатор callback-адреса.
	Token uuid.UUID `json:"token"`

	// ProcessID — процесс, ожидающий этот callback.
	ProcessID uuid.UUID `json:"process_id"`

	// StepIndex — индекс callback-шага, выдавшего token.
	StepIndex int `json:"step_index"`

	// ConsumedAt — время доставки финального callback'а.
	// Nil, пока token активен.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`

	// Payload — тело доставленного callback'а.
	Payload map[string]any `json:"payload,omitempty"`

	// Progress — транзиентное «текущее состояние» внешней операции.
	// Обновляется progress-уведомлениями, видно наблюдателям, но никогда
	// не сливается в State процесса и очищается при продолжении.
	Progress map[string]any `json:"progress,omitempty"`

	// CreatedAt — время выдачи token'а.
	CreatedAt time.Time `json:"created_at"`
}

// IsConsumed возвращает true, если token уже потреблён.
func (c *Callback) IsConsumed() bool {
	return c.ConsumedAt != nil
}
