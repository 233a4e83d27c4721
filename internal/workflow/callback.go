package workflow

import (
	"context"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ActionFunc — первая половина callback-шага: запускает внешнюю долгую
// операцию, передав ей одноразовый callback-адрес, и сразу возвращает
// Continue с обновлением state (например, внешним id задачи).
//
// Token одноразовый: после доставки финального callback'а он
// инвалидируется, и повторная доставка отклоняется.
type ActionFunc func(ctx context.Context, in domain.State, token string) Result

// ValidateFunc — вторая половина callback-шага: вызывается когда
// callback доставлен. Получает payload внешней системы и решает,
// успешна ли операция. Fail здесь фатален.
type ValidateFunc func(ctx context.Context, in domain.State, payload map[string]any) Result

// CallbackSpec — спецификация callback-шага.
type CallbackSpec struct {
	Action   ActionFunc
	Validate ValidateFunc
}

// CallbackStep создаёт шаг-мост к внешней асинхронной операции.
//
// Между action и validate процесс находится в WAITING_ON_CALLBACK.
// После успешного validate обычно ставят confirmation input-шаг,
// чтобы оператор просмотрел результат до продолжения pipeline.
func CallbackStep(name string, action ActionFunc, validate ValidateFunc) Step {
	return Step{
		Name: name,
		Bridge: &CallbackSpec{
			Action:   action,
			Validate: validate,
		},
	}
}
