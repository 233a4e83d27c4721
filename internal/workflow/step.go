package workflow

import (
	"context"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/forms"
)

// Sentinel-имена шагов.
const (
	StepNameBegin = "begin"
	StepNameDone  = "done"
)

// StepFunc — функция шага.
//
// Шаг получает подмножество state, соответствующее его Requires,
// и возвращает Result. Шаг может ходить во внешние системы; такие
// вызовы должны быть идемпотентными, потому что resume после падения
// может вызвать шаг повторно.
type StepFunc func(ctx context.Context, in domain.State) Result

// Step — именованная неизменяемая единица работы.
//
// Обычный шаг несёт функцию. Input-шаг несёт форму и функции не имеет:
// executor приостанавливает процесс и сливает провалидированный ввод
// сам. Callback-шаг несёт пару action/validate (см. callback.go).
type Step struct {
	// Name — имя шага для журнала и UI.
	Name string

	// Requires — ключи state, которые шаг читает. Отсутствие ключа —
	// ошибка регистрации workflow, а не времени выполнения.
	Requires []string

	// Provides — ключи, которые шаг добавляет в state.
	// Используются реестром для статической проверки Requires
	// последующих шагов.
	Provides []string

	// Form — схема ввода input-шага. Nil для остальных шагов.
	Form *forms.Schema

	// Bridge — спецификация callback-шага. Nil для остальных шагов.
	Bridge *CallbackSpec

	fn       StepFunc
	sentinel bool
}

// NewStep создаёт обычный шаг с функцией fn.
func NewStep(name string, fn StepFunc) Step {
	return Step{Name: name, fn: fn}
}

// WithRequires возвращает копию шага с объявленными входными ключами.
func (s Step) WithRequires(keys ...string) Step {
	s.Requires = keys
	return s
}

// WithProvides возвращает копию шага с объявленными выходными ключами.
func (s Step) WithProvides(keys ...string) Step {
	s.Provides = keys
	return s
}

// InputStep создаёт input-шаг: единственный вид шага, которому разрешено
// приостанавливать процесс. Input-шаги только собирают данные и не имеют
// побочных эффектов; Provides — имена полей формы.
func InputStep(name string, form *forms.Schema) Step {
	return Step{
		Name:     name,
		Form:     form,
		Provides: form.FieldNames(),
	}
}

// IsInput возвращает true для input-шага.
func (s Step) IsInput() bool { return s.Form != nil && s.Bridge == nil }

// IsCallback возвращает true для callback-шага.
func (s Step) IsCallback() bool { return s.Bridge != nil }

// IsSentinel возвращает true для begin/done.
func (s Step) IsSentinel() bool { return s.sentinel }

// Invoke вызывает функцию шага.
// Для input-шага возвращает Suspend с его формой: повторный вызов
// приостановленного шага без staged-ввода снова приостанавливает процесс.
func (s Step) Invoke(ctx context.Context, in domain.State) Result {
	if s.IsInput() {
		return Suspend(s.Form)
	}
	if s.fn == nil {
		return Continue(domain.NewState())
	}
	return s.fn(ctx, in)
}

// Begin возвращает sentinel-шаг начала pipeline (identity-преобразование).
func Begin() Step {
	return Step{Name: StepNameBegin, sentinel: true}
}

// Done возвращает sentinel-шаг конца pipeline (identity-преобразование).
func Done() Step {
	return Step{Name: StepNameDone, sentinel: true}
}
