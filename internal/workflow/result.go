package workflow

import (
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/forms"
)

// ResultKind — вариант результата шага.
type ResultKind int

const (
	// KindContinue — шаг выполнен, update сливается в state, выполнение
	// продолжается со следующего шага.
	KindContinue ResultKind = iota

	// KindSuspend — шаг запросил дополнительный ввод; процесс
	// приостанавливается до resume.
	KindSuspend

	// KindFail — шаг завершился ошибкой; процесс переходит в FAILED.
	KindFail
)

// Result — тегированный результат вызова шага.
//
// Управление потоком (продолжить / приостановить / упасть) выражено
// явным типом, а не исключениями: executor разбирает Kind и действует
// по варианту.
type Result struct {
	kind    ResultKind
	update  domain.State
	form    *forms.Schema
	failure *domain.Failure
}

// Continue возвращает результат «продолжить» с частичным обновлением state.
func Continue(update domain.State) Result {
	return Result{kind: KindContinue, update: update}
}

// Suspend возвращает результат «приостановить» со схемой требуемого ввода.
func Suspend(form *forms.Schema) Result {
	return Result{kind: KindSuspend, form: form}
}

// Fail возвращает фатальную ошибку: процесс не возобновляется
// без ручного вмешательства.
func Fail(err error) Result {
	return Result{kind: KindFail, failure: &domain.Failure{
		Message:   err.Error(),
		Retryable: false,
	}}
}

// FailRetryable возвращает повторяемую ошибку: оператор может
// запустить retry упавшего шага.
func FailRetryable(err error) Result {
	return Result{kind: KindFail, failure: &domain.Failure{
		Message:   err.Error(),
		Retryable: true,
	}}
}

// FailWith возвращает ошибку с готовыми деталями (например, паника
// шага со stack trace).
func FailWith(failure *domain.Failure) Result {
	return Result{kind: KindFail, failure: failure}
}

// Kind возвращает вариант результата.
func (r Result) Kind() ResultKind { return r.kind }

// Update возвращает частичное обновление state (для KindContinue).
func (r Result) Update() domain.State { return r.update }

// Form возвращает схему требуемого ввода (для KindSuspend).
func (r Result) Form() *forms.Schema { return r.form }

// Failure возвращает детали ошибки (для KindFail).
func (r Result) Failure() *domain.Failure { return r.failure }
