package domain

// ProcessStatus — статус выполнения процесса.
//
// Жизненный цикл:
//
//	CREATED → RUNNING → COMPLETED
//	                  ↘ SUSPENDED ──────────→ CREATED (resume)
//	                  ↘ WAITING_ON_CALLBACK → CREATED (callback)
//	                  ↘ FAILED ─────────────→ CREATED (retry)
//	                  ↘ CREATED (пауза движка, lease истёк)
//	          (или) → ABORTED (из любого нетерминального статуса)
//
// CREATED означает «готов к выполнению»: так выглядит и новый процесс,
// и процесс, разбуженный resume/callback/retry. Claim переводит CREATED
// в RUNNING атомарно, поэтому процесс исполняется максимум одним
// executor'ом одновременно.
type ProcessStatus string

const (
	// ProcessStatusCreated — процесс готов к выполнению (новый или разбуженный).
	ProcessStatusCreated ProcessStatus = "CREATED"

	// ProcessStatusRunning — процесс исполняется executor'ом.
	ProcessStatusRunning ProcessStatus = "RUNNING"

	// ProcessStatusSuspended — процесс ждёт пользовательский ввод.
	ProcessStatusSuspended ProcessStatus = "SUSPENDED"

	// ProcessStatusWaitingOnCallback — процесс ждёт внешний callback.
	ProcessStatusWaitingOnCallback ProcessStatus = "WAITING_ON_CALLBACK"

	// ProcessStatusCompleted — все шаги выполнены успешно.
	ProcessStatusCompleted ProcessStatus = "COMPLETED"

	// ProcessStatusFailed — шаг завершился ошибкой; возможен retry.
	ProcessStatusFailed ProcessStatus = "FAILED"

	// ProcessStatusAborted — процесс прерван оператором.
	ProcessStatusAborted ProcessStatus = "ABORTED"
)

// IsTerminal возвращает true, если статус финальный.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case ProcessStatusCompleted, ProcessStatusAborted:
		return true
	default:
		return false
	}
}

// CanAbort возвращает true, если из статуса допустим переход в ABORTED.
func (s ProcessStatus) CanAbort() bool {
	switch s {
	case ProcessStatusCreated, ProcessStatusRunning,
		ProcessStatusSuspended, ProcessStatusWaitingOnCallback, ProcessStatusFailed:
		return true
	default:
		return false
	}
}

// Intent — назначение workflow по отношению к subject'у.
type Intent string

const (
	// IntentCreate — workflow создаёт конфигурацию subject'а.
	IntentCreate Intent = "CREATE"

	// IntentModify — workflow изменяет существующую конфигурацию.
	IntentModify Intent = "MODIFY"

	// IntentTerminate — workflow выводит subject из эксплуатации.
	IntentTerminate Intent = "TERMINATE"

	// IntentValidate — workflow проверяет subject, не меняя его.
	IntentValidate Intent = "VALIDATE"

	// IntentSystem — служебный workflow без subject'а.
	IntentSystem Intent = "SYSTEM"
)

// RequiresSubject возвращает true, если workflow с таким intent
// обязан ссылаться на subject.
func (i Intent) RequiresSubject() bool {
	return i != IntentSystem
}

// MutatesLifecycle возвращает true, если workflow с таким intent
// обязан управлять lifecycle-статусом subject'а.
func (i Intent) MutatesLifecycle() bool {
	switch i {
	case IntentCreate, IntentModify, IntentTerminate:
		return true
	default:
		return false
	}
}

// SubjectState — lifecycle-статус subject'а.
//
// Отличается от ProcessStatus: subject живёт дольше любого процесса.
//
//	INITIAL → PROVISIONING → ACTIVE
//	ACTIVE  → PROVISIONING → ACTIVE | TERMINATED
type SubjectState string

const (
	// SubjectInitial — subject создан, конфигурация ещё не применялась.
	SubjectInitial SubjectState = "INITIAL"

	// SubjectProvisioning — конфигурация subject'а изменяется workflow'ом.
	SubjectProvisioning SubjectState = "PROVISIONING"

	// SubjectActive — subject в эксплуатации.
	SubjectActive SubjectState = "ACTIVE"

	// SubjectTerminated — subject выведен из эксплуатации.
	SubjectTerminated SubjectState = "TERMINATED"
)

// EngineState — глобальное состояние движка.
//
//	RUNNING → PAUSING → PAUSED → RUNNING
//
// Пауза асинхронная: PAUSING означает «новые процессы не стартуют,
// выполняющиеся дорабатывают текущий шаг», PAUSED — «ни один процесс
// не в статусе RUNNING».
type EngineState string

const (
	EngineRunning EngineState = "RUNNING"
	EnginePausing EngineState = "PAUSING"
	EnginePaused  EngineState = "PAUSED"
)

// AllowsExecution возвращает true, если движок допускает выполнение шагов.
func (s EngineState) AllowsExecution() bool {
	return s == EngineRunning
}
