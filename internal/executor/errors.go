package executor

import "errors"

// Ожидаемые ошибки выполнения. Обработчики сообщений не считают их
// сбоями: сообщение подтверждается без повторной доставки.
var (
	// ErrEnginePaused — движок не в RUNNING, новые шаги не выполняются.
	ErrEnginePaused = errors.New("engine is paused")

	// ErrProcessNotReady — процесс не в захватываемом статусе
	// (уже исполняется, приостановлен или завершён).
	ErrProcessNotReady = errors.New("process is not ready for execution")

	// ErrProcessNotFound — процесс не найден.
	ErrProcessNotFound = errors.New("process not found")
)
