package workflow

import "errors"

// Ошибки регистрации workflow'ов.
var (
	// ErrUnnamedWorkflow — workflow без имени.
	ErrUnnamedWorkflow = errors.New("workflow has no name")

	// ErrWorkflowExists — workflow с таким именем уже зарегистрирован.
	ErrWorkflowExists = errors.New("workflow already registered")

	// ErrWorkflowNotFound — workflow не найден в реестре.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrUnboundRequirement — шаг требует ключ, который к моменту его
	// выполнения никто не предоставляет.
	ErrUnboundRequirement = errors.New("unbound step requirement")
)
