package lifecycle

import (
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/workflow"
)

// Ошибки валидации workflow'ов.
var (
	// ErrIncompleteWorkflow — CREATE/MODIFY/TERMINATE workflow не доводит
	// subject до ACTIVE или TERMINATED.
	ErrIncompleteWorkflow = errors.New("workflow does not complete subject lifecycle")

	// ErrUnexpectedLifecycleStep — VALIDATE/SYSTEM workflow содержит
	// lifecycle-переходы, которых у него быть не должно.
	ErrUnexpectedLifecycleStep = errors.New("workflow must not contain lifecycle steps")

	// ErrMisplacedLifecycleStep — unsync/sync стоят не на своих местах.
	ErrMisplacedLifecycleStep = errors.New("misplaced lifecycle step")
)

// ValidateWorkflow — validator для workflow.Registry.
//
// Правила (проверяются статически при регистрации, а не молча во время
// выполнения):
//   - CREATE/MODIFY/TERMINATE: ровно один unsync и один sync; unsync —
//     до любого бизнес-шага, sync — последний шаг перед done. Workflow
//     без sync архитектурно незавершён: он оставил бы subject
//     в PROVISIONING навсегда.
//   - VALIDATE/SYSTEM: ни unsync, ни sync — такие workflow'ы не несут
//     ответственности за lifecycle.
//   - Input-шаги только собирают данные; они не могут быть lifecycle-
//     переходами по построению (см. workflow.InputStep), здесь
//     проверяется лишь что никто не назвал input-шаг как lifecycle-шаг.
func ValidateWorkflow(wf *workflow.Workflow) error {
	unsyncAt, syncAt := -1, -1
	firstBusinessAt := -1

	for i := 0; i < wf.Steps.Len(); i++ {
		step := wf.Steps.At(i)
		if step.IsSentinel() {
			continue
		}

		switch step.Name {
		case StepNameUnsync:
			if step.IsInput() {
				return fmt.Errorf("%w: input step named %q", ErrMisplacedLifecycleStep, step.Name)
			}
			if unsyncAt >= 0 {
				return fmt.Errorf("%w: duplicate unsync", ErrMisplacedLifecycleStep)
			}
			unsyncAt = i

		case StepNameSync:
			if step.IsInput() {
				return fmt.Errorf("%w: input step named %q", ErrMisplacedLifecycleStep, step.Name)
			}
			if syncAt >= 0 {
				return fmt.Errorf("%w: duplicate sync", ErrMisplacedLifecycleStep)
			}
			syncAt = i

		default:
			// Input-шаги собирают данные и не считаются бизнес-шагами:
			// форма до unsync — нормальная практика.
			if !step.IsInput() && firstBusinessAt < 0 {
				firstBusinessAt = i
			}
		}
	}

	if !wf.Intent.MutatesLifecycle() {
		if unsyncAt >= 0 || syncAt >= 0 {
			return fmt.Errorf("%w: intent %s", ErrUnexpectedLifecycleStep, wf.Intent)
		}
		return nil
	}

	if unsyncAt < 0 || syncAt < 0 {
		return fmt.Errorf("%w: intent %s requires unsync and sync", ErrIncompleteWorkflow, wf.Intent)
	}
	if firstBusinessAt >= 0 && firstBusinessAt < unsyncAt {
		return fmt.Errorf("%w: business step before unsync", ErrMisplacedLifecycleStep)
	}
	// sync — последний содержательный шаг перед done
	if syncAt != wf.Steps.Len()-2 {
		return fmt.Errorf("%w: sync must be the final step", ErrMisplacedLifecycleStep)
	}
	return nil
}
