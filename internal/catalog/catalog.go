package catalog

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/lifecycle"
	"github.com/shaiso/Conveyor/internal/workflow"
)

// Deps — зависимости шагов каталога.
type Deps struct {
	// Subjects — хранилище subject'ов для lifecycle- и config-шагов.
	Subjects lifecycle.SubjectStore

	// Provisioner — клиент внешней provisioning-системы.
	Provisioner Provisioner
}

// New собирает реестр встроенных workflow'ов.
//
// Реестр навешивает lifecycle-валидацию: незавершённый CREATE/MODIFY/
// TERMINATE workflow (без финального sync) не пройдёт регистрацию.
func New(deps Deps) (*workflow.Registry, error) {
	reg := workflow.NewRegistry(workflow.WithValidator(lifecycle.ValidateWorkflow))

	workflows := []*workflow.Workflow{
		Create(deps.Subjects, deps.Provisioner),
		Modify(deps.Subjects, deps.Provisioner),
		Terminate(deps.Subjects, deps.Provisioner),
		Validate(deps.Subjects),
	}

	for _, wf := range workflows {
		if err := reg.Register(wf); err != nil {
			return nil, fmt.Errorf("register %s: %w", wf.Name, err)
		}
	}

	return reg, nil
}
