package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// Validator — дополнительная проверка workflow при регистрации.
// Используется lifecycle-контроллером для архитектурных правил.
type Validator func(*Workflow) error

// Registry — явный реестр workflow'ов.
//
// Реестр конструируется на старте сервиса и передаётся по ссылке
// в executor и API — глобального состояния нет. Регистрация
// нормализует StepList и выполняет все проверки; после успешной
// регистрации workflow считается корректным и неизменяемым.
type Registry struct {
	mu         sync.RWMutex
	workflows  map[string]*Workflow
	validators []Validator
}

// Option — опция конструктора реестра.
type Option func(*Registry)

// WithValidator добавляет проверку, выполняемую при каждой регистрации.
func WithValidator(v Validator) Option {
	return func(r *Registry) {
		r.validators = append(r.validators, v)
	}
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{workflows: make(map[string]*Workflow)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register нормализует, валидирует и добавляет workflow.
//
// Проверки:
//   - имя уникально;
//   - Requires каждого шага покрыт начальными ключами и Provides
//     предшествующих шагов (ошибка определения ловится здесь,
//     а не в момент вызова шага);
//   - все validator'ы реестра.
func (r *Registry) Register(wf *Workflow) error {
	if wf.Name == "" {
		return ErrUnnamedWorkflow
	}

	wf.Steps = wf.Steps.Normalize()

	if err := checkRequiredKeys(wf); err != nil {
		return err
	}

	for _, validate := range r.validators {
		if err := validate(wf); err != nil {
			return fmt.Errorf("workflow %q: %w", wf.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflows[wf.Name]; exists {
		return fmt.Errorf("%w: %s", ErrWorkflowExists, wf.Name)
	}
	r.workflows[wf.Name] = wf
	return nil
}

// MustRegister регистрирует workflow и паникует при ошибке.
// Используется при сборке каталога на старте: некорректное определение
// workflow — ошибка программиста, сервис не должен подняться.
func (r *Registry) MustRegister(wf *Workflow) {
	if err := r.Register(wf); err != nil {
		panic(err)
	}
}

// Get возвращает workflow по имени.
func (r *Registry) Get(name string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	return wf, nil
}

// Names возвращает отсортированные имена зарегистрированных workflow'ов.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkRequiredKeys проверяет, что Requires каждого шага покрыт
// ключами, доступными к моменту его выполнения.
func checkRequiredKeys(wf *Workflow) error {
	provided := make(map[string]bool)
	for _, key := range wf.InitialKeys() {
		provided[key] = true
	}

	for i := 0; i < wf.Steps.Len(); i++ {
		step := wf.Steps.At(i)

		for _, key := range step.Requires {
			if !provided[key] {
				return fmt.Errorf("%w: workflow %q step %q requires %q",
					ErrUnboundRequirement, wf.Name, step.Name, key)
			}
		}

		for _, key := range step.Provides {
			provided[key] = true
		}
	}
	return nil
}
