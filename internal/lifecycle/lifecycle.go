// Package lifecycle — контроллер жизненного цикла subject'ов.
//
// Пара generic-шагов unsync/sync реализует вход в PROVISIONING и выход
// из него, снимая эту бухгалтерию с бизнес-шагов: unsync снимает insync
// и снапшотит конфигурацию, sync считает отображаемую дельту изменений
// и переводит subject в целевой статус (ACTIVE или TERMINATED).
//
// ValidateWorkflow навязывает архитектурные правила реестру:
// CREATE/MODIFY/TERMINATE workflow обязан начинать изменение с unsync
// и заканчиваться sync, VALIDATE/SYSTEM не трогают lifecycle вовсе.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/workflow"
)

// Имена lifecycle-шагов. По ним ValidateWorkflow распознаёт
// lifecycle-переходы в StepList.
const (
	StepNameUnsync = "unsync"
	StepNameSync   = "sync"
)

// Ключи state, которыми обмениваются unsync и sync.
const (
	// KeySnapshot — снапшот конфигурации subject'а на момент unsync.
	KeySnapshot = "unsync_snapshot"

	// KeyDelta — отображаемая дельта конфигурации, вычисленная sync.
	KeyDelta = "config_delta"
)

// SubjectStore — доступ к subject'ам для lifecycle-шагов.
// Единственное место, откуда шаги ходят к subject'ам напрямую.
type SubjectStore interface {
	Load(ctx context.Context, id uuid.UUID) (*domain.Subject, error)
	Save(ctx context.Context, subject *domain.Subject) error
}

var (
	// ErrSubjectNotProvisionable — subject нельзя перевести в PROVISIONING
	// из текущего статуса.
	ErrSubjectNotProvisionable = errors.New("subject cannot enter provisioning")

	// ErrSubjectNotProvisioning — sync вызван для subject'а вне PROVISIONING.
	ErrSubjectNotProvisioning = errors.New("subject is not provisioning")
)

// Unsync создаёт шаг входа в PROVISIONING.
//
// Переводит subject из INITIAL или ACTIVE в PROVISIONING, снимает
// insync (блокируя конкурирующие workflow'ы против того же subject'а)
// и кладёт снапшот конфигурации в state для последующего вычисления
// дельты. Повторный вызов для subject'а уже в PROVISIONING — no-op:
// шаг безопасен при re-run после падения executor'а.
func Unsync(store SubjectStore) workflow.Step {
	fn := func(ctx context.Context, in domain.State) workflow.Result {
		subject, err := loadSubject(ctx, store, in)
		if err != nil {
			return workflow.FailRetryable(err)
		}

		switch subject.State {
		case domain.SubjectProvisioning:
			// Уже в PROVISIONING — re-run после падения
		case domain.SubjectInitial, domain.SubjectActive:
			subject.MarkProvisioning()
			if err := store.Save(ctx, subject); err != nil {
				return workflow.FailRetryable(fmt.Errorf("save subject: %w", err))
			}
		default:
			return workflow.Fail(fmt.Errorf("%w: state %s",
				ErrSubjectNotProvisionable, subject.State))
		}

		update := domain.NewState()
		update.Set(KeySnapshot, cloneConfig(subject.Config))
		return workflow.Continue(update)
	}

	return workflow.NewStep(StepNameUnsync, fn).
		WithRequires(workflow.KeySubjectID).
		WithProvides(KeySnapshot)
}

// Sync создаёт шаг выхода из PROVISIONING в target
// (ACTIVE или TERMINATED).
//
// Вычисляет дельту между снапшотом unsync и текущей конфигурацией,
// сохраняет её на subject'е и возвращает insync.
func Sync(store SubjectStore, target domain.SubjectState) workflow.Step {
	if target != domain.SubjectActive && target != domain.SubjectTerminated {
		panic(fmt.Sprintf("lifecycle: invalid sync target %s", target))
	}

	fn := func(ctx context.Context, in domain.State) workflow.Result {
		subject, err := loadSubject(ctx, store, in)
		if err != nil {
			return workflow.FailRetryable(err)
		}

		if subject.State != domain.SubjectProvisioning {
			if subject.State == target && subject.InSync {
				// Re-run после падения: переход уже применён
				update := domain.NewState()
				update.Set(KeyDelta, subject.LastDelta)
				return workflow.Continue(update)
			}
			return workflow.Fail(fmt.Errorf("%w: state %s",
				ErrSubjectNotProvisioning, subject.State))
		}

		var before map[string]any
		if raw, ok := in.Get(KeySnapshot); ok {
			before, _ = raw.(map[string]any)
		}
		delta := ConfigDelta(before, subject.Config)

		if target == domain.SubjectActive {
			subject.MarkActive(delta)
		} else {
			subject.MarkTerminated(delta)
		}
		if err := store.Save(ctx, subject); err != nil {
			return workflow.FailRetryable(fmt.Errorf("save subject: %w", err))
		}

		update := domain.NewState()
		update.Set(KeyDelta, delta)
		return workflow.Continue(update)
	}

	return workflow.NewStep(StepNameSync, fn).
		WithRequires(workflow.KeySubjectID, KeySnapshot).
		WithProvides(KeyDelta)
}

// loadSubject извлекает subject_id из state и загружает subject.
func loadSubject(ctx context.Context, store SubjectStore, in domain.State) (*domain.Subject, error) {
	raw, ok := in.Get(workflow.KeySubjectID)
	if !ok {
		return nil, errors.New("state has no subject_id")
	}
	idStr, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("subject_id has type %T, want string", raw)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse subject_id: %w", err)
	}

	subject, err := store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load subject %s: %w", id, err)
	}
	return subject, nil
}

func cloneConfig(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}
