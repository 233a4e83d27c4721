package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ProcessStore — операции над процессами, нужные API.
// Реализуется repo.ProcessRepo; тесты подставляют in-memory fake.
type ProcessStore interface {
	Create(ctx context.Context, p *domain.Process) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Process, error)
	List(ctx context.Context, filter repo.ProcessFilter) ([]domain.Process, error)
	ListSteps(ctx context.Context, processID uuid.UUID) ([]domain.StepEntry, error)
	ListReady(ctx context.Context, limit int) ([]domain.Process, error)
	StageResume(ctx context.Context, id uuid.UUID, input map[string]any) (*domain.Process, error)
	StageCallback(ctx context.Context, id uuid.UUID, payload map[string]any) (*domain.Process, error)
	RequestRetry(ctx context.Context, id uuid.UUID, force bool) (*domain.Process, error)
	Abort(ctx context.Context, id uuid.UUID) (*domain.Process, error)
}

// SubjectStore — операции над subject'ами.
// Реализуется repo.SubjectRepo.
type SubjectStore interface {
	Create(ctx context.Context, subject *domain.Subject) error
	Load(ctx context.Context, id uuid.UUID) (*domain.Subject, error)
	List(ctx context.Context, limit, offset int) ([]domain.Subject, error)
}

// CallbackStore — операции над callback-токенами.
// Реализуется repo.CallbackRepo.
type CallbackStore interface {
	GetByToken(ctx context.Context, token uuid.UUID) (*domain.Callback, error)
	Consume(ctx context.Context, token uuid.UUID, payload map[string]any) (*domain.Callback, error)
	SetProgress(ctx context.Context, token uuid.UUID, progress map[string]any) error
	InvalidateForProcess(ctx context.Context, processID uuid.UUID) error
}

// EngineStore — доступ к глобальному run-state движка.
// Реализуется repo.EngineRepo.
type EngineStore interface {
	Get(ctx context.Context) (domain.EngineState, error)
	Transition(ctx context.Context, from, to domain.EngineState) error
}
