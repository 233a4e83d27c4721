package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
)

// ProcessStore — операции над процессами, нужные executor'у.
// Реализуется repo.ProcessRepo; тесты подставляют in-memory fake.
type ProcessStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Process, error)
	Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*domain.Process, error)
	Checkpoint(ctx context.Context, p *domain.Process, entry *domain.StepEntry) error
	ListReady(ctx context.Context, limit int) ([]domain.Process, error)
	CountRunning(ctx context.Context) (int, error)
}

// CallbackStore — операции над callback-токенами.
// Реализуется repo.CallbackRepo.
type CallbackStore interface {
	Create(ctx context.Context, cb *domain.Callback) error
}

// EngineStore — доступ к глобальному run-state движка.
// Реализуется repo.EngineRepo.
type EngineStore interface {
	Get(ctx context.Context) (domain.EngineState, error)
	Transition(ctx context.Context, from, to domain.EngineState) error
}

// Notifier — сток уведомлений о смене статусов процессов.
// Реализуется mq.Publisher; nil-Notifier допустим (уведомления
// отключены).
type Notifier interface {
	PublishProcessStatus(ctx context.Context, payload mq.ProcessStatusPayload)
}
