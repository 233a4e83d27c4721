package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// EngineRepo — хранилище run-state движка.
//
// Таблица engine_state всегда содержит ровно одну строку (id = true);
// Ensure создаёт её при первом старте. Переходы выполняются через CAS,
// конкурирующие pause/resume не затирают друг друга.
type EngineRepo struct {
	pool *pgxpool.Pool
}

// NewEngineRepo создаёт новый EngineRepo.
func NewEngineRepo(pool *pgxpool.Pool) *EngineRepo {
	return &EngineRepo{pool: pool}
}

// Ensure создаёт единственную строку run-state, если её ещё нет.
func (r *EngineRepo) Ensure(ctx context.Context) error {
	query := `
		INSERT INTO engine_state (id, state, updated_at)
		VALUES (true, $1, now())
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, domain.EngineRunning)
	if err != nil {
		return fmt.Errorf("ensure engine state: %w", err)
	}
	return nil
}

// Get возвращает текущий run-state движка.
func (r *EngineRepo) Get(ctx context.Context) (domain.EngineState, error) {
	var state domain.EngineState
	err := r.pool.QueryRow(ctx, `SELECT state FROM engine_state WHERE id = true`).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get engine state: %w", err)
	}
	return state, nil
}

// Transition выполняет CAS-переход from → to.
// ErrInvalidState — текущий state уже не from.
func (r *EngineRepo) Transition(ctx context.Context, from, to domain.EngineState) error {
	query := `
		UPDATE engine_state
		SET state = $2, updated_at = now()
		WHERE id = true AND state = $1
	`
	result, err := r.pool.Exec(ctx, query, from, to)
	if err != nil {
		return fmt.Errorf("transition engine state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}
