package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// CallbackRepo — репозиторий callback-токенов.
//
// Токен одноразовый: Consume выполняется условным UPDATE по
// consumed_at IS NULL, повторная доставка того же токена получает
// ErrTokenConsumed без гонок.
type CallbackRepo struct {
	pool *pgxpool.Pool
}

// NewCallbackRepo создаёт новый CallbackRepo.
func NewCallbackRepo(pool *pgxpool.Pool) *CallbackRepo {
	return &CallbackRepo{pool: pool}
}

// Create регистрирует выданный токен.
func (r *CallbackRepo) Create(ctx context.Context, cb *domain.Callback) error {
	query := `
		INSERT INTO callbacks (token, process_id, step_index, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, cb.Token, cb.ProcessID, cb.StepIndex, cb.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert callback: %w", err)
	}
	return nil
}

// GetByToken возвращает callback по токену.
func (r *CallbackRepo) GetByToken(ctx context.Context, token uuid.UUID) (*domain.Callback, error) {
	query := `
		SELECT token, process_id, step_index, consumed_at, payload, progress, created_at
		FROM callbacks
		WHERE token = $1
	`
	return scanCallback(r.pool.QueryRow(ctx, query, token))
}

// Consume атомарно потребляет токен и записывает payload доставки.
// Транзиентный прогресс при этом очищается: процесс двигается дальше,
// и «текущее состояние» внешней операции больше не актуально.
//
// ErrTokenConsumed — токен уже был потреблён, ErrInvalidState — токен
// инвалидирован (abort процесса снимает process_id), ErrNotFound —
// токена нет.
func (r *CallbackRepo) Consume(ctx context.Context, token uuid.UUID, payload map[string]any) (*domain.Callback, error) {
	payloadJSON, err := marshalNullableMap(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		UPDATE callbacks
		SET consumed_at = now(), payload = $2, progress = NULL
		WHERE token = $1 AND consumed_at IS NULL AND process_id IS NOT NULL
		RETURNING token, process_id, step_index, consumed_at, payload, progress, created_at
	`
	cb, err := scanCallback(r.pool.QueryRow(ctx, query, token, payloadJSON))
	if errors.Is(err, ErrNotFound) {
		// Токен есть, но условие не прошло? Различаем причины.
		existing, getErr := r.GetByToken(ctx, token)
		if getErr != nil {
			return nil, getErr
		}
		if existing.IsConsumed() {
			return nil, ErrTokenConsumed
		}
		return nil, ErrInvalidState
	}
	return cb, err
}

// SetProgress обновляет транзиентный прогресс по активному токену.
//
// Прогресс не попадает в state процесса и не переживает доставку
// callback'а. Для потреблённого или инвалидированного токена — no-op.
func (r *CallbackRepo) SetProgress(ctx context.Context, token uuid.UUID, progress map[string]any) error {
	progressJSON, err := marshalNullableMap(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	query := `
		UPDATE callbacks
		SET progress = $2
		WHERE token = $1 AND consumed_at IS NULL AND process_id IS NOT NULL
	`
	_, err = r.pool.Exec(ctx, query, token, progressJSON)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// InvalidateForProcess инвалидирует все непотреблённые токены процесса.
// Вызывается при abort: поздняя доставка получит ErrInvalidState.
func (r *CallbackRepo) InvalidateForProcess(ctx context.Context, processID uuid.UUID) error {
	query := `
		UPDATE callbacks
		SET process_id = NULL
		WHERE process_id = $1 AND consumed_at IS NULL
	`
	_, err := r.pool.Exec(ctx, query, processID)
	if err != nil {
		return fmt.Errorf("invalidate callbacks: %w", err)
	}
	return nil
}

// scanCallback сканирует одну строку в Callback.
func scanCallback(row scanner) (*domain.Callback, error) {
	var cb domain.Callback
	var processID *uuid.UUID
	var payloadJSON, progressJSON []byte

	err := row.Scan(
		&cb.Token,
		&processID,
		&cb.StepIndex,
		&cb.ConsumedAt,
		&payloadJSON,
		&progressJSON,
		&cb.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan callback: %w", err)
	}

	if processID != nil {
		cb.ProcessID = *processID
	}
	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &cb.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if progressJSON != nil {
		if err := json.Unmarshal(progressJSON, &cb.Progress); err != nil {
			return nil, fmt.Errorf("unmarshal progress: %w", err)
		}
	}

	return &cb, nil
}
