package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/forms"
)

// ProcessRepo — репозиторий процессов: checkpoint store движка.
//
// Все изменения статуса выполняются условными UPDATE'ами (CAS):
// claim, checkpoint, abort и staging конкурируют только через БД,
// поэтому процесс исполняется максимум одним executor'ом.
type ProcessRepo struct {
	pool *pgxpool.Pool
}

// NewProcessRepo создаёт новый ProcessRepo.
func NewProcessRepo(pool *pgxpool.Pool) *ProcessRepo {
	return &ProcessRepo{pool: pool}
}

const processColumns = `
	id, workflow, intent, subject_id, status, claimed_from, step_index, state,
	pending_form, staged_input, staged_callback, retry_requested, failure,
	lease_expires_at, started_at, finished_at, created_at
`

// Create создаёт новый процесс.
func (r *ProcessRepo) Create(ctx context.Context, p *domain.Process) error {
	stateJSON, err := json.Marshal(p.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	query := `
		INSERT INTO processes (id, workflow, intent, subject_id, status, claimed_from,
		                       step_index, state, retry_requested, created_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, false, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.Workflow,
		p.Intent,
		p.SubjectID,
		p.Status,
		p.StepIndex,
		stateJSON,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	return nil
}

// GetByID возвращает процесс по ID.
func (r *ProcessRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Process, error) {
	query := `SELECT ` + processColumns + ` FROM processes WHERE id = $1`
	return scanProcess(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список процессов с фильтрацией.
func (r *ProcessRepo) List(ctx context.Context, filter ProcessFilter) ([]domain.Process, error) {
	query := `
		SELECT ` + processColumns + `
		FROM processes
		WHERE ($1::uuid IS NULL OR subject_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR workflow = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.SubjectID),
		nullString(string(filter.Status)),
		nullString(filter.Workflow),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	return collectProcesses(rows)
}

// Claim атомарно захватывает процесс для исполнения.
//
// Захватывается процесс в статусе CREATED либо RUNNING с истёкшей
// арендой (упавший executor). Предыдущий статус сохраняется
// в claimed_from: по нему executor решает, как входить в шаг.
// Возвращает ErrInvalidState, если процесс нельзя захватить.
func (r *ProcessRepo) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*domain.Process, error) {
	leaseExpires := time.Now().Add(lease)

	query := `
		UPDATE processes
		SET claimed_from = status,
		    status = 'RUNNING',
		    lease_expires_at = $2,
		    started_at = COALESCE(started_at, now())
		WHERE id = $1
		  AND (status = 'CREATED' OR (status = 'RUNNING' AND lease_expires_at < now()))
		RETURNING ` + processColumns

	p, err := scanProcess(r.pool.QueryRow(ctx, query, id, leaseExpires))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Различаем «нет записи» и «не в захватываемом статусе»
			if _, getErr := r.GetByID(ctx, id); getErr == nil {
				return nil, ErrInvalidState
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// Checkpoint атомарно фиксирует прогресс процесса после шага.
//
// Обновление условно по status='RUNNING': если процесс был прерван
// (abort) во время выполнения шага, checkpoint не применяется
// и возвращается ErrInvalidState. Запись журнала шага вставляется
// в той же транзакции — checkpoint и audit trail согласованы.
func (r *ProcessRepo) Checkpoint(ctx context.Context, p *domain.Process, entry *domain.StepEntry) error {
	stateJSON, err := json.Marshal(p.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	formJSON, err := marshalNullable(p.PendingForm)
	if err != nil {
		return fmt.Errorf("marshal pending form: %w", err)
	}
	failureJSON, err := marshalNullable(p.Failure)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	stagedInputJSON, err := marshalNullableMap(p.StagedInput)
	if err != nil {
		return fmt.Errorf("marshal staged input: %w", err)
	}
	stagedCallbackJSON, err := marshalNullableMap(p.StagedCallback)
	if err != nil {
		return fmt.Errorf("marshal staged callback: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE processes
		SET status = $2, step_index = $3, state = $4, pending_form = $5,
		    staged_input = $6, staged_callback = $7, retry_requested = $8,
		    failure = $9, lease_expires_at = $10, finished_at = $11
		WHERE id = $1 AND status = 'RUNNING'
	`
	result, err := tx.Exec(ctx, query,
		p.ID,
		p.Status,
		p.StepIndex,
		stateJSON,
		formJSON,
		stagedInputJSON,
		stagedCallbackJSON,
		p.RetryRequested,
		failureJSON,
		p.LeaseExpiresAt,
		p.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("checkpoint process: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}

	if entry != nil {
		entryFailure, err := marshalNullable(entry.Failure)
		if err != nil {
			return fmt.Errorf("marshal entry failure: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO process_steps (id, process_id, step_index, step_name,
			                           outcome, failure, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			entry.ID,
			entry.ProcessID,
			entry.StepIndex,
			entry.StepName,
			entry.Outcome,
			entryFailure,
			entry.StartedAt,
			entry.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("insert step entry: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// StageResume кладёт провалидированный ввод resume и будит процесс.
// Допустимо только из SUSPENDED.
func (r *ProcessRepo) StageResume(ctx context.Context, id uuid.UUID, input map[string]any) (*domain.Process, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}

	query := `
		UPDATE processes
		SET staged_input = $2, status = 'CREATED'
		WHERE id = $1 AND status = 'SUSPENDED'
		RETURNING ` + processColumns

	return r.scanStaged(ctx, id, query, inputJSON)
}

// StageCallback кладёт payload доставленного callback'а и будит процесс.
// Допустимо только из WAITING_ON_CALLBACK.
func (r *ProcessRepo) StageCallback(ctx context.Context, id uuid.UUID, payload map[string]any) (*domain.Process, error) {
	// Nil сериализовался бы в jsonb `null` и при чтении превратился
	// обратно в nil map — executor не отличил бы его от «callback
	// не доставлен». Пустая доставка хранится как {}.
	if payload == nil {
		payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		UPDATE processes
		SET staged_callback = $2, status = 'CREATED'
		WHERE id = $1 AND status = 'WAITING_ON_CALLBACK'
		RETURNING ` + processColumns

	return r.scanStaged(ctx, id, query, payloadJSON)
}

// RequestRetry будит упавший процесс для повторного выполнения
// упавшего шага. Без force допустим только для retryable-ошибок.
func (r *ProcessRepo) RequestRetry(ctx context.Context, id uuid.UUID, force bool) (*domain.Process, error) {
	query := `
		UPDATE processes
		SET retry_requested = true, status = 'CREATED'
		WHERE id = $1 AND status = 'FAILED'
		  AND ($2 OR (failure->>'retryable')::bool)
		RETURNING ` + processColumns

	return r.scanStaged(ctx, id, query, force)
}

// Abort переводит процесс в ABORTED из любого нетерминального статуса.
// Если процесс в RUNNING, executor обнаружит abort при следующем
// checkpoint'е (условный UPDATE не применится) и остановится.
func (r *ProcessRepo) Abort(ctx context.Context, id uuid.UUID) (*domain.Process, error) {
	query := `
		UPDATE processes
		SET status = 'ABORTED', finished_at = now(), pending_form = NULL,
		    staged_input = NULL, staged_callback = NULL, lease_expires_at = NULL
		WHERE id = $1
		  AND status IN ('CREATED', 'RUNNING', 'SUSPENDED', 'WAITING_ON_CALLBACK', 'FAILED')
		RETURNING ` + processColumns

	return r.scanStaged(ctx, id, query)
}

// ListReady возвращает процессы, готовые к захвату: CREATED либо
// RUNNING с истёкшей арендой. Используется polling fallback'ом.
func (r *ProcessRepo) ListReady(ctx context.Context, limit int) ([]domain.Process, error) {
	query := `
		SELECT ` + processColumns + `
		FROM processes
		WHERE status = 'CREATED' OR (status = 'RUNNING' AND lease_expires_at < now())
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready processes: %w", err)
	}
	defer rows.Close()

	return collectProcesses(rows)
}

// ListExpired возвращает RUNNING-процессы с истёкшей арендой.
// Такие процессы потерял упавший executor; janitor их будит.
func (r *ProcessRepo) ListExpired(ctx context.Context, limit int) ([]domain.Process, error) {
	query := `
		SELECT ` + processColumns + `
		FROM processes
		WHERE status = 'RUNNING' AND lease_expires_at < now()
		ORDER BY lease_expires_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired processes: %w", err)
	}
	defer rows.Close()

	return collectProcesses(rows)
}

// CountRunning возвращает количество процессов в RUNNING.
// Используется при drain'е паузы движка.
func (r *ProcessRepo) CountRunning(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM processes WHERE status = 'RUNNING'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count running: %w", err)
	}
	return count, nil
}

// ListSteps возвращает журнал шагов процесса в порядке выполнения.
func (r *ProcessRepo) ListSteps(ctx context.Context, processID uuid.UUID) ([]domain.StepEntry, error) {
	query := `
		SELECT id, process_id, step_index, step_name, outcome, failure,
		       started_at, finished_at
		FROM process_steps
		WHERE process_id = $1
		ORDER BY started_at ASC
	`
	rows, err := r.pool.Query(ctx, query, processID)
	if err != nil {
		return nil, fmt.Errorf("list process steps: %w", err)
	}
	defer rows.Close()

	var entries []domain.StepEntry
	for rows.Next() {
		var entry domain.StepEntry
		var failureJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.ProcessID,
			&entry.StepIndex,
			&entry.StepName,
			&entry.Outcome,
			&failureJSON,
			&entry.StartedAt,
			&entry.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan step entry: %w", err)
		}
		if failureJSON != nil {
			if err := json.Unmarshal(failureJSON, &entry.Failure); err != nil {
				return nil, fmt.Errorf("unmarshal entry failure: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// --- Helpers ---

// ProcessFilter — параметры фильтрации процессов.
type ProcessFilter struct {
	SubjectID *uuid.UUID
	Status    domain.ProcessStatus
	Workflow  string
	Limit     int
	Offset    int
}

// scanStaged выполняет условный UPDATE ... RETURNING и различает
// «нет записи» и «не в подходящем статусе».
func (r *ProcessRepo) scanStaged(ctx context.Context, id uuid.UUID, query string, args ...any) (*domain.Process, error) {
	queryArgs := append([]any{id}, args...)
	p, err := scanProcess(r.pool.QueryRow(ctx, query, queryArgs...))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if _, getErr := r.GetByID(ctx, id); getErr == nil {
				return nil, ErrInvalidState
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// scanner покрывает pgx.Row и pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanProcess сканирует одну строку в Process.
func scanProcess(row scanner) (*domain.Process, error) {
	var p domain.Process
	var stateJSON, formJSON, stagedInputJSON, stagedCallbackJSON, failureJSON []byte

	err := row.Scan(
		&p.ID,
		&p.Workflow,
		&p.Intent,
		&p.SubjectID,
		&p.Status,
		&p.ClaimedFrom,
		&p.StepIndex,
		&stateJSON,
		&formJSON,
		&stagedInputJSON,
		&stagedCallbackJSON,
		&p.RetryRequested,
		&failureJSON,
		&p.LeaseExpiresAt,
		&p.StartedAt,
		&p.FinishedAt,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan process: %w", err)
	}

	if stateJSON != nil {
		if err := json.Unmarshal(stateJSON, &p.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
	}
	if formJSON != nil {
		p.PendingForm = &forms.Schema{}
		if err := json.Unmarshal(formJSON, p.PendingForm); err != nil {
			return nil, fmt.Errorf("unmarshal pending form: %w", err)
		}
	}
	if stagedInputJSON != nil {
		if err := json.Unmarshal(stagedInputJSON, &p.StagedInput); err != nil {
			return nil, fmt.Errorf("unmarshal staged input: %w", err)
		}
	}
	if stagedCallbackJSON != nil {
		if err := json.Unmarshal(stagedCallbackJSON, &p.StagedCallback); err != nil {
			return nil, fmt.Errorf("unmarshal staged callback: %w", err)
		}
	}
	if failureJSON != nil {
		if err := json.Unmarshal(failureJSON, &p.Failure); err != nil {
			return nil, fmt.Errorf("unmarshal failure: %w", err)
		}
	}

	return &p, nil
}

// collectProcesses сканирует все строки результата.
func collectProcesses(rows pgx.Rows) ([]domain.Process, error) {
	var processes []domain.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		processes = append(processes, *p)
	}
	return processes, rows.Err()
}

// marshalNullable сериализует указатель в JSON либо NULL.
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *forms.Schema:
		if val == nil {
			return nil, nil
		}
	case *domain.Failure:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// marshalNullableMap сериализует map в JSON либо NULL для пустой.
func marshalNullableMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
