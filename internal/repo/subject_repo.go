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

// SubjectRepo — репозиторий subject'ов.
//
// Реализует lifecycle.SubjectStore (Load/Save): lifecycle-шаги работают
// с subject'ами только через этот контракт.
type SubjectRepo struct {
	pool *pgxpool.Pool
}

// NewSubjectRepo создаёт новый SubjectRepo.
func NewSubjectRepo(pool *pgxpool.Pool) *SubjectRepo {
	return &SubjectRepo{pool: pool}
}

// Create создаёт новый subject.
func (r *SubjectRepo) Create(ctx context.Context, s *domain.Subject) error {
	configJSON, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO subjects (id, name, state, insync, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		s.ID,
		s.Name,
		s.State,
		s.InSync,
		configJSON,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

// Load возвращает subject по ID.
func (r *SubjectRepo) Load(ctx context.Context, id uuid.UUID) (*domain.Subject, error) {
	query := `
		SELECT id, name, state, insync, config, last_delta, created_at, updated_at
		FROM subjects
		WHERE id = $1
	`
	return scanSubject(r.pool.QueryRow(ctx, query, id))
}

// Save сохраняет изменённый subject.
func (r *SubjectRepo) Save(ctx context.Context, s *domain.Subject) error {
	configJSON, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	deltaJSON, err := marshalNullableMap(s.LastDelta)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}

	query := `
		UPDATE subjects
		SET name = $2, state = $3, insync = $4, config = $5, last_delta = $6,
		    updated_at = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Name,
		s.State,
		s.InSync,
		configJSON,
		deltaJSON,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает subject'ы (новые первыми).
func (r *SubjectRepo) List(ctx context.Context, limit, offset int) ([]domain.Subject, error) {
	query := `
		SELECT id, name, state, insync, config, last_delta, created_at, updated_at
		FROM subjects
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []domain.Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, *s)
	}
	return subjects, rows.Err()
}

// scanSubject сканирует одну строку в Subject.
func scanSubject(row scanner) (*domain.Subject, error) {
	var s domain.Subject
	var configJSON, deltaJSON []byte

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.State,
		&s.InSync,
		&configJSON,
		&deltaJSON,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subject: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &s.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if deltaJSON != nil {
		if err := json.Unmarshal(deltaJSON, &s.LastDelta); err != nil {
			return nil, fmt.Errorf("unmarshal delta: %w", err)
		}
	}

	return &s, nil
}
