package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/confirmd/confirmd/internal/domain"
	"github.com/confirmd/confirmd/internal/domain/escalation"
)

// InstanceStore implements repository.InstanceStore using PostgreSQL.
type InstanceStore struct {
	pool *pgxpool.Pool
}

// NewInstanceStore creates a new escalation instance store.
func NewInstanceStore(pool *pgxpool.Pool) *InstanceStore {
	return &InstanceStore{pool: pool}
}

const instanceColumns = `id, confirm_id, rule_id, esc_type, status, strategy,
	current_level, max_level, history, metadata, created_at, updated_at, completed_at`

func (s *InstanceStore) Get(ctx context.Context, id string) (*escalation.Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM escalation_instances WHERE id = $1`, id)

	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get escalation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get escalation %s: %w", id, err)
	}
	return inst, nil
}

func (s *InstanceStore) Put(ctx context.Context, inst *escalation.Instance) error {
	history, err := json.Marshal(inst.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	var metadata []byte
	if inst.Metadata != nil {
		if metadata, err = json.Marshal(inst.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO escalation_instances (id, confirm_id, rule_id, esc_type, status, strategy,
		   current_level, max_level, history, metadata, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   current_level = EXCLUDED.current_level,
		   history = EXCLUDED.history,
		   metadata = EXCLUDED.metadata,
		   updated_at = EXCLUDED.updated_at,
		   completed_at = EXCLUDED.completed_at`,
		inst.ID, inst.ConfirmID, inst.RuleID, inst.Type, inst.Status, inst.Strategy,
		inst.CurrentLevel, inst.MaxLevel, history, metadata,
		inst.CreatedAt, inst.UpdatedAt, inst.CompletedAt)
	if err != nil {
		return fmt.Errorf("put escalation %s: %w", inst.ID, err)
	}
	return nil
}

func (s *InstanceStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM escalation_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete escalation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete escalation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *InstanceStore) List(ctx context.Context) ([]*escalation.Instance, error) {
	return s.list(ctx,
		`SELECT `+instanceColumns+` FROM escalation_instances ORDER BY created_at`)
}

func (s *InstanceStore) ListByConfirm(ctx context.Context, confirmID string) ([]*escalation.Instance, error) {
	return s.list(ctx,
		`SELECT `+instanceColumns+` FROM escalation_instances WHERE confirm_id = $1 ORDER BY created_at`,
		confirmID)
}

func (s *InstanceStore) list(ctx context.Context, query string, args ...any) ([]*escalation.Instance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var out []*escalation.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanInstance(row rowScanner) (*escalation.Instance, error) {
	var inst escalation.Instance
	var history, metadata []byte
	var completedAt *time.Time

	err := row.Scan(&inst.ID, &inst.ConfirmID, &inst.RuleID, &inst.Type, &inst.Status, &inst.Strategy,
		&inst.CurrentLevel, &inst.MaxLevel, &history, &metadata,
		&inst.CreatedAt, &inst.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(history, &inst.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inst.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	inst.CompletedAt = completedAt
	return &inst, nil
}
