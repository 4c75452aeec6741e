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
	"github.com/confirmd/confirmd/internal/domain/confirm"
)

// ConfirmStore implements repository.ConfirmStore using PostgreSQL.
type ConfirmStore struct {
	pool *pgxpool.Pool
}

// NewConfirmStore creates a new store backed by the given connection pool.
func NewConfirmStore(pool *pgxpool.Pool) *ConfirmStore {
	return &ConfirmStore{pool: pool}
}

const confirmColumns = `id, context_id, plan_id, confirmation_type, priority, status,
	requester, approver, workflow, decision, metadata, version, created_at, updated_at, expires_at`

func (s *ConfirmStore) Get(ctx context.Context, id string) (*confirm.Confirm, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+confirmColumns+` FROM confirms WHERE id = $1`, id)

	c, err := scanConfirm(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get confirm %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get confirm %s: %w", id, err)
	}
	return c, nil
}

func (s *ConfirmStore) Create(ctx context.Context, c *confirm.Confirm) error {
	requester, approver, workflow, decision, metadata, err := marshalConfirm(c)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO confirms (id, context_id, plan_id, confirmation_type, priority, status,
		   requester, approver, workflow, decision, metadata, version, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.ContextID, c.PlanID, c.Type, c.Priority, c.Status,
		requester, approver, workflow, decision, metadata, c.Version, c.CreatedAt, c.UpdatedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create confirm %s: %w", c.ID, err)
	}
	return nil
}

func (s *ConfirmStore) Update(ctx context.Context, c *confirm.Confirm) error {
	requester, approver, workflow, decision, metadata, err := marshalConfirm(c)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE confirms SET priority = $2, status = $3, requester = $4, approver = $5,
		   workflow = $6, decision = $7, metadata = $8, version = version + 1,
		   updated_at = $9, expires_at = $10
		 WHERE id = $1 AND version = $11`,
		c.ID, c.Priority, c.Status, requester, approver,
		workflow, decision, metadata, c.UpdatedAt, c.ExpiresAt, c.Version)
	if err != nil {
		return fmt.Errorf("update confirm %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update confirm %s: %w", c.ID, domain.ErrConflict)
	}
	c.Version++
	return nil
}

func (s *ConfirmStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM confirms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete confirm %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete confirm %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *ConfirmStore) ListActive(ctx context.Context) ([]*confirm.Confirm, error) {
	return s.list(ctx,
		`SELECT `+confirmColumns+` FROM confirms
		 WHERE status IN ('pending', 'in_review', 'escalated')
		 ORDER BY created_at`)
}

func (s *ConfirmStore) ListByContext(ctx context.Context, contextID string) ([]*confirm.Confirm, error) {
	return s.list(ctx,
		`SELECT `+confirmColumns+` FROM confirms WHERE context_id = $1 ORDER BY created_at`,
		contextID)
}

func (s *ConfirmStore) ListByStatus(ctx context.Context, status confirm.Status) ([]*confirm.Confirm, error) {
	return s.list(ctx,
		`SELECT `+confirmColumns+` FROM confirms WHERE status = $1 ORDER BY created_at`,
		status)
}

func (s *ConfirmStore) list(ctx context.Context, query string, args ...any) ([]*confirm.Confirm, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list confirms: %w", err)
	}
	defer rows.Close()

	var out []*confirm.Confirm
	for rows.Next() {
		c, err := scanConfirm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func marshalConfirm(c *confirm.Confirm) (requester, approver, workflow, decision, metadata []byte, err error) {
	if requester, err = json.Marshal(c.Requester); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("marshal requester: %w", err)
	}
	if approver, err = json.Marshal(c.Approver); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("marshal approver: %w", err)
	}
	if c.Workflow != nil {
		if workflow, err = json.Marshal(c.Workflow); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("marshal workflow: %w", err)
		}
	}
	if c.Decision != nil {
		if decision, err = json.Marshal(c.Decision); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("marshal decision: %w", err)
		}
	}
	if metadata, err = json.Marshal(c.Metadata); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return requester, approver, workflow, decision, metadata, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfirm(row rowScanner) (*confirm.Confirm, error) {
	var c confirm.Confirm
	var requester, approver, workflow, decision, metadata []byte
	var expiresAt *time.Time

	err := row.Scan(&c.ID, &c.ContextID, &c.PlanID, &c.Type, &c.Priority, &c.Status,
		&requester, &approver, &workflow, &decision, &metadata,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(requester, &c.Requester); err != nil {
		return nil, fmt.Errorf("unmarshal requester: %w", err)
	}
	if err := json.Unmarshal(approver, &c.Approver); err != nil {
		return nil, fmt.Errorf("unmarshal approver: %w", err)
	}
	if len(workflow) > 0 {
		c.Workflow = &confirm.Workflow{}
		if err := json.Unmarshal(workflow, c.Workflow); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
	}
	if len(decision) > 0 {
		c.Decision = &confirm.Decision{}
		if err := json.Unmarshal(decision, c.Decision); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
	}
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	c.ExpiresAt = expiresAt
	return &c, nil
}
