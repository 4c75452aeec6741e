package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/confirmd/confirmd/internal/domain"
)

// RuleStore implements repository.RuleStore for any rule family, storing
// rules as JSONB rows keyed by (family, id).
type RuleStore[T any] struct {
	pool   *pgxpool.Pool
	family string
}

// NewRuleStore creates a rule store for one rule family, e.g. "timeout".
func NewRuleStore[T any](pool *pgxpool.Pool, family string) *RuleStore[T] {
	return &RuleStore[T]{pool: pool, family: family}
}

func (s *RuleStore[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT rule FROM engine_rules WHERE family = $1 AND id = $2`,
		s.family, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, fmt.Errorf("%s rule %s: %w", s.family, id, domain.ErrNotFound)
		}
		return zero, fmt.Errorf("get %s rule %s: %w", s.family, id, err)
	}

	var rule T
	if err := json.Unmarshal(raw, &rule); err != nil {
		return zero, fmt.Errorf("unmarshal %s rule %s: %w", s.family, id, err)
	}
	return rule, nil
}

func (s *RuleStore[T]) Put(ctx context.Context, id string, rule T) error {
	raw, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal %s rule %s: %w", s.family, id, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO engine_rules (family, id, rule, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (family, id) DO UPDATE SET rule = EXCLUDED.rule, updated_at = now()`,
		s.family, id, raw)
	if err != nil {
		return fmt.Errorf("put %s rule %s: %w", s.family, id, err)
	}
	return nil
}

func (s *RuleStore[T]) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM engine_rules WHERE family = $1 AND id = $2`, s.family, id)
	if err != nil {
		return fmt.Errorf("delete %s rule %s: %w", s.family, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s rule %s: %w", s.family, id, domain.ErrNotFound)
	}
	return nil
}

func (s *RuleStore[T]) List(ctx context.Context) ([]T, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT rule FROM engine_rules WHERE family = $1 ORDER BY id`, s.family)
	if err != nil {
		return nil, fmt.Errorf("list %s rules: %w", s.family, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rule T
		if err := json.Unmarshal(raw, &rule); err != nil {
			return nil, fmt.Errorf("unmarshal %s rule: %w", s.family, err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
