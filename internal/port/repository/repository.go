// Package repository defines the persistence ports for confirmations,
// rules, and escalation instances.
package repository

import (
	"context"

	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/escalation"
)

// ConfirmStore is the persistence port for confirmations.
type ConfirmStore interface {
	Get(ctx context.Context, id string) (*confirm.Confirm, error)
	Create(ctx context.Context, c *confirm.Confirm) error

	// Update persists the confirm and bumps its version. Implementations
	// reject stale writes with domain.ErrConflict.
	Update(ctx context.Context, c *confirm.Confirm) error

	Delete(ctx context.Context, id string) error

	// ListActive returns confirmations still awaiting an outcome.
	ListActive(ctx context.Context) ([]*confirm.Confirm, error)

	ListByContext(ctx context.Context, contextID string) ([]*confirm.Confirm, error)
	ListByStatus(ctx context.Context, status confirm.Status) ([]*confirm.Confirm, error)
}

// RuleStore holds one family of engine rules keyed by ID.
type RuleStore[T any] interface {
	Get(ctx context.Context, id string) (T, error)
	Put(ctx context.Context, id string, rule T) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]T, error)
}

// InstanceStore is the persistence port for escalation instances.
type InstanceStore interface {
	Get(ctx context.Context, id string) (*escalation.Instance, error)
	Put(ctx context.Context, inst *escalation.Instance) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*escalation.Instance, error)

	// ListByConfirm returns every instance ever opened for a confirm.
	ListByConfirm(ctx context.Context, confirmID string) ([]*escalation.Instance, error)
}
