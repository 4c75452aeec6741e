// Package memory provides in-process implementations of the persistence
// ports, used in tests and single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/confirmd/confirmd/internal/domain"
	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/escalation"
)

// ConfirmStore keeps confirmations in a mutex-guarded map. Reads return
// copies so callers never share mutable state with the store.
type ConfirmStore struct {
	mu       sync.RWMutex
	confirms map[string]confirm.Confirm
}

func NewConfirmStore() *ConfirmStore {
	return &ConfirmStore{confirms: make(map[string]confirm.Confirm)}
}

func (s *ConfirmStore) Get(ctx context.Context, id string) (*confirm.Confirm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.confirms[id]
	if !ok {
		return nil, fmt.Errorf("confirm %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (s *ConfirmStore) Create(ctx context.Context, c *confirm.Confirm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.confirms[c.ID]; ok {
		return fmt.Errorf("confirm %s already exists: %w", c.ID, domain.ErrConflict)
	}
	s.confirms[c.ID] = *c
	return nil
}

func (s *ConfirmStore) Update(ctx context.Context, c *confirm.Confirm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.confirms[c.ID]
	if !ok {
		return fmt.Errorf("confirm %s: %w", c.ID, domain.ErrNotFound)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("confirm %s version %d != %d: %w", c.ID, c.Version, cur.Version, domain.ErrConflict)
	}
	c.Version++
	s.confirms[c.ID] = *c
	return nil
}

func (s *ConfirmStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.confirms[id]; !ok {
		return fmt.Errorf("confirm %s: %w", id, domain.ErrNotFound)
	}
	delete(s.confirms, id)
	return nil
}

func (s *ConfirmStore) ListActive(ctx context.Context) ([]*confirm.Confirm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*confirm.Confirm
	for _, c := range s.confirms {
		if c.IsActive() {
			cp := c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *ConfirmStore) ListByContext(ctx context.Context, contextID string) ([]*confirm.Confirm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*confirm.Confirm
	for _, c := range s.confirms {
		if c.ContextID == contextID {
			cp := c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *ConfirmStore) ListByStatus(ctx context.Context, status confirm.Status) ([]*confirm.Confirm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*confirm.Confirm
	for _, c := range s.confirms {
		if c.Status == status {
			cp := c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// RuleStore is a generic in-memory rule collection keyed by ID.
type RuleStore[T any] struct {
	mu    sync.RWMutex
	rules map[string]T
}

func NewRuleStore[T any]() *RuleStore[T] {
	return &RuleStore[T]{rules: make(map[string]T)}
}

func (s *RuleStore[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (s *RuleStore[T]) Put(ctx context.Context, id string, rule T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[id] = rule
	return nil
}

func (s *RuleStore[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

func (s *RuleStore[T]) List(ctx context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

// InstanceStore keeps escalation instances in memory.
type InstanceStore struct {
	mu        sync.RWMutex
	instances map[string]escalation.Instance
}

func NewInstanceStore() *InstanceStore {
	return &InstanceStore{instances: make(map[string]escalation.Instance)}
}

func (s *InstanceStore) Get(ctx context.Context, id string) (*escalation.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("escalation %s: %w", id, domain.ErrNotFound)
	}
	cp := inst
	cp.History = append([]escalation.HistoryEntry(nil), inst.History...)
	return &cp, nil
}

func (s *InstanceStore) Put(ctx context.Context, inst *escalation.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inst
	cp.History = append([]escalation.HistoryEntry(nil), inst.History...)
	s.instances[inst.ID] = cp
	return nil
}

func (s *InstanceStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return fmt.Errorf("escalation %s: %w", id, domain.ErrNotFound)
	}
	delete(s.instances, id)
	return nil
}

func (s *InstanceStore) List(ctx context.Context) ([]*escalation.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*escalation.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		cp := inst
		cp.History = append([]escalation.HistoryEntry(nil), inst.History...)
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InstanceStore) ListByConfirm(ctx context.Context, confirmID string) ([]*escalation.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*escalation.Instance
	for _, inst := range s.instances {
		if inst.ConfirmID == confirmID {
			cp := inst
			cp.History = append([]escalation.HistoryEntry(nil), inst.History...)
			out = append(out, &cp)
		}
	}
	return out, nil
}
