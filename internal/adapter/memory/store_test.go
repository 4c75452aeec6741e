package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/confirmd/confirmd/internal/domain"
	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/escalation"
	"github.com/confirmd/confirmd/internal/domain/timeout"
)

func sampleConfirm(id string, status confirm.Status) *confirm.Confirm {
	return &confirm.Confirm{
		ID:        id,
		ContextID: "ctx-1",
		Type:      confirm.TypeTaskApproval,
		Priority:  confirm.PriorityMedium,
		Status:    status,
	}
}

func TestConfirmStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewConfirmStore()

	if err := s.Create(ctx, sampleConfirm("c-1", confirm.StatusPending)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, sampleConfirm("c-1", confirm.StatusPending)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate create: expected ErrConflict, got %v", err)
	}

	got, err := s.Get(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "c-1" {
		t.Fatalf("got %s", got.ID)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Delete(ctx, "c-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "c-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfirmStoreOptimisticVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewConfirmStore()

	c := sampleConfirm("c-1", confirm.StatusPending)
	c.Version = 1
	if err := s.Create(ctx, c); err != nil {
		t.Fatal(err)
	}

	// Two readers take the same snapshot.
	a, _ := s.Get(ctx, "c-1")
	b, _ := s.Get(ctx, "c-1")

	a.Status = confirm.StatusInReview
	if err := s.Update(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.Version != 2 {
		t.Fatalf("version = %d, want 2 after update", a.Version)
	}

	b.Status = confirm.StatusCancelled
	if err := s.Update(ctx, b); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale update: expected ErrConflict, got %v", err)
	}

	got, _ := s.Get(ctx, "c-1")
	if got.Status != confirm.StatusInReview {
		t.Fatalf("status = %s, want in_review", got.Status)
	}
}

func TestConfirmStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewConfirmStore()
	if err := s.Create(ctx, sampleConfirm("c-1", confirm.StatusPending)); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, "c-1")
	got.Status = confirm.StatusCancelled

	again, _ := s.Get(ctx, "c-1")
	if again.Status != confirm.StatusPending {
		t.Fatal("mutating a read leaked into the store")
	}
}

func TestConfirmStoreLists(t *testing.T) {
	ctx := context.Background()
	s := NewConfirmStore()

	seed := []*confirm.Confirm{
		sampleConfirm("p", confirm.StatusPending),
		sampleConfirm("r", confirm.StatusInReview),
		sampleConfirm("e", confirm.StatusEscalated),
		sampleConfirm("a", confirm.StatusApproved),
	}
	seed[3].ContextID = "ctx-2"
	for _, c := range seed {
		if err := s.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 3 {
		t.Fatalf("active = %d, want 3", len(active))
	}

	byCtx, err := s.ListByContext(ctx, "ctx-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(byCtx) != 1 || byCtx[0].ID != "a" {
		t.Fatalf("by context = %+v", byCtx)
	}

	byStatus, err := s.ListByStatus(ctx, confirm.StatusInReview)
	if err != nil {
		t.Fatal(err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "r" {
		t.Fatalf("by status = %+v", byStatus)
	}
}

func TestRuleStore(t *testing.T) {
	ctx := context.Background()
	s := NewRuleStore[timeout.Rule]()

	if err := s.Put(ctx, "r-1", timeout.Rule{ID: "r-1", Timeout: time.Hour}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "r-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Timeout != time.Hour {
		t.Fatalf("rule = %+v", got)
	}

	// Put replaces.
	if err := s.Put(ctx, "r-1", timeout.Rule{ID: "r-1", Timeout: 2 * time.Hour}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "r-1")
	if got.Timeout != 2*time.Hour {
		t.Fatal("put did not replace")
	}

	rules, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 {
		t.Fatalf("rules = %d, want 1", len(rules))
	}

	if err := s.Delete(ctx, "r-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "r-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInstanceStoreCopiesHistory(t *testing.T) {
	ctx := context.Background()
	s := NewInstanceStore()

	inst := &escalation.Instance{
		ID:        "e-1",
		ConfirmID: "c-1",
		Status:    escalation.StatusInProgress,
		History:   []escalation.HistoryEntry{{Level: 1, Status: escalation.StatusCompleted}},
	}
	if err := s.Put(ctx, inst); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "e-1")
	if err != nil {
		t.Fatal(err)
	}
	got.History[0].Level = 99

	again, _ := s.Get(ctx, "e-1")
	if again.History[0].Level != 1 {
		t.Fatal("mutating read history leaked into the store")
	}

	byConfirm, err := s.ListByConfirm(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byConfirm) != 1 {
		t.Fatalf("by confirm = %d, want 1", len(byConfirm))
	}
	if got, _ := s.ListByConfirm(ctx, "other"); len(got) != 0 {
		t.Fatal("unrelated confirm returned instances")
	}
}
