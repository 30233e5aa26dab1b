package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ditto-api/domain"
)

func newTestLocal(t *testing.T) (*Local, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ditto.json")
	l, err := NewLocal(path)
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	return l, path
}

func TestLocalFirstRunInitializesEmptyBlob(t *testing.T) {
	l, path := newTestLocal(t)

	snap, err := l.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Templates) != 0 || len(snap.Instances) != 0 {
		t.Fatalf("expected empty collections, got %+v", snap)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("first run must create the blob: %v", err)
	}
}

func TestLocalUpsertDeleteRoundTrip(t *testing.T) {
	l, _ := newTestLocal(t)
	ctx := context.Background()

	in := domain.Instance{ID: "i1", Label: "stretch", CreatedForDate: "2024-01-05", Order: 1}
	if err := l.Apply(ctx, domain.Batch{Muts: []domain.Mutation{domain.UpsertTodo(in)}}); err != nil {
		t.Fatalf("apply upsert: %v", err)
	}

	in.Label = "stretch more"
	in.Done = true
	if err := l.Apply(ctx, domain.Batch{Muts: []domain.Mutation{domain.UpsertTodo(in)}}); err != nil {
		t.Fatalf("apply second upsert: %v", err)
	}

	snap, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Instances) != 1 {
		t.Fatalf("expected exactly one record for i1, got %d", len(snap.Instances))
	}
	if got := snap.Instances[0]; got.Label != "stretch more" || !got.Done {
		t.Fatalf("expected final field values, got %+v", got)
	}

	if err := l.Apply(ctx, domain.Batch{Muts: []domain.Mutation{domain.DeleteTodoMutation("i1")}}); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	snap, err = l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot after delete: %v", err)
	}
	if len(snap.Instances) != 0 {
		t.Fatalf("expected no instances after delete, got %d", len(snap.Instances))
	}
}

func TestLocalBatchAppliesBothCollections(t *testing.T) {
	l, _ := newTestLocal(t)
	ctx := context.Background()

	tpl := domain.Template{ID: "m1", Label: "stretch", StartDate: "2024-01-01", Order: 0}
	in := domain.Instance{ID: "i1", MasterID: "m1", Label: "stretch", CreatedForDate: "2024-01-05"}
	batch := domain.Batch{Muts: []domain.Mutation{domain.UpsertTemplate(tpl), domain.UpsertTodo(in)}}
	if err := l.Apply(ctx, batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	snap, _ := l.Snapshot(ctx)
	if len(snap.Templates) != 1 || len(snap.Instances) != 1 {
		t.Fatalf("expected one record per collection, got %+v", snap)
	}
}

func TestLocalGuardClaimedOnce(t *testing.T) {
	l, _ := newTestLocal(t)
	ctx := context.Background()

	in := domain.Instance{ID: "i1", MasterID: "m1", CreatedForDate: "2024-01-05"}
	batch := domain.Batch{Guard: "day:2024-01-05", Muts: []domain.Mutation{domain.UpsertTodo(in)}}
	if err := l.Apply(ctx, batch); err != nil {
		t.Fatalf("first guarded apply: %v", err)
	}

	dup := domain.Instance{ID: "i2", MasterID: "m1", CreatedForDate: "2024-01-05"}
	batch.Muts = []domain.Mutation{domain.UpsertTodo(dup)}
	if err := l.Apply(ctx, batch); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}

	snap, _ := l.Snapshot(ctx)
	if len(snap.Instances) != 1 {
		t.Fatalf("guard must keep the batch out, got %d instances", len(snap.Instances))
	}
}

func TestLocalGuardSurvivesReopen(t *testing.T) {
	l, path := newTestLocal(t)
	ctx := context.Background()

	batch := domain.Batch{
		Guard: "day:2024-01-05",
		Muts:  []domain.Mutation{domain.UpsertTodo(domain.Instance{ID: "i1", CreatedForDate: "2024-01-05"})},
	}
	if err := l.Apply(ctx, batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	reopened, err := NewLocal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	snap, _ := reopened.Snapshot(ctx)
	if len(snap.Instances) != 1 {
		t.Fatalf("expected persisted instance after reload, got %d", len(snap.Instances))
	}
	batch.Muts = []domain.Mutation{domain.UpsertTodo(domain.Instance{ID: "i2", CreatedForDate: "2024-01-05"})}
	if err := reopened.Apply(ctx, batch); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("guard must survive a reload, got %v", err)
	}
}

func TestLocalSubscribeSignalsOnApply(t *testing.T) {
	l, _ := newTestLocal(t)
	ch, cancel := l.Subscribe()
	defer cancel()

	err := l.Apply(context.Background(), domain.Batch{
		Muts: []domain.Mutation{domain.UpsertTodo(domain.Instance{ID: "i1", CreatedForDate: "2024-01-05"})},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal after apply")
	}
}

func TestLocalEmptyBatchIsSilent(t *testing.T) {
	l, _ := newTestLocal(t)
	ch, cancel := l.Subscribe()
	defer cancel()

	if err := l.Apply(context.Background(), domain.Batch{}); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("empty batch must not signal")
	case <-time.After(50 * time.Millisecond):
	}
}
