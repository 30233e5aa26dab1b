package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"ditto-api/domain"
)

type stubStore struct {
	snapshotFn  func(ctx context.Context) (Snapshot, error)
	applyFn     func(ctx context.Context, batch domain.Batch) error
	subscribeFn func() (<-chan struct{}, func())
}

func (s *stubStore) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.snapshotFn == nil {
		return Snapshot{}, errors.New("unexpected Snapshot call")
	}
	return s.snapshotFn(ctx)
}

func (s *stubStore) Apply(ctx context.Context, batch domain.Batch) error {
	if s.applyFn == nil {
		return errors.New("unexpected Apply call")
	}
	return s.applyFn(ctx, batch)
}

func (s *stubStore) Subscribe() (<-chan struct{}, func()) {
	if s.subscribeFn == nil {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}
	return s.subscribeFn()
}

func newCacheRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCacheSnapshotMissThenHit(t *testing.T) {
	client := newCacheRedis(t)

	calls := 0
	base := &stubStore{
		snapshotFn: func(ctx context.Context) (Snapshot, error) {
			calls++
			return Snapshot{Instances: []domain.Instance{{ID: "i1", CreatedForDate: "2024-01-05"}}}, nil
		},
	}
	cache := NewCache(base, client, "owner", time.Minute)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		snap, err := cache.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
		if len(snap.Instances) != 1 || snap.Instances[0].ID != "i1" {
			t.Fatalf("snapshot %d: unexpected %+v", i, snap)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one backing read, got %d", calls)
	}
}

func TestCacheApplyEvicts(t *testing.T) {
	client := newCacheRedis(t)

	calls := 0
	base := &stubStore{
		snapshotFn: func(ctx context.Context) (Snapshot, error) {
			calls++
			return Snapshot{}, nil
		},
		applyFn: func(ctx context.Context, batch domain.Batch) error { return nil },
	}
	cache := NewCache(base, client, "owner", time.Minute)

	ctx := context.Background()
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("warm snapshot: %v", err)
	}
	batch := domain.Batch{Muts: []domain.Mutation{domain.DeleteTodoMutation("x")}}
	if err := cache.Apply(ctx, batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot after apply: %v", err)
	}
	if calls != 2 {
		t.Fatalf("apply must evict the cached snapshot, backing reads = %d", calls)
	}
}

func TestCacheApplyErrorKeepsCache(t *testing.T) {
	client := newCacheRedis(t)

	calls := 0
	applyErr := errors.New("boom")
	base := &stubStore{
		snapshotFn: func(ctx context.Context) (Snapshot, error) {
			calls++
			return Snapshot{}, nil
		},
		applyFn: func(ctx context.Context, batch domain.Batch) error { return applyErr },
	}
	cache := NewCache(base, client, "owner", time.Minute)

	ctx := context.Background()
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("warm snapshot: %v", err)
	}
	if err := cache.Apply(ctx, domain.Batch{Muts: []domain.Mutation{domain.DeleteTodoMutation("x")}}); !errors.Is(err, applyErr) {
		t.Fatalf("expected apply error, got %v", err)
	}
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if calls != 1 {
		t.Fatalf("failed apply must not evict, backing reads = %d", calls)
	}
}

func TestCacheSubscribeEvictsBeforeForwarding(t *testing.T) {
	client := newCacheRedis(t)

	signal := make(chan struct{}, 1)
	calls := 0
	base := &stubStore{
		snapshotFn: func(ctx context.Context) (Snapshot, error) {
			calls++
			return Snapshot{}, nil
		},
		subscribeFn: func() (<-chan struct{}, func()) {
			return signal, func() { close(signal) }
		},
	}
	cache := NewCache(base, client, "owner", time.Minute)

	ctx := context.Background()
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("warm snapshot: %v", err)
	}

	ch, cancel := cache.Subscribe()
	defer cancel()
	signal <- struct{}{}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected forwarded change signal")
	}
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot after signal: %v", err)
	}
	if calls != 2 {
		t.Fatalf("a change signal must evict the cached snapshot, backing reads = %d", calls)
	}
}

func TestCacheNilRedisPassesThrough(t *testing.T) {
	calls := 0
	base := &stubStore{
		snapshotFn: func(ctx context.Context) (Snapshot, error) {
			calls++
			return Snapshot{}, nil
		},
	}
	cache := NewCache(base, nil, "owner", time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := cache.Snapshot(ctx); err != nil {
			t.Fatalf("snapshot: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("without redis every read hits the backing store, got %d", calls)
	}
}
