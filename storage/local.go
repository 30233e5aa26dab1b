package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"

	"ditto-api/domain"
)

// blob is the on-disk layout of the local backend: one keyed JSON document
// holding both collections plus the claimed guard keys (the per-day
// materialization markers, which must survive reloads).
type blob struct {
	Templates []domain.Template `json:"templates"`
	Instances []domain.Instance `json:"instances"`
	Claimed   []string          `json:"claimedGuards,omitempty"`
}

// Local is the file-backed Store. It keeps the whole blob in memory,
// serializes every call under one mutex and only swaps the in-memory state
// after the new blob has been fully written, so a reader never observes a
// half-applied batch.
type Local struct {
	path string

	mu     sync.Mutex
	state  blob
	broker *broker
}

// NewLocal opens (or initializes) the blob at path. A missing file is
// first-run and becomes empty collections on disk.
func NewLocal(path string) (*Local, error) {
	l := &Local{path: path, broker: newBroker()}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, BackendUnavailableError{Backend: "local", Err: err}
		}
		if err := l.save(l.state); err != nil {
			return nil, err
		}
		return l, nil
	}
	if err := sonic.Unmarshal(data, &l.state); err != nil {
		return nil, BackendUnavailableError{Backend: "local", Err: err}
	}
	return l, nil
}

func (l *Local) Snapshot(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Templates: append([]domain.Template{}, l.state.Templates...),
		Instances: append([]domain.Instance{}, l.state.Instances...),
	}, nil
}

func (l *Local) Apply(ctx context.Context, batch domain.Batch) error {
	if batch.Empty() {
		return nil
	}
	l.mu.Lock()
	if batch.Guard != "" {
		for _, g := range l.state.Claimed {
			if g == batch.Guard {
				l.mu.Unlock()
				return ErrAlreadyApplied
			}
		}
	}

	next := blob{
		Templates: append([]domain.Template{}, l.state.Templates...),
		Instances: append([]domain.Instance{}, l.state.Instances...),
		Claimed:   append([]string{}, l.state.Claimed...),
	}
	for _, m := range batch.Muts {
		applyMutation(&next, m)
	}
	if batch.Guard != "" {
		next.Claimed = append(next.Claimed, batch.Guard)
	}

	if err := l.save(next); err != nil {
		l.mu.Unlock()
		return err
	}
	l.state = next
	l.mu.Unlock()

	l.broker.notify()
	return nil
}

func (l *Local) Subscribe() (<-chan struct{}, func()) {
	return l.broker.subscribe()
}

func applyMutation(b *blob, m domain.Mutation) {
	switch m.Collection {
	case domain.Templates:
		b.Templates = removeTemplate(b.Templates, m.ID)
		if m.Op == domain.Upsert && m.Template != nil {
			b.Templates = append(b.Templates, *m.Template)
		}
	case domain.Todos:
		b.Instances = removeInstance(b.Instances, m.ID)
		if m.Op == domain.Upsert && m.Instance != nil {
			b.Instances = append(b.Instances, *m.Instance)
		}
	}
}

func removeTemplate(ts []domain.Template, id string) []domain.Template {
	out := ts[:0]
	for _, t := range ts {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func removeInstance(ins []domain.Instance, id string) []domain.Instance {
	out := ins[:0]
	for _, in := range ins {
		if in.ID != id {
			out = append(out, in)
		}
	}
	return out
}

// save writes the blob through a temp file and a rename so the keyed
// document on disk is always one complete batch or the previous one.
func (l *Local) save(b blob) error {
	data, err := sonic.Marshal(b)
	if err != nil {
		return BackendUnavailableError{Backend: "local", Err: err}
	}
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ditto-*")
	if err != nil {
		return BackendUnavailableError{Backend: "local", Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return BackendUnavailableError{Backend: "local", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return BackendUnavailableError{Backend: "local", Err: err}
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return BackendUnavailableError{Backend: "local", Err: err}
	}
	return nil
}
