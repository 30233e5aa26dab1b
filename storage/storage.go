package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ditto-api/domain"
)

// Snapshot is a full read of the durable state: every template and every
// instance, across all days.
type Snapshot struct {
	Templates []domain.Template `json:"templates"`
	Instances []domain.Instance `json:"instances"`
}

// Store is the uniform persistence contract. Both the remote realtime
// backend and the local file backend satisfy it; everything above this
// interface is backend-agnostic.
//
// Apply is all-or-nothing per call: an observer never sees a half-applied
// batch. When the batch carries a guard that has already been claimed,
// Apply returns ErrAlreadyApplied and writes nothing.
//
// Subscribe returns a channel that receives a signal after every applied
// batch (including batches applied by other sessions, where the backend can
// see them) and a cancel func releasing the subscription.
type Store interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Apply(ctx context.Context, batch domain.Batch) error
	Subscribe() (<-chan struct{}, func())
}

// ErrAlreadyApplied reports a guarded batch whose guard key was claimed
// earlier. Callers racing to materialize a day treat it as success.
var ErrAlreadyApplied = errors.New("storage: batch guard already claimed")

// BackendUnavailableError wraps a storage read or write failure. It is
// surfaced to the caller as a recoverable state; nothing durable was
// corrupted.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e BackendUnavailableError) Unwrap() error {
	return e.Err
}

// PartialBatchError reports a multi-record operation that failed after some
// records were already applied. It names the applied records so the failure
// is never silently swallowed.
type PartialBatchError struct {
	Applied []string
	Err     error
}

func (e PartialBatchError) Error() string {
	return fmt.Sprintf("batch partially applied (done: %s): %v", strings.Join(e.Applied, ","), e.Err)
}

func (e PartialBatchError) Unwrap() error {
	return e.Err
}
