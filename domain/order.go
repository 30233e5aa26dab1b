package domain

import (
	"errors"
	"fmt"
)

// ErrNoReorder signals a reorder where the item did not move. Callers treat
// it as "nothing to write".
var ErrNoReorder = errors.New("reorder: destination equals source")

// InvalidScopeError reports an ordering computation over siblings that do
// not share a scope (instances from different days). It is a
// programming-contract violation and is never recovered from silently.
type InvalidScopeError struct {
	Reason string
}

func (e InvalidScopeError) Error() string {
	return "invalid ordering scope: " + e.Reason
}

// ReorderKey computes the order key an item takes when moved from src to dst
// within agenda. agenda must already be sorted ascending by order key and
// all siblings must share one CreatedForDate. Only the moved item's key is
// ever rewritten; neighbors keep theirs, so a reorder is a single write no
// matter how long the list is.
//
// Repeated interior moves between the same two neighbors halve the gap each
// time and eventually hit float64 precision. There is no rebalancing; the
// scheme accepts that limit.
func ReorderKey(agenda []Instance, src, dst int) (float64, error) {
	if err := checkScope(agenda); err != nil {
		return 0, err
	}
	n := len(agenda)
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return 0, InvalidScopeError{Reason: fmt.Sprintf("index out of range: src=%d dst=%d len=%d", src, dst, n)}
	}
	if dst == src {
		return 0, ErrNoReorder
	}
	switch {
	case dst == 0:
		return FirstOrder(agenda), nil
	case dst == n-1:
		return LastOrder(agenda), nil
	case dst > src:
		// Moving forward: land between the current occupant of dst and
		// its next sibling.
		return (agenda[dst].Order + agenda[dst+1].Order) / 2.0, nil
	default:
		return (agenda[dst-1].Order + agenda[dst].Order) / 2.0, nil
	}
}

// FirstOrder returns a key sorting before every sibling, or 0 for an empty
// list.
func FirstOrder(agenda []Instance) float64 {
	if len(agenda) == 0 {
		return 0
	}
	min := agenda[0].Order
	for _, in := range agenda[1:] {
		if in.Order < min {
			min = in.Order
		}
	}
	return min - 1
}

// LastOrder returns a key sorting after every sibling, or 0 for an empty
// list.
func LastOrder(agenda []Instance) float64 {
	if len(agenda) == 0 {
		return 0
	}
	max := agenda[0].Order
	for _, in := range agenda[1:] {
		if in.Order > max {
			max = in.Order
		}
	}
	return max + 1
}

func checkScope(agenda []Instance) error {
	for i := 1; i < len(agenda); i++ {
		if agenda[i].CreatedForDate != agenda[0].CreatedForDate {
			return InvalidScopeError{Reason: fmt.Sprintf("siblings span days %s and %s", agenda[0].CreatedForDate, agenda[i].CreatedForDate)}
		}
	}
	return nil
}
