package domain

import "time"

// MaterializationGuard is the claim key protecting a day's materialization.
func MaterializationGuard(day Day) string {
	return "day:" + string(day)
}

// MaterializeDay derives the batch that creates a day's instances from the
// templates active on that day. It returns an empty batch when there is
// nothing to do: the day lies before today (materialization is
// forward-looking), the day already has instances (even a user-created
// one-off suppresses it), or no template is eligible.
//
// The batch carries the day's guard key, so stores reject a second
// concurrent apply with ErrAlreadyApplied and at-least-once invocation
// still yields exactly one instance per (masterId, day).
func MaterializeDay(templates []Template, agenda []Instance, day, today Day, now time.Time, newID func() string) Batch {
	if day.Before(today) {
		return Batch{}
	}
	if len(agenda) > 0 {
		return Batch{}
	}
	eligible := ActiveTemplates(templates, day)
	if len(eligible) == 0 {
		return Batch{}
	}
	ts := now.UnixMilli()
	muts := make([]Mutation, 0, len(eligible))
	for _, t := range eligible {
		muts = append(muts, UpsertTodo(Instance{
			ID:             newID(),
			MasterID:       t.ID,
			Label:          t.Label,
			CreatedAt:      ts,
			CreatedForDate: day,
			Order:          t.Order,
		}))
	}
	return Batch{Guard: MaterializationGuard(day), Muts: muts}
}
