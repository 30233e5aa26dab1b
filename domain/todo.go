package domain

import "sort"

// Template is a recurring task definition. One instance is spawned from it
// for every day on which it is active (StartDate <= day).
type Template struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	StartDate Day     `json:"startDate"`
	Order     float64 `json:"order"`
	CreatedAt int64   `json:"createdAt"`
}

// Instance is a single day's occurrence of a task. MasterID links it to the
// template it was spawned from and is empty for one-off instances.
type Instance struct {
	ID             string  `json:"id"`
	MasterID       string  `json:"masterId,omitempty"`
	Label          string  `json:"label"`
	Done           bool    `json:"done"`
	CreatedAt      int64   `json:"createdAt"`
	CreatedForDate Day     `json:"createdForDate"`
	Order          float64 `json:"order"`
}

// TodoChanges carries the mutable instance fields of an update. Nil fields
// are left untouched.
type TodoChanges struct {
	Label *string  `json:"label,omitempty"`
	Done  *bool    `json:"done,omitempty"`
	Order *float64 `json:"order,omitempty"`
}

// AgendaForDay filters the instances belonging to one calendar day.
func AgendaForDay(instances []Instance, day Day) []Instance {
	agenda := []Instance{}
	for _, in := range instances {
		if in.CreatedForDate == day {
			agenda = append(agenda, in)
		}
	}
	return agenda
}

// SortByOrder sorts siblings ascending by their order key, in place.
func SortByOrder(agenda []Instance) {
	sort.Slice(agenda, func(i, j int) bool { return agenda[i].Order < agenda[j].Order })
}

// ActiveTemplates returns the templates active as of the given day.
func ActiveTemplates(templates []Template, day Day) []Template {
	active := []Template{}
	for _, t := range templates {
		if !t.StartDate.After(day) {
			active = append(active, t)
		}
	}
	return active
}

// Victory reports whether a day's agenda is fully complete. An empty agenda
// is never a victory.
func Victory(agenda []Instance) bool {
	if len(agenda) == 0 {
		return false
	}
	for _, in := range agenda {
		if !in.Done {
			return false
		}
	}
	return true
}
