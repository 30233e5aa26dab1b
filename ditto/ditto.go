// Package ditto is the mutation façade of the recurring-task core: the one
// surface a UI calls. Every logical mutation is fanned out to the template
// and/or instance records it touches and written through the store as a
// single batch.
package ditto

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"ditto-api/domain"
	"ditto-api/storage"
)

// ErrNotToday reports a template-creating operation invoked for a day other
// than the current one. Recurrence is only ever established from "today".
var ErrNotToday = errors.New("ditto: templates are created from today only")

// ErrNotFound reports a lookup for an instance id that is not in the
// snapshot.
var ErrNotFound = errors.New("ditto: no such todo")

// Ditto coordinates reads and writes against a Store. It is backend
// agnostic; the same code drives the remote realtime backend and the local
// file backend.
type Ditto struct {
	store  storage.Store
	logger *log.Logger

	now   func() time.Time
	newID func() string
}

// New creates a façade over the given store.
func New(store storage.Store, logger *log.Logger) *Ditto {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Ditto{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (d *Ditto) today() domain.Day {
	return domain.Today(d.now)
}

// Board is one day's view of the world: the sorted agenda plus the derived
// streak state.
type Board struct {
	Day     domain.Day        `json:"day"`
	Todos   []domain.Instance `json:"todos"`
	Streak  int               `json:"streak"`
	Victory bool              `json:"victory"`
}

// BoardForDay reads one snapshot and derives the day's agenda, streak and
// victory state from it. The streak is recomputed from the full instance
// history on every call; nothing derived is ever persisted.
func (d *Ditto) BoardForDay(ctx context.Context, day domain.Day) (Board, error) {
	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		return Board{}, err
	}
	agenda := domain.AgendaForDay(snap.Instances, day)
	domain.SortByOrder(agenda)
	return Board{
		Day:     day,
		Todos:   agenda,
		Streak:  domain.DisplayStreak(snap.Instances, day),
		Victory: domain.Victory(agenda),
	}, nil
}

// AgendaForDay returns the day's instances sorted by order key.
func (d *Ditto) AgendaForDay(ctx context.Context, day domain.Day) ([]domain.Instance, error) {
	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	agenda := domain.AgendaForDay(snap.Instances, day)
	domain.SortByOrder(agenda)
	return agenda, nil
}

// ActiveTemplates returns the templates active as of the given day.
func (d *Ditto) ActiveTemplates(ctx context.Context, day domain.Day) ([]domain.Template, error) {
	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ActiveTemplates(snap.Templates, day), nil
}

// FindTodo locates an instance by id.
func (d *Ditto) FindTodo(ctx context.Context, id string) (domain.Instance, error) {
	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		return domain.Instance{}, err
	}
	for _, in := range snap.Instances {
		if in.ID == id {
			return in, nil
		}
	}
	return domain.Instance{}, ErrNotFound
}

// EnsureDay materializes the day's instances from the active templates if
// the day has none yet. It is safe to call from every observer of the day:
// the derivation itself no-ops once instances exist, and the store guard
// turns a lost race into ErrAlreadyApplied, which is swallowed here.
func (d *Ditto) EnsureDay(ctx context.Context, day domain.Day) error {
	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	agenda := domain.AgendaForDay(snap.Instances, day)
	batch := domain.MaterializeDay(snap.Templates, agenda, day, d.today(), d.now(), d.newID)
	if batch.Empty() {
		return nil
	}
	if err := d.store.Apply(ctx, batch); err != nil {
		if errors.Is(err, storage.ErrAlreadyApplied) {
			d.logger.WithField("day", day).Debug("materialization already claimed")
			return nil
		}
		return err
	}
	d.logger.WithFields(log.Fields{"day": day, "count": len(batch.Muts)}).Info("materialized day")
	return nil
}

// CreateTemplateAndInstance adds a recurring task: a template starting
// today plus today's instance of it, written atomically. It is the add path
// for "viewing today" and rejects any other day.
func (d *Ditto) CreateTemplateAndInstance(ctx context.Context, day domain.Day, label string, order float64) (domain.Instance, error) {
	if day != d.today() {
		return domain.Instance{}, ErrNotToday
	}
	ts := d.now().UnixMilli()
	tpl := domain.Template{
		ID:        d.newID(),
		Label:     label,
		StartDate: day,
		Order:     order,
		CreatedAt: ts,
	}
	in := domain.Instance{
		ID:             d.newID(),
		MasterID:       tpl.ID,
		Label:          label,
		CreatedAt:      ts,
		CreatedForDate: day,
		Order:          order,
	}
	batch := domain.Batch{Muts: []domain.Mutation{domain.UpsertTemplate(tpl), domain.UpsertTodo(in)}}
	if err := d.store.Apply(ctx, batch); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// CreateOneOffInstance adds a task for a single day without establishing
// recurrence.
func (d *Ditto) CreateOneOffInstance(ctx context.Context, day domain.Day, label string, order float64) (domain.Instance, error) {
	in := domain.Instance{
		ID:             d.newID(),
		Label:          label,
		CreatedAt:      d.now().UnixMilli(),
		CreatedForDate: day,
		Order:          order,
	}
	batch := domain.Batch{Muts: []domain.Mutation{domain.UpsertTodo(in)}}
	if err := d.store.Apply(ctx, batch); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// CreateTodo adds a task for the day the user is viewing, placed at the end
// of that day's agenda. Adding while viewing today establishes recurrence;
// any other day gets a one-off.
func (d *Ditto) CreateTodo(ctx context.Context, day domain.Day, label string) (domain.Instance, error) {
	agenda, err := d.AgendaForDay(ctx, day)
	if err != nil {
		return domain.Instance{}, err
	}
	order := domain.LastOrder(agenda)
	if day == d.today() {
		return d.CreateTemplateAndInstance(ctx, day, label, order)
	}
	return d.CreateOneOffInstance(ctx, day, label, order)
}

// UpdateTodo applies field changes to an instance. When the instance is
// today's occurrence of a template, label and order changes are mirrored
// onto the template in the same batch so the recurring definition follows
// the edit. Past or future days and one-offs mutate only themselves,
// preserving history.
func (d *Ditto) UpdateTodo(ctx context.Context, in domain.Instance, changes domain.TodoChanges) (domain.Instance, error) {
	if changes.Label != nil {
		in.Label = *changes.Label
	}
	if changes.Done != nil {
		in.Done = *changes.Done
	}
	if changes.Order != nil {
		in.Order = *changes.Order
	}
	muts := []domain.Mutation{}
	if d.mirrorsToTemplate(in) && (changes.Label != nil || changes.Order != nil) {
		if tpl, ok, err := d.findTemplate(ctx, in.MasterID); err != nil {
			return domain.Instance{}, err
		} else if ok {
			if changes.Label != nil {
				tpl.Label = *changes.Label
			}
			if changes.Order != nil {
				tpl.Order = *changes.Order
			}
			muts = append(muts, domain.UpsertTemplate(tpl))
		} else {
			d.logger.WithField("masterId", in.MasterID).Warn("instance references a missing template")
		}
	}
	muts = append(muts, domain.UpsertTodo(in))
	if err := d.store.Apply(ctx, domain.Batch{Muts: muts}); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// ToggleTodo flips an instance's done state. Completion is per occurrence
// and never touches the template.
func (d *Ditto) ToggleTodo(ctx context.Context, in domain.Instance, done bool) (domain.Instance, error) {
	in.Done = done
	batch := domain.Batch{Muts: []domain.Mutation{domain.UpsertTodo(in)}}
	if err := d.store.Apply(ctx, batch); err != nil {
		return domain.Instance{}, err
	}
	return in, nil
}

// DeleteTodo removes an instance. Deleting today's occurrence of a template
// also deletes the template, so the task stops recurring; deleting a past
// day's record leaves the template alone.
func (d *Ditto) DeleteTodo(ctx context.Context, in domain.Instance) error {
	muts := []domain.Mutation{}
	if d.mirrorsToTemplate(in) {
		muts = append(muts, domain.DeleteTemplate(in.MasterID))
	}
	muts = append(muts, domain.DeleteTodoMutation(in.ID))
	return d.store.Apply(ctx, domain.Batch{Muts: muts})
}

// DeleteTodos removes a set of instances one by one, mirroring each per
// DeleteTodo. A mid-sequence failure is reported as a PartialBatchError
// naming the instances already removed.
func (d *Ditto) DeleteTodos(ctx context.Context, ins []domain.Instance) error {
	applied := []string{}
	for _, in := range ins {
		if err := d.DeleteTodo(ctx, in); err != nil {
			if len(applied) > 0 {
				return storage.PartialBatchError{Applied: applied, Err: err}
			}
			return err
		}
		applied = append(applied, in.ID)
	}
	return nil
}

// Reorder moves the item at src to dst within the day's agenda and writes
// the moved item's new order key, nothing else. agenda must be sorted by
// order key, as returned by AgendaForDay.
func (d *Ditto) Reorder(ctx context.Context, agenda []domain.Instance, src, dst int) error {
	key, err := domain.ReorderKey(agenda, src, dst)
	if err != nil {
		if errors.Is(err, domain.ErrNoReorder) {
			return nil
		}
		return err
	}
	order := key
	_, err = d.UpdateTodo(ctx, agenda[src], domain.TodoChanges{Order: &order})
	return err
}

// StreakForDay returns the displayed streak for the day and whether the day
// itself is a victory.
func (d *Ditto) StreakForDay(ctx context.Context, day domain.Day) (int, bool, error) {
	board, err := d.BoardForDay(ctx, day)
	if err != nil {
		return 0, false, err
	}
	return board.Streak, board.Victory, nil
}

// PurgeDay deletes every instance of the day, cascading to templates per
// the DeleteTodo rule.
func (d *Ditto) PurgeDay(ctx context.Context, day domain.Day) error {
	agenda, err := d.AgendaForDay(ctx, day)
	if err != nil {
		return err
	}
	return d.DeleteTodos(ctx, agenda)
}

func (d *Ditto) mirrorsToTemplate(in domain.Instance) bool {
	return in.MasterID != "" && in.CreatedForDate == d.today()
}

func (d *Ditto) findTemplate(ctx context.Context, id string) (domain.Template, bool, error) {
	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		return domain.Template{}, false, err
	}
	for _, t := range snap.Templates {
		if t.ID == id {
			return t, true, nil
		}
	}
	return domain.Template{}, false, nil
}
