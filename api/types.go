package api

import (
	"context"

	"ditto-api/ditto"
	"ditto-api/domain"
)

// Service is the task-list surface the handlers drive. *ditto.Ditto
// implements it.
type Service interface {
	EnsureDay(ctx context.Context, day domain.Day) error
	BoardForDay(ctx context.Context, day domain.Day) (ditto.Board, error)
	AgendaForDay(ctx context.Context, day domain.Day) ([]domain.Instance, error)
	ActiveTemplates(ctx context.Context, day domain.Day) ([]domain.Template, error)
	FindTodo(ctx context.Context, id string) (domain.Instance, error)
	CreateTodo(ctx context.Context, day domain.Day, label string) (domain.Instance, error)
	UpdateTodo(ctx context.Context, in domain.Instance, changes domain.TodoChanges) (domain.Instance, error)
	ToggleTodo(ctx context.Context, in domain.Instance, done bool) (domain.Instance, error)
	DeleteTodo(ctx context.Context, in domain.Instance) error
	Reorder(ctx context.Context, agenda []domain.Instance, src, dst int) error
	PurgeDay(ctx context.Context, day domain.Day) error
}

// Notifier hands out change-signal subscriptions; the stores implement it.
type Notifier interface {
	Subscribe() (<-chan struct{}, func())
}
