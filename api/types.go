package api

import (
	"context"

	"tasks-api/domain"
)

// TaskService is the task use-case surface the handlers drive.
type TaskService interface {
	Create(ctx context.Context, nt domain.NewTask) (domain.Task, error)
	List(ctx context.Context, page int, f domain.Filter) (domain.ListResult, error)
	View(ctx context.Context, id int64) (domain.Task, error)
	Edit(ctx context.Context, id int64, upd domain.TaskUpdate) (domain.Task, error)
	Delete(ctx context.Context, id int64) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
