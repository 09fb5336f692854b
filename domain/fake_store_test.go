package domain_test

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"tasks-api/domain"
)

// fakeStore is an in-memory TaskStore that enforces title uniqueness and
// orders listings by id like the Postgres store.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	tasks   map[int64]domain.Task
	listErr error
	lists   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[int64]domain.Task{}}
}

func (f *fakeStore) titleTaken(title string, except int64) bool {
	for id, t := range f.tasks {
		if id != except && t.Title == title {
			return true
		}
	}
	return false
}

func (f *fakeStore) Insert(ctx context.Context, nt domain.NewTask) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.titleTaken(nt.Title, 0) {
		return domain.Task{}, domain.ErrConflict
	}
	f.nextID++
	t := domain.Task{
		ID:          f.nextID,
		Title:       nt.Title,
		Description: nt.Description,
		Status:      domain.StatusPending,
		Priority:    nt.Priority,
		CreatedAt:   time.Now().UTC(),
	}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) List(ctx context.Context, flt domain.Filter, offset, limit int) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", domain.ErrInvalidArgument, offset)
	}
	out := []domain.Task{}
	for _, t := range f.tasks {
		if len(flt.Statuses) > 0 && !slices.Contains(flt.Statuses, t.Status) {
			continue
		}
		if len(flt.Priorities) > 0 && !slices.Contains(flt.Priorities, t.Priority) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []domain.Task{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) Update(ctx context.Context, id int64, upd domain.TaskUpdate) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if f.titleTaken(upd.Title, id) {
		return domain.Task{}, domain.ErrConflict
	}
	t.Title = upd.Title
	t.Description = upd.Description
	t.Status = upd.Status
	t.Priority = upd.Priority
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// failingSetCache rejects every Set while delegating the rest.
type failingSetCache struct {
	domain.TaskCache
}

func (c failingSetCache) Set(ctx context.Context, rec domain.CachedTask) error {
	return domain.ErrCacheUnavailable
}
