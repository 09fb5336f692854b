package domain

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PageSize is the fixed number of tasks per listing page.
const PageSize = 10

// MaxPage is the largest page whose offset fits in an int.
const MaxPage = math.MaxInt / PageSize

// Sources reported by List.
const (
	SourceCache = "cache"
	SourceStore = "store"
)

// TaskStore is the transactional system of record for tasks.
type TaskStore interface {
	Insert(ctx context.Context, nt NewTask) (Task, error)
	GetByID(ctx context.Context, id int64) (Task, error)
	List(ctx context.Context, f Filter, offset, limit int) ([]Task, error)
	Update(ctx context.Context, id int64, upd TaskUpdate) (Task, error)
	Delete(ctx context.Context, id int64) error
}

// TaskCache holds task projections and the creation-ordered id index.
type TaskCache interface {
	GetMany(ctx context.Context, ids []int64) []CachedTask
	Set(ctx context.Context, rec CachedTask) error
	Delete(ctx context.Context, id int64) error
	IndexAppend(ctx context.Context, id int64) error
	IndexRemove(ctx context.Context, id int64) error
	IndexRange(ctx context.Context, offset, limit int) ([]int64, error)
	Publish(ctx context.Context, ev TaskEvent) error
}

// ListResult is one page of tasks and where it was served from.
type ListResult struct {
	Tasks  []CachedTask
	Source string
}

// TaskService applies task operations to the store first and then mirrors
// them into the cache. Cache failures are logged and never returned.
type TaskService struct {
	store  TaskStore
	cache  TaskCache
	log    *log.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewTaskService(store TaskStore, cache TaskCache, logger *log.Logger) *TaskService {
	if store == nil {
		panic("domain.NewTaskService: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskService{
		store:  store,
		cache:  cache,
		log:    logger,
		tracer: otel.Tracer("tasks-api/domain"),
		now:    time.Now,
	}
}

// Create inserts a task and then caches it and appends its id to the index.
func (s *TaskService) Create(ctx context.Context, nt NewTask) (Task, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.service.create")
	defer span.End()

	if nt.Priority == "" {
		nt.Priority = PriorityLow
	}
	task, err := s.store.Insert(ctx, nt)
	if err != nil {
		return Task{}, spanError(span, err)
	}
	span.SetAttributes(attribute.Int64("tasks.id", task.ID))

	if err := s.cache.Set(ctx, task.Cached()); err != nil {
		s.cacheFailed(ctx, err, task.ID, "set")
	}
	if err := s.cache.IndexAppend(ctx, task.ID); err != nil {
		s.cacheFailed(ctx, err, task.ID, "index_append")
	}
	s.publish(ctx, TaskCreated, task.ID)
	return task, nil
}

// List returns page (1-based) of tasks matching f. Unfiltered pages are
// served from the id index when every entry resolves from the cache;
// otherwise the page is read from the store and written back to the cache.
func (s *TaskService) List(ctx context.Context, page int, f Filter) (ListResult, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.service.list")
	defer span.End()

	if page < 1 || page > MaxPage {
		return ListResult{}, spanError(span, fmt.Errorf("%w: page must be between 1 and %d, got %d", ErrInvalidArgument, MaxPage, page))
	}
	offset := (page - 1) * PageSize
	f = f.Normalize()
	span.SetAttributes(attribute.Int("tasks.page", page), attribute.Bool("tasks.filtered", !f.Unfiltered()))

	if f.Unfiltered() {
		if recs, ok := s.listFromCache(ctx, offset); ok {
			span.SetAttributes(attribute.String("tasks.source", SourceCache))
			return ListResult{Tasks: recs, Source: SourceCache}, nil
		}
	}

	tasks, err := s.store.List(ctx, f, offset, PageSize)
	if err != nil {
		return ListResult{}, spanError(span, err)
	}
	recs := make([]CachedTask, len(tasks))
	failed := 0
	var lastErr error
	for i, t := range tasks {
		recs[i] = t.Cached()
		if err := s.cache.Set(ctx, recs[i]); err != nil {
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		s.log.WithError(lastErr).WithFields(log.Fields{
			"step":   "backfill",
			"failed": failed,
			"page":   page,
		}).Warn("cache backfill failed")
	}
	span.SetAttributes(attribute.String("tasks.source", SourceStore))
	return ListResult{Tasks: recs, Source: SourceStore}, nil
}

func (s *TaskService) listFromCache(ctx context.Context, offset int) ([]CachedTask, bool) {
	ids, err := s.cache.IndexRange(ctx, offset, PageSize)
	if err != nil {
		s.cacheFailed(ctx, err, 0, "index_range")
		return nil, false
	}
	if len(ids) < PageSize {
		return nil, false
	}
	recs := s.cache.GetMany(ctx, ids)
	if len(recs) < PageSize {
		return nil, false
	}
	return recs[:PageSize], true
}

// View reads a task from the store.
func (s *TaskService) View(ctx context.Context, id int64) (Task, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.service.view", trace.WithAttributes(attribute.Int64("tasks.id", id)))
	defer span.End()

	task, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Task{}, spanError(span, err)
	}
	return task, nil
}

// Edit updates a task and overwrites its cached projection. The id index is
// left as is, so listing order stays creation order.
func (s *TaskService) Edit(ctx context.Context, id int64, upd TaskUpdate) (Task, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.service.edit", trace.WithAttributes(attribute.Int64("tasks.id", id)))
	defer span.End()

	task, err := s.store.Update(ctx, id, upd)
	if err != nil {
		return Task{}, spanError(span, err)
	}
	if err := s.cache.Set(ctx, task.Cached()); err != nil {
		s.cacheFailed(ctx, err, id, "set")
		// Drop the old projection so readers fall back to the store.
		if err := s.cache.Delete(ctx, id); err != nil {
			s.cacheFailed(ctx, err, id, "delete")
		}
	}
	s.publish(ctx, TaskUpdated, id)
	return task, nil
}

// Delete removes a task from the store, then from the cache and the index.
func (s *TaskService) Delete(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "tasks.service.delete", trace.WithAttributes(attribute.Int64("tasks.id", id)))
	defer span.End()

	if err := s.store.Delete(ctx, id); err != nil {
		return spanError(span, err)
	}
	if err := s.cache.Delete(ctx, id); err != nil {
		s.cacheFailed(ctx, err, id, "delete")
	}
	if err := s.cache.IndexRemove(ctx, id); err != nil {
		s.cacheFailed(ctx, err, id, "index_remove")
	}
	s.publish(ctx, TaskDeleted, id)
	return nil
}

func (s *TaskService) publish(ctx context.Context, typ string, id int64) {
	ev := TaskEvent{Type: typ, TaskID: id, UserID: UserIDFromContext(ctx), Time: s.now().UnixMilli()}
	if err := s.cache.Publish(ctx, ev); err != nil {
		s.cacheFailed(ctx, err, id, "publish")
	}
}

func (s *TaskService) cacheFailed(ctx context.Context, err error, id int64, step string) {
	fields := log.Fields{"step": step}
	if id != 0 {
		fields["task"] = id
	}
	if user := UserIDFromContext(ctx); user != "" {
		fields["user"] = user
	}
	trace.SpanFromContext(ctx).AddEvent("cache.failure", trace.WithAttributes(attribute.String("tasks.cache.step", step)))
	s.log.WithError(err).WithFields(fields).Warn("cache step failed")
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
