package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasks-api/domain"
)

type mockService struct {
	mu sync.Mutex

	created  []domain.NewTask
	edited   map[int64]domain.TaskUpdate
	deleted  []int64
	lastPage int
	lastFlt  domain.Filter
	lastUser string

	list domain.ListResult
	task domain.Task
	err  error
}

func (m *mockService) Create(ctx context.Context, nt domain.NewTask) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = domain.UserIDFromContext(ctx)
	if m.err != nil {
		return domain.Task{}, m.err
	}
	m.created = append(m.created, nt)
	return domain.Task{ID: int64(len(m.created)), Title: nt.Title, Priority: nt.Priority, Status: domain.StatusPending}, nil
}

func (m *mockService) List(ctx context.Context, page int, f domain.Filter) (domain.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = domain.UserIDFromContext(ctx)
	m.lastPage = page
	m.lastFlt = f
	return m.list, m.err
}

func (m *mockService) View(ctx context.Context, id int64) (domain.Task, error) {
	if m.err != nil {
		return domain.Task{}, m.err
	}
	return m.task, nil
}

func (m *mockService) Edit(ctx context.Context, id int64, upd domain.TaskUpdate) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Task{}, m.err
	}
	if m.edited == nil {
		m.edited = map[int64]domain.TaskUpdate{}
	}
	m.edited[id] = upd
	return domain.Task{ID: id, Title: upd.Title, Status: upd.Status, Priority: upd.Priority}, nil
}

func (m *mockService) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	return "user", nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(svc TaskService, deps map[string]Pinger) *echo.Echo {
	e := echo.New()
	e.Use(RequestIDMiddleware())
	e.Use(GzipRequestMiddleware())
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	Register(e, svc, mockAuth{}, deps, logger)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp messageResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return resp.Message
}

func TestCreateTask(t *testing.T) {
	svc := &mockService{}
	e := newTestServer(svc, nil)

	rec := do(e, http.MethodPost, "/api/tasks", `{"title":"Write code","description":"today","priority":"High"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createTaskResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.ID != 1 || resp.Message == "" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if len(svc.created) != 1 || svc.created[0].Priority != domain.PriorityHigh {
		t.Fatalf("unexpected create call: %#v", svc.created)
	}
	if svc.lastUser != "user" {
		t.Fatalf("expected user id in context, got %q", svc.lastUser)
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Fatalf("expected X-Request-ID on response")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	tests := map[string]string{
		"missing title":     `{"description":"x","priority":"low"}`,
		"title too long":    `{"title":"` + strings.Repeat("a", 101) + `","priority":"low"}`,
		"description long":  `{"title":"t","description":"` + strings.Repeat("d", 251) + `"}`,
		"unknown priority":  `{"title":"t","priority":"urgent"}`,
		"unknown field":     `{"title":"t","owner":"me"}`,
		"malformed json":    `{"title":`,
		"status not wanted": `{"title":"t","status":"completed"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			svc := &mockService{}
			e := newTestServer(svc, nil)

			rec := do(e, http.MethodPost, "/api/tasks", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400 got %d: %s", rec.Code, rec.Body.String())
			}
			if len(svc.created) != 0 {
				t.Fatalf("service must not be called on invalid input")
			}
		})
	}
}

func TestCreateTaskTitleAtLimit(t *testing.T) {
	svc := &mockService{}
	e := newTestServer(svc, nil)

	rec := do(e, http.MethodPost, "/api/tasks", `{"title":"`+strings.Repeat("a", 100)+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateTaskGzipBody(t *testing.T) {
	svc := &mockService{}
	e := newTestServer(svc, nil)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"title":"zipped","priority":"low"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", &buf)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.created[0].Title != "zipped" {
		t.Fatalf("unexpected title: %q", svc.created[0].Title)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{name: "conflict", err: domain.ErrConflict, status: http.StatusConflict, msg: "A task already exists."},
		{name: "not found", err: domain.ErrNotFound, status: http.StatusNotFound, msg: "task not found."},
		{name: "invalid", err: domain.ErrInvalidArgument, status: http.StatusBadRequest},
		{name: "store", err: &domain.StoreError{Op: "insert", Err: errors.New("connection reset")}, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(&mockService{err: tt.err}, nil)

			rec := do(e, http.MethodPost, "/api/tasks", `{"title":"t"}`)
			if rec.Code != tt.status {
				t.Fatalf("expected status %d got %d", tt.status, rec.Code)
			}
			msg := decodeMessage(t, rec)
			if tt.msg != "" && msg != tt.msg {
				t.Fatalf("unexpected message: %q", msg)
			}
			if tt.status == http.StatusInternalServerError && !strings.Contains(msg, "connection reset") {
				t.Fatalf("expected diagnostic detail in %q", msg)
			}
		})
	}
}

func TestUnauthenticatedRequest(t *testing.T) {
	svc := &mockService{}
	e := newTestServer(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rec.Code)
	}
	if svc.lastPage != 0 {
		t.Fatalf("service must not be called without credentials")
	}
}

func TestListTasks(t *testing.T) {
	svc := &mockService{list: domain.ListResult{
		Tasks:  []domain.CachedTask{{ID: 1, Title: "T1", Priority: domain.PriorityHigh, Status: domain.StatusPending}},
		Source: domain.SourceCache,
	}}
	e := newTestServer(svc, nil)

	rec := do(e, http.MethodGet, "/api/tasks?page=2&status=pending&priority=high,low&priority=medium", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lastPage != 2 {
		t.Fatalf("expected page 2, got %d", svc.lastPage)
	}
	if len(svc.lastFlt.Statuses) != 1 || len(svc.lastFlt.Priorities) != 3 {
		t.Fatalf("unexpected filter: %#v", svc.lastFlt)
	}
	var resp listTasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Status != domain.StatusPending || resp.Source != domain.SourceCache {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestListTasksDefaultsAndEmpty(t *testing.T) {
	svc := &mockService{list: domain.ListResult{Source: domain.SourceStore}}
	e := newTestServer(svc, nil)

	rec := do(e, http.MethodGet, "/api/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if svc.lastPage != 1 {
		t.Fatalf("expected default page 1, got %d", svc.lastPage)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Fatalf("expected empty items array, got %s", rec.Body.String())
	}
}

func TestListTasksInvalidQuery(t *testing.T) {
	testCases := map[string]string{
		"non_numeric":    "/api/tasks?page=abc",
		"zero":           "/api/tasks?page=0",
		"negative":       "/api/tasks?page=-3",
		"bad_status":     "/api/tasks?status=archived",
		"bad_priority":   "/api/tasks?priority=urgent",
		"mixed_priority": "/api/tasks?priority=high,bogus",
	}
	for name, target := range testCases {
		t.Run(name, func(t *testing.T) {
			svc := &mockService{}
			e := newTestServer(svc, nil)

			rec := do(e, http.MethodGet, target, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400 got %d", rec.Code)
			}
			if svc.lastPage != 0 {
				t.Fatalf("service must not be called on invalid query")
			}
		})
	}
}

func TestViewTask(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockService{task: domain.Task{ID: 7, Title: "T", Status: domain.StatusCompleted, Priority: domain.PriorityLow, CreatedAt: created}}
	e := newTestServer(svc, nil)

	rec := do(e, http.MethodGet, "/api/tasks/7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var got domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got.ID != 7 || got.Status != domain.StatusCompleted || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected task: %#v", got)
	}

	rec = do(e, http.MethodGet, "/api/tasks/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad id got %d", rec.Code)
	}
}

func TestEditTask(t *testing.T) {
	svc := &mockService{}
	e := newTestServer(svc, nil)

	rec := do(e, http.MethodPut, "/api/tasks/3", `{"title":"T3","description":"d","status":"Completed","priority":"medium"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	upd, ok := svc.edited[3]
	if !ok {
		t.Fatalf("expected edit of task 3")
	}
	if upd.Status != domain.StatusCompleted || upd.Priority != domain.PriorityMedium || upd.Title != "T3" {
		t.Fatalf("unexpected update: %#v", upd)
	}

	rec = do(e, http.MethodPut, "/api/tasks/3", `{"title":"T3","priority":"medium"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without status got %d", rec.Code)
	}
}

func TestEditTaskNotFound(t *testing.T) {
	e := newTestServer(&mockService{err: domain.ErrNotFound}, nil)

	rec := do(e, http.MethodPut, "/api/tasks/99", `{"title":"x","status":"pending","priority":"low"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	svc := &mockService{}
	e := newTestServer(svc, nil)

	rec := do(e, http.MethodDelete, "/api/tasks/4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if len(svc.deleted) != 1 || svc.deleted[0] != 4 {
		t.Fatalf("unexpected delete calls: %v", svc.deleted)
	}
	if msg := decodeMessage(t, rec); msg != "successfully deleted the task." {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestHealthz(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	e := newTestServer(&mockService{}, map[string]Pinger{"postgres": ok, "redis": ok})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	e = newTestServer(&mockService{}, map[string]Pinger{"postgres": ok, "redis": down})
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
	var resp healthResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Dependencies["postgres"] != "ok" || resp.Dependencies["redis"] == "ok" {
		t.Fatalf("unexpected dependency states: %#v", resp.Dependencies)
	}
}
