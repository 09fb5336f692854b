package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasks-api/domain"
)

const healthCheckTimeout = 2 * time.Second

var validate = validator.New()

type handler struct {
	svc  TaskService
	auth Authenticator
	log  *log.Logger
}

// taskHandlerFunc is an authenticated task route. The request context
// already carries the caller's user id.
type taskHandlerFunc func(c echo.Context, m *requestMetrics) error

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc TaskService, auth Authenticator, deps map[string]Pinger, logger *log.Logger) {
	h := &handler{svc: svc, auth: auth, log: logger}

	e.POST("/api/tasks", h.instrument(h.createTask))
	e.GET("/api/tasks", h.instrument(h.listTasks))
	e.GET("/api/tasks/:id", h.instrument(h.viewTask))
	e.PUT("/api/tasks/:id", h.instrument(h.editTask))
	e.DELETE("/api/tasks/:id", h.instrument(h.deleteTask))
	e.GET("/healthz", healthz(deps))
}

func (h *handler) instrument(next taskHandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), h.log, c.Request().Method, c.Path())
		metrics.SetRequestID(requestID(c))
		defer func() {
			logErr := err
			if logErr == nil {
				logErr = metrics.failure
			}
			metrics.Log(c.Response().Status, logErr)
		}()

		authStart := time.Now()
		userID, authErr := h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			metrics.SetError(authErr)
			return c.JSON(http.StatusUnauthorized, messageResponse{Message: authErr.Error()})
		}
		c.SetRequest(c.Request().WithContext(domain.WithUserID(ctx, userID)))
		return next(c, metrics)
	}
}

func (h *handler) createTask(c echo.Context, m *requestMetrics) error {
	var req createTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, m, "decode", err, "add new task")
	}
	req.Priority = strings.ToLower(strings.TrimSpace(req.Priority))
	if err := validateRequest(req); err != nil {
		return h.fail(c, m, "validate", err, "add new task")
	}
	nt := domain.NewTask{Title: req.Title, Description: req.Description}
	if req.Priority != "" {
		p, err := domain.ParsePriority(req.Priority)
		if err != nil {
			return h.fail(c, m, "validate", err, "add new task")
		}
		nt.Priority = p
	}

	start := time.Now()
	task, err := h.svc.Create(c.Request().Context(), nt)
	m.ObserveService(time.Since(start))
	if err != nil {
		return h.fail(c, m, "service", err, "add new task")
	}
	m.SetTaskID(task.ID)
	return h.encode(c, m, http.StatusCreated, createTaskResponse{Message: "successfully added the task.", ID: task.ID})
}

func (h *handler) listTasks(c echo.Context, m *requestMetrics) error {
	page := 1
	if raw := strings.TrimSpace(c.QueryParam("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return h.fail(c, m, "validate", fmt.Errorf("%w: invalid page %q", domain.ErrInvalidArgument, raw), "fetch tasks")
		}
		page = n
	}
	filter, err := parseFilter(c.QueryParams())
	if err != nil {
		return h.fail(c, m, "validate", err, "fetch tasks")
	}

	start := time.Now()
	res, err := h.svc.List(c.Request().Context(), page, filter)
	m.ObserveService(time.Since(start))
	if err != nil {
		return h.fail(c, m, "service", err, "fetch tasks")
	}
	m.SetTasksReturned(len(res.Tasks))
	m.SetSource(res.Source)
	items := res.Tasks
	if items == nil {
		items = []domain.CachedTask{}
	}
	return h.encode(c, m, http.StatusOK, listTasksResponse{
		Message: "successfully fetched the tasks.",
		Items:   items,
		Source:  res.Source,
	})
}

func (h *handler) viewTask(c echo.Context, m *requestMetrics) error {
	id, err := taskIDParam(c)
	if err != nil {
		return h.fail(c, m, "validate", err, "fetch task")
	}
	m.SetTaskID(id)

	start := time.Now()
	task, err := h.svc.View(c.Request().Context(), id)
	m.ObserveService(time.Since(start))
	if err != nil {
		return h.fail(c, m, "service", err, "fetch task")
	}
	return h.encode(c, m, http.StatusOK, task)
}

func (h *handler) editTask(c echo.Context, m *requestMetrics) error {
	id, err := taskIDParam(c)
	if err != nil {
		return h.fail(c, m, "validate", err, "update task")
	}
	m.SetTaskID(id)

	var req updateTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, m, "decode", err, "update task")
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	req.Priority = strings.ToLower(strings.TrimSpace(req.Priority))
	if err := validateRequest(req); err != nil {
		return h.fail(c, m, "validate", err, "update task")
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		return h.fail(c, m, "validate", err, "update task")
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		return h.fail(c, m, "validate", err, "update task")
	}

	start := time.Now()
	_, err = h.svc.Edit(c.Request().Context(), id, domain.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		Status:      status,
		Priority:    priority,
	})
	m.ObserveService(time.Since(start))
	if err != nil {
		return h.fail(c, m, "service", err, "update task")
	}
	return h.encode(c, m, http.StatusOK, messageResponse{Message: "successfully updated the task."})
}

func (h *handler) deleteTask(c echo.Context, m *requestMetrics) error {
	id, err := taskIDParam(c)
	if err != nil {
		return h.fail(c, m, "validate", err, "delete task")
	}
	m.SetTaskID(id)

	start := time.Now()
	err = h.svc.Delete(c.Request().Context(), id)
	m.ObserveService(time.Since(start))
	if err != nil {
		return h.fail(c, m, "service", err, "delete task")
	}
	return h.encode(c, m, http.StatusOK, messageResponse{Message: "successfully deleted the task."})
}

func (h *handler) encode(c echo.Context, m *requestMetrics, status int, body any) error {
	encodeStart := time.Now()
	err := c.JSON(status, body)
	m.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

// fail maps err onto a status code and writes it as a message body.
func (h *handler) fail(c echo.Context, m *requestMetrics, stage string, err error, action string) error {
	m.SetErrorStage(stage)
	m.SetError(err)
	status, msg := errorStatus(err, action)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(log.Fields{
			"route":      c.Path(),
			"request_id": requestID(c),
			"user":       domain.UserIDFromContext(c.Request().Context()),
		}).Error("task request failed")
	}
	return c.JSON(status, messageResponse{Message: msg})
}

func errorStatus(err error, action string) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "task not found."
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "A task already exists."
	default:
		return http.StatusInternalServerError, fmt.Sprintf("Failed to %s. Error: %v", action, err)
	}
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid body", domain.ErrInvalidArgument)
	}
	return nil
}

func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return fmt.Errorf("%w: %s must satisfy %s=%s", domain.ErrInvalidArgument, strings.ToLower(fe.Field()), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %s is %s", domain.ErrInvalidArgument, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
}

func taskIDParam(c echo.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid task id %q", domain.ErrInvalidArgument, raw)
	}
	return id, nil
}

// parseFilter reads repeated or comma separated status and priority values.
func parseFilter(q map[string][]string) (domain.Filter, error) {
	var f domain.Filter
	for _, raw := range splitValues(q["status"]) {
		s, err := domain.ParseStatus(raw)
		if err != nil {
			return domain.Filter{}, err
		}
		f.Statuses = append(f.Statuses, s)
	}
	for _, raw := range splitValues(q["priority"]) {
		p, err := domain.ParsePriority(raw)
		if err != nil {
			return domain.Filter{}, err
		}
		f.Priorities = append(f.Priorities, p)
	}
	return f, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func healthz(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Dependencies: make(map[string]string, len(deps))}
		code := http.StatusOK
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				resp.Dependencies[name] = err.Error()
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Dependencies[name] = "ok"
		}
		return c.JSON(code, resp)
	}
}
