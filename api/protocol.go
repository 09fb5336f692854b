package api

import "tasks-api/domain"

const requestMaxSize = 64 * 1024 // 64 KiB

// /POST /api/tasks request body
type createTaskRequest struct {
	Title       string `json:"title" validate:"required,max=100"`
	Description string `json:"description" validate:"max=250"`
	Priority    string `json:"priority" validate:"omitempty,oneof=high medium low"`
}

// /PUT /api/tasks/:id request body
type updateTaskRequest struct {
	Title       string `json:"title" validate:"required,max=100"`
	Description string `json:"description" validate:"max=250"`
	Status      string `json:"status" validate:"required,oneof=pending completed"`
	Priority    string `json:"priority" validate:"required,oneof=high medium low"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type createTaskResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

type listTasksResponse struct {
	Message string              `json:"message"`
	Items   []domain.CachedTask `json:"items"`
	Source  string              `json:"source"`
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}
