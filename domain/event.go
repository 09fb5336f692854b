package domain

const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
)

// TaskEvent announces a committed change to a task.
type TaskEvent struct {
	Type   string `json:"type"`
	TaskID int64  `json:"id"`
	UserID string `json:"userId,omitempty"`
	Time   int64  `json:"time"`
}
