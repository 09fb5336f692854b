package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Priority ranks a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Field limits enforced by the tasks table.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 250
)

var (
	allStatuses   = []Status{StatusPending, StatusCompleted}
	allPriorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}
)

// ParseStatus converts an external string into a Status. Matching is case
// insensitive and ignores surrounding whitespace.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, v := range allStatuses {
		if s == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, raw)
}

// ParsePriority converts an external string into a Priority.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	for _, v := range allPriorities {
		if p == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, raw)
}

// Task is the authoritative record held by the durable store.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewTask carries the fields accepted on creation. Status always starts as
// pending; an empty priority defaults to low.
type NewTask struct {
	Title       string
	Description string
	Priority    Priority
}

// TaskUpdate replaces every mutable field of an existing task.
type TaskUpdate struct {
	Title       string
	Description string
	Status      Status
	Priority    Priority
}

// CachedTask is the projection of a Task kept in the cache under task:{id}.
type CachedTask struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Status      Status   `json:"status"`
}

// Cached returns the cache projection of t.
func (t Task) Cached() CachedTask {
	return CachedTask{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Status:      t.Status,
	}
}

// Filter restricts a listing by status and priority. Empty sets match all.
type Filter struct {
	Statuses   []Status
	Priorities []Priority
}

// Unfiltered reports whether f selects every task. A set naming every variant
// of its enum is treated the same as an empty one.
func (f Filter) Unfiltered() bool {
	return coversAll(f.Statuses, allStatuses) && coversAll(f.Priorities, allPriorities)
}

// Normalize drops duplicate values and collapses sets that cover every variant.
func (f Filter) Normalize() Filter {
	out := Filter{
		Statuses:   dedupe(f.Statuses),
		Priorities: dedupe(f.Priorities),
	}
	if coversAll(out.Statuses, allStatuses) {
		out.Statuses = nil
	}
	if coversAll(out.Priorities, allPriorities) {
		out.Priorities = nil
	}
	return out
}

func coversAll[T comparable](set, all []T) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range all {
		found := false
		for _, s := range set {
			if s == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func dedupe[T comparable](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
