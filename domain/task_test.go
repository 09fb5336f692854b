package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestCachedTaskMarshalIncludesStatus(t *testing.T) {
	task := Task{ID: 7, Title: "Title", Priority: PriorityHigh, Status: StatusCompleted}

	payload, err := sonic.Marshal(task.Cached())
	if err != nil {
		t.Fatalf("marshal cached task: %v", err)
	}

	if !strings.Contains(string(payload), `"status":"completed"`) {
		t.Fatalf("expected status field to be present, got %s", payload)
	}
	if strings.Contains(string(payload), "createdAt") {
		t.Fatalf("created_at must not be cached, got %s", payload)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    Status
		wantErr bool
	}{
		{raw: "pending", want: StatusPending},
		{raw: " Completed ", want: StatusCompleted},
		{raw: "done", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("ParseStatus(%q) err = %v, want ErrInvalidArgument", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseStatus(%q) = %q, %v; want %q", tt.raw, got, err, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		raw     string
		want    Priority
		wantErr bool
	}{
		{raw: "high", want: PriorityHigh},
		{raw: "MEDIUM", want: PriorityMedium},
		{raw: "low", want: PriorityLow},
		{raw: "urgent", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("ParsePriority(%q) err = %v, want ErrInvalidArgument", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParsePriority(%q) = %q, %v; want %q", tt.raw, got, err, tt.want)
		}
	}
}

func TestFilterUnfiltered(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty", filter: Filter{}, want: true},
		{name: "all statuses", filter: Filter{Statuses: []Status{StatusCompleted, StatusPending}}, want: true},
		{name: "all priorities", filter: Filter{Priorities: []Priority{PriorityLow, PriorityHigh, PriorityMedium}}, want: true},
		{name: "one status", filter: Filter{Statuses: []Status{StatusPending}}, want: false},
		{name: "two priorities", filter: Filter{Priorities: []Priority{PriorityLow, PriorityHigh}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Unfiltered(); got != tt.want {
				t.Fatalf("Unfiltered() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{
		Statuses:   []Status{StatusPending, StatusPending},
		Priorities: []Priority{PriorityHigh, PriorityLow, PriorityMedium},
	}.Normalize()

	if len(f.Statuses) != 1 || f.Statuses[0] != StatusPending {
		t.Fatalf("unexpected statuses: %#v", f.Statuses)
	}
	if f.Priorities != nil {
		t.Fatalf("expected full priority set to collapse, got %#v", f.Priorities)
	}
}

func TestStoreErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&StoreError{Op: "insert", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("expected StoreError to unwrap to cause")
	}
	if err.Error() != "store insert: connection reset" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
