package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/debo-6186/aistockrecommender/internal/client"
)

// TaskState is the terminal or transient state of one async task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskTimedOut   TaskState = "timed_out"
)

// TaskStatuser polls the status of one async task.
type TaskStatuser interface {
	TaskStatus(ctx context.Context, taskID string) (*client.TaskStatusResponse, error)
}

// Outcome is the terminal result of polling one task.
type Outcome struct {
	Status         TaskState
	Response       string
	Err            string
	IsFileUploaded bool
	EndSession     bool
}

// Poller drives the status polling of async tasks: one poll per interval,
// bounded by an attempt budget.
type Poller struct {
	tasks       TaskStatuser
	Interval    time.Duration
	MaxAttempts int
}

// NewPoller creates a new Poller instance
func NewPoller(tasks TaskStatuser, interval time.Duration, maxAttempts int) *Poller {
	return &Poller{tasks: tasks, Interval: interval, MaxAttempts: maxAttempts}
}

// PollUntilDone polls the task until the server reports a terminal status or
// the attempt budget runs out. Transient poll failures are swallowed and
// count as non-terminal attempts; only a server-reported failed status or
// budget exhaustion ends the loop unsuccessfully. The returned error is
// non-nil only when ctx is cancelled.
func (p *Poller) PollUntilDone(ctx context.Context, taskID string) (*Outcome, error) {
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Interval):
		}

		status, err := p.tasks.TaskStatus(ctx, taskID)
		if err != nil {
			slog.Debug("Task poll attempt failed", "task_id", taskID, "attempt", attempt, "error", err)
			continue
		}

		switch status.Status {
		case client.TaskStatusCompleted:
			return &Outcome{
				Status:         TaskCompleted,
				Response:       status.Response,
				IsFileUploaded: status.IsFileUploaded,
				EndSession:     status.EndSession,
			}, nil
		case client.TaskStatusFailed:
			return &Outcome{Status: TaskFailed, Err: status.Error}, nil
		}
	}

	slog.Warn("Task poll budget exhausted", "task_id", taskID, "attempts", p.MaxAttempts)
	return &Outcome{Status: TaskTimedOut}, nil
}
