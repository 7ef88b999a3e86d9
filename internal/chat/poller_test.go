package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debo-6186/aistockrecommender/internal/client"
)

type pollStep struct {
	resp *client.TaskStatusResponse
	err  error
}

// scriptedTasks replays a fixed sequence of poll results, repeating the last
// one once the script runs out.
type scriptedTasks struct {
	calls int
	steps []pollStep
}

func (s *scriptedTasks) TaskStatus(ctx context.Context, taskID string) (*client.TaskStatusResponse, error) {
	step := s.steps[len(s.steps)-1]
	if s.calls < len(s.steps) {
		step = s.steps[s.calls]
	}
	s.calls++
	return step.resp, step.err
}

func pending() pollStep {
	return pollStep{resp: &client.TaskStatusResponse{Status: client.TaskStatusPending}}
}

func TestPollUntilDoneTerminatesOnBudget(t *testing.T) {
	tasks := &scriptedTasks{steps: []pollStep{pending()}}
	poller := NewPoller(tasks, time.Millisecond, 3)

	outcome, err := poller.PollUntilDone(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskTimedOut, outcome.Status)
	assert.Equal(t, 3, tasks.calls)
}

func TestPollUntilDoneCompleted(t *testing.T) {
	tasks := &scriptedTasks{steps: []pollStep{
		pending(),
		pending(),
		{resp: &client.TaskStatusResponse{
			Status:         client.TaskStatusCompleted,
			Response:       "Buy AAPL",
			IsFileUploaded: true,
		}},
	}}
	poller := NewPoller(tasks, time.Millisecond, 10)

	outcome, err := poller.PollUntilDone(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, outcome.Status)
	assert.Equal(t, "Buy AAPL", outcome.Response)
	assert.True(t, outcome.IsFileUploaded)
	assert.Equal(t, 3, tasks.calls)
}

func TestPollUntilDoneSwallowsTransientErrors(t *testing.T) {
	tasks := &scriptedTasks{steps: []pollStep{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{resp: &client.TaskStatusResponse{Status: client.TaskStatusCompleted, Response: "done"}},
	}}
	poller := NewPoller(tasks, time.Millisecond, 10)

	outcome, err := poller.PollUntilDone(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, outcome.Status)
	assert.Equal(t, 3, tasks.calls)
}

func TestPollUntilDoneFailed(t *testing.T) {
	tasks := &scriptedTasks{steps: []pollStep{
		{resp: &client.TaskStatusResponse{Status: client.TaskStatusFailed, Error: "analysis failed"}},
	}}
	poller := NewPoller(tasks, time.Millisecond, 10)

	outcome, err := poller.PollUntilDone(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, outcome.Status)
	assert.Equal(t, "analysis failed", outcome.Err)
	assert.Equal(t, 1, tasks.calls)
}

func TestPollUntilDoneCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := &scriptedTasks{steps: []pollStep{pending()}}
	poller := NewPoller(tasks, time.Hour, 10)

	_, err := poller.PollUntilDone(ctx, "task-1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, tasks.calls)
}
