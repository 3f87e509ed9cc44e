package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type recorderStub struct {
	mu       sync.Mutex
	tasks    map[string]domain.ScheduledTask
	failSave bool
}

func newRecorderStub() *recorderStub {
	return &recorderStub{tasks: make(map[string]domain.ScheduledTask)}
}

func (r *recorderStub) SaveTask(_ context.Context, task domain.ScheduledTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave {
		return assert.AnError
	}
	r.tasks[task.ID] = task
	return nil
}

func (r *recorderStub) UpdateTaskStatus(_ context.Context, id string, status domain.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if ok && task.Status == domain.TaskStatusPending {
		task.Status = status
		r.tasks[id] = task
	}
	return nil
}

func (r *recorderStub) PendingTasks(context.Context) ([]domain.ScheduledTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ScheduledTask
	for _, task := range r.tasks {
		if task.Status == domain.TaskStatusPending {
			out = append(out, task)
		}
	}
	return out, nil
}

func (r *recorderStub) status(id string) domain.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id].Status
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestScheduler(rec TaskRecorder) (*Scheduler, *FakeClock) {
	clock := NewFakeClock(epoch)
	return New(clock, DefaultTiming(), rec, slog.New(slog.NewTextHandler(io.Discard, nil))), clock
}

func TestScheduler_After(t *testing.T) {
	rec := newRecorderStub()
	s, clock := newTestScheduler(rec)

	var fired []domain.ScheduledTask
	h := s.After(context.Background(), time.Minute, domain.TaskAcceptanceCheck, 7, 1, func(_ context.Context, task domain.ScheduledTask) {
		fired = append(fired, task)
	})

	assert.Equal(t, domain.TaskStatusPending, rec.status(h.Task().ID))
	assert.Len(t, s.Pending(7), 1)

	clock.Advance(59 * time.Second)
	assert.Empty(t, fired)

	clock.Advance(time.Second)
	require.Len(t, fired, 1)
	assert.Equal(t, int64(7), fired[0].OrderID)
	assert.Equal(t, uint64(1), fired[0].Generation)
	assert.Equal(t, epoch.Add(time.Minute), fired[0].ExecuteAt)
	assert.Equal(t, domain.TaskStatusCompleted, rec.status(h.Task().ID))
	assert.Empty(t, s.Pending(7))
	assert.False(t, h.Cancel(), "fired task can no longer be cancelled")
}

func TestScheduler_Cancel(t *testing.T) {
	rec := newRecorderStub()
	s, clock := newTestScheduler(rec)

	fired := false
	h := s.After(context.Background(), time.Minute, domain.TaskPriceReminder, 3, 0, func(context.Context, domain.ScheduledTask) {
		fired = true
	})

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())

	clock.Advance(time.Hour)
	assert.False(t, fired)
	assert.Equal(t, domain.TaskStatusCancelled, rec.status(h.Task().ID))
	assert.Zero(t, clock.Pending())
}

func TestScheduler_CancelOrder(t *testing.T) {
	s, clock := newTestScheduler(nil)

	var fired []domain.TaskType
	record := func(_ context.Context, task domain.ScheduledTask) { fired = append(fired, task.Type) }

	s.After(context.Background(), 25*time.Minute, domain.TaskPriceReminder, 1, 0, record)
	s.After(context.Background(), 35*time.Minute, domain.TaskPriceEnforcement, 1, 0, record)
	s.After(context.Background(), 30*time.Minute, domain.TaskArrivalCheck, 2, 0, record)

	assert.Equal(t, 2, s.CancelOrder(1))
	assert.Zero(t, s.CancelOrder(1))

	clock.Advance(time.Hour)
	assert.Equal(t, []domain.TaskType{domain.TaskArrivalCheck}, fired)
}

func TestScheduler_CallbackSchedulesFollowUp(t *testing.T) {
	s, clock := newTestScheduler(nil)

	var order []string
	s.After(context.Background(), time.Minute, domain.TaskCommissionWarning, 1, 0, func(ctx context.Context, task domain.ScheduledTask) {
		order = append(order, "warning")
		s.After(ctx, time.Minute, domain.TaskCommissionEnforcement, task.OrderID, task.Generation, func(context.Context, domain.ScheduledTask) {
			order = append(order, "enforcement")
		})
	})

	clock.Advance(2 * time.Minute)
	assert.Equal(t, []string{"warning", "enforcement"}, order)
	assert.Equal(t, epoch.Add(2*time.Minute), clock.Now())
}

func TestScheduler_AtPastTimeFiresAfterGrace(t *testing.T) {
	s, clock := newTestScheduler(nil)

	fired := 0
	s.At(context.Background(), epoch.Add(-10*time.Minute), domain.TaskArrivalCheck, 1, 0, func(context.Context, domain.ScheduledTask) { fired++ })
	s.At(context.Background(), epoch.Add(-2*time.Hour), domain.TaskArrivalCheck, 2, 0, func(context.Context, domain.ScheduledTask) { fired++ })

	clock.Advance(DefaultTiming().NearPastDelay)
	assert.Equal(t, 1, fired)

	clock.Advance(DefaultTiming().FarPastDelay)
	assert.Equal(t, 2, fired)
}

func TestScheduler_SaveFailureStillSchedules(t *testing.T) {
	rec := newRecorderStub()
	rec.failSave = true
	s, clock := newTestScheduler(rec)

	fired := false
	s.After(context.Background(), time.Second, domain.TaskAcceptanceCheck, 1, 0, func(context.Context, domain.ScheduledTask) { fired = true })

	clock.Advance(time.Second)
	assert.True(t, fired)
}

func TestScheduler_Recover(t *testing.T) {
	rec := newRecorderStub()
	rec.tasks["a"] = domain.ScheduledTask{ID: "a", Type: domain.TaskCommissionWarning, OrderID: 1, ExecuteAt: epoch.Add(time.Hour), Status: domain.TaskStatusPending}
	rec.tasks["b"] = domain.ScheduledTask{ID: "b", Type: domain.TaskAcceptanceCheck, OrderID: 2, ExecuteAt: epoch.Add(-time.Minute), Status: domain.TaskStatusPending}
	rec.tasks["c"] = domain.ScheduledTask{ID: "c", Type: "unknown", OrderID: 3, ExecuteAt: epoch, Status: domain.TaskStatusPending}
	rec.tasks["d"] = domain.ScheduledTask{ID: "d", Type: domain.TaskArrivalCheck, OrderID: 4, ExecuteAt: epoch, Status: domain.TaskStatusCompleted}

	s, clock := newTestScheduler(rec)

	var fired []string
	n, err := s.Recover(context.Background(), func(task domain.ScheduledTask) Func {
		if task.Type == "unknown" {
			return nil
		}
		return func(_ context.Context, task domain.ScheduledTask) { fired = append(fired, task.ID) }
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.TaskStatusCancelled, rec.status("c"))

	clock.Advance(time.Second)
	assert.Equal(t, []string{"b"}, fired)

	clock.Advance(time.Hour)
	assert.Equal(t, []string{"b", "a"}, fired)
	assert.Equal(t, domain.TaskStatusCompleted, rec.status("a"))
}
