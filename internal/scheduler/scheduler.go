// Package scheduler runs cancellable, order-scoped delayed tasks and keeps a
// record of them so pending work can be replayed after a restart.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

// TaskRecorder persists task state transitions. Implementations must be safe
// for concurrent use.
type TaskRecorder interface {
	SaveTask(ctx context.Context, task domain.ScheduledTask) error
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) error
	PendingTasks(ctx context.Context) ([]domain.ScheduledTask, error)
}

// Func is the body of a scheduled task.
type Func func(ctx context.Context, task domain.ScheduledTask)

type Scheduler struct {
	clock    Clock
	timing   Timing
	recorder TaskRecorder
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*Handle
	byOrder map[int64]map[string]*Handle
}

// Handle cancels a single scheduled task.
type Handle struct {
	s     *Scheduler
	task  domain.ScheduledTask
	fn    Func
	ctx   context.Context
	timer Timer
}

func (h *Handle) Task() domain.ScheduledTask { return h.task }

// Cancel stops the task if it has not started. It reports whether the task
// was still pending.
func (h *Handle) Cancel() bool {
	if !h.s.detach(h) {
		return false
	}
	h.timer.Stop()
	h.s.record(h.ctx, h.task.ID, domain.TaskStatusCancelled)
	return true
}

func New(clock Clock, timing Timing, recorder TaskRecorder, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{
		clock:    clock,
		timing:   timing,
		recorder: recorder,
		logger:   logger,
		pending:  make(map[string]*Handle),
		byOrder:  make(map[int64]map[string]*Handle),
	}
}

func (s *Scheduler) Now() time.Time { return s.clock.Now() }

func (s *Scheduler) Timing() Timing { return s.timing }

// After schedules fn to run once d has elapsed.
func (s *Scheduler) After(ctx context.Context, d time.Duration, taskType domain.TaskType, orderID int64, generation uint64, fn Func) *Handle {
	now := s.clock.Now()
	task := domain.ScheduledTask{
		ID:         uuid.New().String(),
		Type:       taskType,
		OrderID:    orderID,
		ExecuteAt:  now.Add(d),
		Generation: generation,
		Status:     domain.TaskStatusPending,
		CreatedAt:  now,
	}
	if err := s.save(ctx, task); err != nil {
		s.logger.Warn("failed to record scheduled task", "error", err, "task_id", task.ID, "task_type", task.Type, "order_id", orderID)
	}
	return s.arm(ctx, task, d, fn)
}

// At schedules fn for an absolute time, applying the stale-schedule rules
// when at is already in the past.
func (s *Scheduler) At(ctx context.Context, at time.Time, taskType domain.TaskType, orderID int64, generation uint64, fn Func) *Handle {
	delay, reason := s.timing.DelayFor(at, s.clock.Now())
	if reason != WakeOnTime {
		s.logger.Warn("execution time already passed", "task_type", taskType, "order_id", orderID, "execute_at", at, "reason", reason, "delay", delay)
	}
	return s.After(ctx, delay, taskType, orderID, generation, fn)
}

// CancelOrder cancels every pending task of an order and returns how many
// were stopped.
func (s *Scheduler) CancelOrder(orderID int64) int {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.byOrder[orderID]))
	for _, h := range s.byOrder[orderID] {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	cancelled := 0
	for _, h := range handles {
		if h.Cancel() {
			cancelled++
		}
	}
	return cancelled
}

// Pending lists the not-yet-fired tasks of an order.
func (s *Scheduler) Pending(orderID int64) []domain.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := make([]domain.ScheduledTask, 0, len(s.byOrder[orderID]))
	for _, h := range s.byOrder[orderID] {
		tasks = append(tasks, h.task)
	}
	return tasks
}

// Recover re-arms tasks that were pending when the process stopped. resolve
// maps a task to its body; tasks it returns nil for are marked cancelled.
func (s *Scheduler) Recover(ctx context.Context, resolve func(domain.ScheduledTask) Func) (int, error) {
	if s.recorder == nil {
		return 0, nil
	}
	tasks, err := s.recorder.PendingTasks(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	recovered := 0
	for _, task := range tasks {
		fn := resolve(task)
		if fn == nil {
			s.record(ctx, task.ID, domain.TaskStatusCancelled)
			continue
		}
		delay, reason := s.timing.DelayFor(task.ExecuteAt, now)
		s.logger.Info("recovering scheduled task", "task_id", task.ID, "task_type", task.Type, "order_id", task.OrderID, "delay", delay, "reason", reason)
		s.arm(ctx, task, delay, fn)
		recovered++
	}
	return recovered, nil
}

func (s *Scheduler) arm(ctx context.Context, task domain.ScheduledTask, d time.Duration, fn Func) *Handle {
	h := &Handle{s: s, task: task, fn: fn, ctx: context.WithoutCancel(ctx)}

	s.mu.Lock()
	s.pending[task.ID] = h
	if s.byOrder[task.OrderID] == nil {
		s.byOrder[task.OrderID] = make(map[string]*Handle)
	}
	s.byOrder[task.OrderID][task.ID] = h
	h.timer = s.clock.AfterFunc(d, func() { s.fire(h) })
	s.mu.Unlock()

	return h
}

func (s *Scheduler) fire(h *Handle) {
	if !s.detach(h) {
		return
	}
	h.fn(h.ctx, h.task)
	s.record(h.ctx, h.task.ID, domain.TaskStatusCompleted)
}

func (s *Scheduler) detach(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[h.task.ID]; !ok {
		return false
	}
	delete(s.pending, h.task.ID)
	if tasks := s.byOrder[h.task.OrderID]; tasks != nil {
		delete(tasks, h.task.ID)
		if len(tasks) == 0 {
			delete(s.byOrder, h.task.OrderID)
		}
	}
	return true
}

func (s *Scheduler) save(ctx context.Context, task domain.ScheduledTask) error {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.SaveTask(ctx, task)
}

func (s *Scheduler) record(ctx context.Context, id string, status domain.TaskStatus) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.UpdateTaskStatus(ctx, id, status); err != nil {
		s.logger.Warn("failed to update scheduled task", "error", err, "task_id", id, "status", status)
	}
}
