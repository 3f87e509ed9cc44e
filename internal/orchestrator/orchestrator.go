// Package orchestrator drives an order from creation to completion. Every
// waiting step is a scheduled task guarded by a per-order generation: any
// state-changing event bumps the generation and cancels the order's pending
// tasks, and every task re-reads the order before acting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/artisanflow/internal/blocking"
	"github.com/joao-fontenele/artisanflow/internal/commission"
	"github.com/joao-fontenele/artisanflow/internal/domain"
	"github.com/joao-fontenele/artisanflow/internal/matching"
	"github.com/joao-fontenele/artisanflow/internal/scheduler"
)

var tracer = otel.Tracer("orchestrator")

// OrderStore is the record store. Every mutation is a conditional update that
// reports whether it was applied.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	TransitionStatus(ctx context.Context, id int64, to domain.OrderStatus, from ...domain.OrderStatus) (bool, error)
	AssignArtisan(ctx context.Context, id, artisanID int64) (bool, error)
	SetOrderPrice(ctx context.Context, id int64, price decimal.Decimal) (bool, error)
	UpdatePaymentMethod(ctx context.Context, id int64, method domain.PaymentMethod) (bool, error)
	UpdatePaymentStatus(ctx context.Context, id int64, from, to domain.PaymentStatus) (bool, error)
	CompleteOrder(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkCommissionPaid(ctx context.Context, id int64, at time.Time) (bool, error)
	CancelUnpriced(ctx context.Context, id int64) (bool, error)
	CancelBeforePayment(ctx context.Context, id int64) (bool, error)
	SavePhase(ctx context.Context, id int64, phase string) error
}

type Ledger interface {
	Block(ctx context.Context, req blocking.BlockRequest) (*domain.BlockRecord, error)
	Status(ctx context.Context, subject domain.Subject) (blocking.Status, error)
	Unblock(ctx context.Context, subject domain.Subject) (bool, error)
}

type Notifier interface {
	Send(ctx context.Context, recipientID int64, text string, actions []domain.Action) bool
}

type Inviter interface {
	Invite(ctx context.Context, order *domain.Order) (matching.Result, error)
}

// Policy holds the business deadlines and amounts. They apply to every order.
type Policy struct {
	AcceptanceWindow      time.Duration
	NoShowRecheck         time.Duration
	PriceReminder         time.Duration
	PriceDeadline         time.Duration
	PriceEnforcement      time.Duration
	CommissionWarning     time.Duration
	CommissionEnforcement time.Duration
	NoShowPenalty         decimal.Decimal
	PriceNotSetPenalty    decimal.Decimal
	NoShowDiscount        decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		AcceptanceWindow:      60 * time.Second,
		NoShowRecheck:         5 * time.Minute,
		PriceReminder:         25 * time.Minute,
		PriceDeadline:         30 * time.Minute,
		PriceEnforcement:      35 * time.Minute,
		CommissionWarning:     24 * time.Hour,
		CommissionEnforcement: 6 * time.Hour,
		NoShowPenalty:         decimal.NewFromInt(30),
		PriceNotSetPenalty:    decimal.NewFromInt(30),
		NoShowDiscount:        decimal.NewFromInt(10),
	}
}

type Deps struct {
	Orders      OrderStore
	Ledger      Ledger
	Notifier    Notifier
	Inviter     Inviter
	Scheduler   *scheduler.Scheduler
	Calculator  *commission.Calculator
	Policy      Policy
	PaymentCard string
	Admins      []int64
	Logger      *slog.Logger
}

type Orchestrator struct {
	orders      OrderStore
	ledger      Ledger
	notifier    Notifier
	inviter     Inviter
	scheduler   *scheduler.Scheduler
	calc        *commission.Calculator
	policy      Policy
	paymentCard string
	admins      []int64
	logger      *slog.Logger
	handlers    map[domain.TaskType]taskHandler
	metrics     metricSet

	mu     sync.Mutex
	states map[int64]*orderState
}

// taskHandler runs after the generation check and a fresh read of the order.
type taskHandler func(ctx context.Context, order *domain.Order, task domain.ScheduledTask)

func New(deps Deps) (*Orchestrator, error) {
	if deps.Orders == nil {
		return nil, errors.New("orchestrator: order store is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("orchestrator: ledger is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("orchestrator: notifier is required")
	}
	if deps.Inviter == nil {
		return nil, errors.New("orchestrator: inviter is required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("orchestrator: scheduler is required")
	}
	calc := deps.Calculator
	if calc == nil {
		calc = commission.NewDefaultCalculator()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		orders:      deps.Orders,
		ledger:      deps.Ledger,
		notifier:    deps.Notifier,
		inviter:     deps.Inviter,
		scheduler:   deps.Scheduler,
		calc:        calc,
		policy:      deps.Policy,
		paymentCard: deps.PaymentCard,
		admins:      deps.Admins,
		logger:      logger,
		metrics:     newMetricSet(),
		states:      make(map[int64]*orderState),
	}
	o.handlers = map[domain.TaskType]taskHandler{
		domain.TaskAcceptanceCheck:       o.onAcceptanceTimeout,
		domain.TaskArrivalCheck:          o.onArrivalCheck,
		domain.TaskNoShowWarning:         o.onNoShowRecheck,
		domain.TaskPriceReminder:         o.onPriceReminder,
		domain.TaskPriceDeadline:         o.onPriceDeadline,
		domain.TaskPriceEnforcement:      o.onPriceEnforcement,
		domain.TaskCommissionWarning:     o.onCommissionWarning,
		domain.TaskCommissionEnforcement: o.onCommissionEnforcement,
	}
	return o, nil
}

// Phase reports the in-memory lifecycle phase of an order, or "" when the
// orchestrator is not tracking it.
func (o *Orchestrator) Phase(orderID int64) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.states[orderID]; ok {
		return string(st.phase)
	}
	return ""
}

// PendingTasks lists the scheduled tasks still waiting for an order.
func (o *Orchestrator) PendingTasks(orderID int64) []domain.ScheduledTask {
	return o.scheduler.Pending(orderID)
}

// Commission quotes the fee split for a price.
func (o *Orchestrator) Commission(price decimal.Decimal) (commission.Breakdown, error) {
	return o.calc.Compute(price)
}

func (o *Orchestrator) now() time.Time { return o.scheduler.Now() }

func (o *Orchestrator) load(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := o.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// schedule arms a lifecycle task for the given generation.
func (o *Orchestrator) schedule(ctx context.Context, d time.Duration, taskType domain.TaskType, orderID int64, generation uint64) {
	o.track(o.scheduler.After(ctx, d, taskType, orderID, generation, o.wake(taskType)))
}

func (o *Orchestrator) track(h *scheduler.Handle) {
	task := h.Task()
	o.logger.Debug("task scheduled", "task_id", task.ID, "task_type", task.Type, "order_id", task.OrderID,
		"generation", task.Generation, "execute_at", task.ExecuteAt)
}

// wake wraps a task handler with the stale-state guard: a task whose
// generation is no longer current, or whose order is gone, does nothing.
func (o *Orchestrator) wake(taskType domain.TaskType) scheduler.Func {
	handler := o.handlers[taskType]
	return func(ctx context.Context, task domain.ScheduledTask) {
		ctx, span := tracer.Start(ctx, "task "+string(task.Type),
			trace.WithAttributes(
				attribute.Int64("order.id", task.OrderID),
				attribute.String("task.id", task.ID),
				attribute.Int64("task.generation", int64(task.Generation)),
			),
		)
		defer span.End()

		if !o.isCurrent(task.OrderID, task.Generation) {
			o.logger.Info("stale task skipped", "task_type", task.Type, "order_id", task.OrderID, "generation", task.Generation)
			o.metrics.taskOutcome(ctx, task.Type, "stale")
			return
		}

		order, err := o.orders.GetOrder(ctx, task.OrderID)
		if err != nil {
			o.logger.Error("failed to load order for task", "error", err, "task_type", task.Type, "order_id", task.OrderID)
			span.RecordError(err)
			o.metrics.taskOutcome(ctx, task.Type, "error")
			return
		}
		if order == nil {
			o.logger.Info("order not found for task", "task_type", task.Type, "order_id", task.OrderID)
			o.forget(task.OrderID)
			o.metrics.taskOutcome(ctx, task.Type, "not_found")
			return
		}

		handler(ctx, order, task)
		o.metrics.taskOutcome(ctx, task.Type, "fired")
	}
}

func (o *Orchestrator) notify(ctx context.Context, recipientID int64, text string, actions ...domain.Action) bool {
	if o.notifier.Send(ctx, recipientID, text, actions) {
		return true
	}
	o.logger.Warn("notification not delivered", "recipient_id", recipientID)
	return false
}

// block records an enforcement block for the order's artisan. A failed write
// is logged and reported as not applied.
func (o *Orchestrator) blockArtisan(ctx context.Context, order *domain.Order, reason string, amount decimal.Decimal, kind string) bool {
	if order.ArtisanID == nil {
		return false
	}
	orderID := order.ID
	_, err := o.ledger.Block(ctx, blocking.BlockRequest{
		Subject:         domain.ArtisanSubject(*order.ArtisanID),
		Reason:          reason,
		RequiredPayment: amount,
		OrderID:         &orderID,
	})
	if err != nil {
		o.logger.Error("failed to block artisan", "error", err, "order_id", order.ID, "artisan_id", *order.ArtisanID, "reason", reason)
		return false
	}
	o.metrics.blocked(ctx, kind)
	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("Your account has been blocked: %s. Pay %s to restore access.", reason, money(amount)))
	return true
}

// cancelFunc is a conditional store update that moves an order to cancelled
// only while the facts the caller relied on still hold.
type cancelFunc func(ctx context.Context, id int64) (bool, error)

// cancel runs a conditional cancel and records it when it applied.
func (o *Orchestrator) cancel(ctx context.Context, orderID int64, cause string, cas cancelFunc) (bool, error) {
	ok, err := cas(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	if ok {
		o.metrics.cancelled(ctx, cause)
		o.logger.Info("order cancelled", "order_id", orderID, "cause", cause)
	}
	return ok, nil
}

func (o *Orchestrator) cancelSearching(ctx context.Context, id int64) (bool, error) {
	return o.orders.TransitionStatus(ctx, id, domain.OrderStatusCancelled, domain.OrderStatusSearching)
}

func (o *Orchestrator) checkBlocked(ctx context.Context, subject domain.Subject) error {
	status, err := o.ledger.Status(ctx, subject)
	if err != nil {
		return fmt.Errorf("check block status: %w", err)
	}
	if status.Blocked {
		return fmt.Errorf("%w: %s (pay %s)", ErrAccountBlocked, status.Reason, money(status.RequiredPayment))
	}
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type metricSet struct {
	tasks  metric.Int64Counter
	blocks metric.Int64Counter
	orders metric.Int64Counter
}

func newMetricSet() metricSet {
	meter := otel.Meter("orchestrator")
	tasks, _ := meter.Int64Counter("artisanflow.tasks",
		metric.WithDescription("Lifecycle tasks woken, by type and outcome"))
	blocks, _ := meter.Int64Counter("artisanflow.blocks",
		metric.WithDescription("Enforcement blocks created"))
	cancelled, _ := meter.Int64Counter("artisanflow.orders.cancelled",
		metric.WithDescription("Orders cancelled, by cause"))
	return metricSet{tasks: tasks, blocks: blocks, orders: cancelled}
}

func (m metricSet) taskOutcome(ctx context.Context, taskType domain.TaskType, outcome string) {
	m.tasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_type", string(taskType)),
		attribute.String("outcome", outcome),
	))
}

func (m metricSet) blocked(ctx context.Context, kind string) {
	m.blocks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", kind)))
}

func (m metricSet) cancelled(ctx context.Context, cause string) {
	m.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

// humanize renders a policy duration for chat text, e.g. "5 minutes".
func humanize(d time.Duration) string {
	unit, n := "", int64(0)
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		unit, n = "hour", int64(d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		unit, n = "minute", int64(d/time.Minute)
	default:
		return d.String()
	}
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
