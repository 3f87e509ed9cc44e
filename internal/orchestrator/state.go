package orchestrator

import (
	"context"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type phase string

const (
	phaseSearching        phase = "searching"
	phaseAccepted         phase = "accepted"
	phaseArrivalPrompted  phase = "arrival_prompted"
	phaseAwaitingPresence phase = "awaiting_presence"
	phasePresenceDenied   phase = "presence_denied"
	phaseFinalWarning     phase = "final_warning"
	phaseAwaitingPrice    phase = "awaiting_price"
	phasePriced           phase = "priced"
	phaseAwaitingMethod   phase = "awaiting_payment_method"
	phaseAwaitingPayment  phase = "awaiting_payment"
	phaseAwaitingCash     phase = "awaiting_cash_confirmation"
	phaseCommissionDue    phase = "commission_due"
	phaseCommissionWarned phase = "commission_warned"
)

// taskPhase is the phase an order must be in for a pending task of that type
// to exist. Recovery uses it to rebuild state after a restart.
var taskPhase = map[domain.TaskType]phase{
	domain.TaskAcceptanceCheck:       phaseSearching,
	domain.TaskArrivalCheck:          phaseAccepted,
	domain.TaskNoShowWarning:         phasePresenceDenied,
	domain.TaskPriceReminder:         phaseAwaitingPrice,
	domain.TaskPriceDeadline:         phaseAwaitingPrice,
	domain.TaskPriceEnforcement:      phaseAwaitingPrice,
	domain.TaskCommissionWarning:     phaseCommissionDue,
	domain.TaskCommissionEnforcement: phaseCommissionWarned,
}

type orderState struct {
	phase      phase
	generation uint64
}

// advance moves an order to a new phase under a fresh generation and cancels
// everything still scheduled for it. The generation is bumped before the
// cancel so a task already past its timer sees itself as stale.
func (o *Orchestrator) advance(ctx context.Context, orderID int64, to phase) uint64 {
	o.mu.Lock()
	st, ok := o.states[orderID]
	if !ok {
		st = &orderState{}
		o.states[orderID] = st
	}
	st.generation++
	st.phase = to
	gen := st.generation
	o.mu.Unlock()

	o.scheduler.CancelOrder(orderID)
	o.persist(ctx, orderID, to)
	return gen
}

// setPhase records progress made by a task without invalidating the
// follow-up tasks it schedules under the same generation.
func (o *Orchestrator) setPhase(ctx context.Context, orderID int64, generation uint64, to phase) bool {
	o.mu.Lock()
	st, ok := o.states[orderID]
	current := ok && st.generation == generation
	if current {
		st.phase = to
	}
	o.mu.Unlock()
	if !current {
		return false
	}
	o.persist(ctx, orderID, to)
	return true
}

// persist writes the phase to the order row so a restarted process can tell
// which user events are still valid for an order with nothing scheduled.
func (o *Orchestrator) persist(ctx context.Context, orderID int64, p phase) {
	if err := o.orders.SavePhase(ctx, orderID, string(p)); err != nil {
		o.logger.Warn("failed to persist order phase", "error", err, "order_id", orderID, "phase", p)
	}
}

func (o *Orchestrator) isCurrent(orderID int64, generation uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[orderID]
	return ok && st.generation == generation
}

// forget drops a finished order. Its pending tasks are cancelled and any
// straggler fails the generation check.
func (o *Orchestrator) forget(orderID int64) {
	o.mu.Lock()
	delete(o.states, orderID)
	o.mu.Unlock()
	o.scheduler.CancelOrder(orderID)
}

// allowed reports whether a user event may run in the order's current phase.
// An untracked order (after a restart with nothing pending) is judged by the
// phase stored on its row; an order with no stored phase is refused.
func (o *Orchestrator) allowed(order *domain.Order, phases ...phase) bool {
	o.mu.Lock()
	current := phase(order.Phase)
	if st, ok := o.states[order.ID]; ok {
		current = st.phase
	}
	o.mu.Unlock()
	if current == "" {
		return false
	}
	for _, p := range phases {
		if current == p {
			return true
		}
	}
	return false
}

// restore adopts the generation of a recovered task if it is newer than
// what is in memory.
func (o *Orchestrator) restore(task domain.ScheduledTask) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[task.OrderID]
	if !ok {
		st = &orderState{}
		o.states[task.OrderID] = st
	}
	if task.Generation >= st.generation {
		st.generation = task.Generation
		if p, ok := taskPhase[task.Type]; ok {
			st.phase = p
		}
	}
}
