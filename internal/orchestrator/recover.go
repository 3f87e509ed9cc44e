package orchestrator

import (
	"context"
	"fmt"

	"github.com/joao-fontenele/artisanflow/internal/domain"
	"github.com/joao-fontenele/artisanflow/internal/scheduler"
)

// Recover re-arms the tasks that were pending when the process stopped and
// rebuilds each order's generation from them. Overdue tasks fire right away
// and still go through the usual re-read of the order.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	n, err := o.scheduler.Recover(ctx, func(task domain.ScheduledTask) scheduler.Func {
		if _, ok := o.handlers[task.Type]; !ok {
			o.logger.Warn("dropping task of unknown type", "task_id", task.ID, "task_type", task.Type)
			return nil
		}
		o.restore(task)
		return o.wake(task.Type)
	})
	if err != nil {
		return n, fmt.Errorf("recover tasks: %w", err)
	}
	o.logger.Info("scheduled tasks recovered", "count", n)
	return n, nil
}
