package domain

import "time"

type TaskType string

const (
	TaskAcceptanceCheck       TaskType = "acceptance_check"
	TaskArrivalCheck          TaskType = "arrival_check"
	TaskNoShowWarning         TaskType = "no_show_warning"
	TaskPriceReminder         TaskType = "price_reminder"
	TaskPriceDeadline         TaskType = "price_deadline"
	TaskPriceEnforcement      TaskType = "price_enforcement"
	TaskCommissionWarning     TaskType = "commission_warning"
	TaskCommissionEnforcement TaskType = "commission_enforcement"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// ScheduledTask is the durable description of a delayed lifecycle step.
type ScheduledTask struct {
	ID         string     `json:"id"`
	Type       TaskType   `json:"task_type"`
	OrderID    int64      `json:"reference_id"`
	ExecuteAt  time.Time  `json:"execution_time"`
	Generation uint64     `json:"generation"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}
