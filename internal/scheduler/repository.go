package scheduler

import (
	"context"
	"database/sql"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) SaveTask(ctx context.Context, task domain.ScheduledTask) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, task_type, reference_id, execution_time, generation, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.Type, task.OrderID, task.ExecuteAt, int64(task.Generation), task.Status, task.CreatedAt)
	return err
}

func (r *TaskRepository) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`, status, id)
	return err
}

func (r *TaskRepository) PendingTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_type, reference_id, execution_time, generation, status, created_at
		FROM scheduled_tasks
		WHERE status = 'pending'
		ORDER BY execution_time
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		var task domain.ScheduledTask
		var generation int64
		if err := rows.Scan(&task.ID, &task.Type, &task.OrderID, &task.ExecuteAt, &generation, &task.Status, &task.CreatedAt); err != nil {
			return nil, err
		}
		task.Generation = uint64(generation)
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tasks, nil
}
