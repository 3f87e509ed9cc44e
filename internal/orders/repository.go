package orders

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

// OrderRepository stores orders in Postgres. Every mutation is a single
// conditional UPDATE so concurrent callers race on the row, not in memory.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, customer_id, artisan_id, service, subservice, description, latitude, longitude,
	scheduled_time, status, price, payment_method, payment_status, commission_paid_at,
	created_at, updated_at, completed_at, phase`

func (r *OrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO orders (customer_id, service, subservice, description, latitude, longitude,
			scheduled_time, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id
	`, order.CustomerID, order.Service, order.Subservice, order.Description, order.Latitude, order.Longitude,
		order.ScheduledTime, order.Status, order.PaymentStatus, order.CreatedAt).Scan(&order.ID)
}

func (r *OrderRepository) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, statuses []domain.OrderStatus, limit int) ([]domain.Order, error) {
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2
	`, pq.Array(filter), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, id int64, to domain.OrderStatus, from ...domain.OrderStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	return r.exec(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, pq.Array(allowed))
}

// AssignArtisan is the first-accept-wins compare-and-set.
func (r *OrderRepository) AssignArtisan(ctx context.Context, id, artisanID int64) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET artisan_id = $2, status = 'accepted', updated_at = NOW()
		WHERE id = $1 AND status = 'searching' AND artisan_id IS NULL
	`, id, artisanID)
}

func (r *OrderRepository) SetOrderPrice(ctx context.Context, id int64, price decimal.Decimal) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET price = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'accepted' AND price IS NULL
	`, id, price)
}

func (r *OrderRepository) UpdatePaymentMethod(ctx context.Context, id int64, method domain.PaymentMethod) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET payment_method = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'accepted' AND price IS NOT NULL AND payment_method IS NULL
	`, id, method)
}

func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, id int64, from, to domain.PaymentStatus) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET payment_status = $3, updated_at = NOW()
		WHERE id = $1 AND payment_status = $2 AND status = 'accepted'
	`, id, from, to)
}

func (r *OrderRepository) CompleteOrder(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET status = 'completed', payment_status = 'paid', completed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'accepted' AND price IS NOT NULL AND payment_method IS NOT NULL
	`, id, at)
}

func (r *OrderRepository) MarkCommissionPaid(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET commission_paid_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'completed' AND commission_paid_at IS NULL
	`, id, at)
}

// CancelUnpriced cancels an accepted order only while it still has no price.
func (r *OrderRepository) CancelUnpriced(ctx context.Context, id int64) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'accepted' AND price IS NULL
	`, id)
}

// CancelBeforePayment cancels an active order only while no payment method
// has been chosen.
func (r *OrderRepository) CancelBeforePayment(ctx context.Context, id int64) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('searching', 'accepted') AND payment_method IS NULL
	`, id)
}

// SavePhase stores the orchestrator's lifecycle step. It does not touch
// updated_at.
func (r *OrderRepository) SavePhase(ctx context.Context, id int64, phase string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET phase = $2 WHERE id = $1`, id, phase)
	return err
}

func (r *OrderRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order            domain.Order
		artisanID        sql.NullInt64
		price            decimal.NullDecimal
		paymentMethod    sql.NullString
		commissionPaidAt sql.NullTime
		completedAt      sql.NullTime
	)
	err := row.Scan(&order.ID, &order.CustomerID, &artisanID, &order.Service, &order.Subservice, &order.Description,
		&order.Latitude, &order.Longitude, &order.ScheduledTime, &order.Status, &price, &paymentMethod,
		&order.PaymentStatus, &commissionPaidAt, &order.CreatedAt, &order.UpdatedAt, &completedAt, &order.Phase)
	if err != nil {
		return nil, err
	}
	if artisanID.Valid {
		order.ArtisanID = &artisanID.Int64
	}
	if price.Valid {
		order.Price = &price.Decimal
	}
	if paymentMethod.Valid {
		method := domain.PaymentMethod(paymentMethod.String)
		order.PaymentMethod = &method
	}
	if commissionPaidAt.Valid {
		order.CommissionPaidAt = &commissionPaidAt.Time
	}
	if completedAt.Valid {
		order.CompletedAt = &completedAt.Time
	}
	return &order, nil
}
