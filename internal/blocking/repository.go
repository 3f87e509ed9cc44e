package blocking

import (
	"context"
	"database/sql"
	"time"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type BlockRepository struct {
	db *sql.DB
}

func NewBlockRepository(db *sql.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

const blockColumns = `id, subject_kind, subject_id, reason, required_payment, order_id, block_until, created_at, unblocked_at`

func (r *BlockRepository) ActiveBlock(ctx context.Context, subject domain.Subject) (*domain.BlockRecord, error) {
	record, err := scanBlock(r.db.QueryRowContext(ctx, `
		SELECT `+blockColumns+`
		FROM account_blocks
		WHERE subject_kind = $1 AND subject_id = $2 AND unblocked_at IS NULL
	`, subject.Kind, subject.ID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

func (r *BlockRepository) CreateBlock(ctx context.Context, record *domain.BlockRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE account_blocks SET unblocked_at = $3
		WHERE subject_kind = $1 AND subject_id = $2 AND unblocked_at IS NULL
	`, record.Subject.Kind, record.Subject.ID, record.CreatedAt)
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO account_blocks (subject_kind, subject_id, reason, required_payment, order_id, block_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, record.Subject.Kind, record.Subject.ID, record.Reason, record.RequiredPayment, nullInt(record.OrderID), nullTime(record.BlockUntil), record.CreatedAt).Scan(&record.ID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *BlockRepository) ClearBlock(ctx context.Context, subject domain.Subject, at time.Time) (*domain.BlockRecord, error) {
	record, err := scanBlock(r.db.QueryRowContext(ctx, `
		UPDATE account_blocks SET unblocked_at = $3
		WHERE subject_kind = $1 AND subject_id = $2 AND unblocked_at IS NULL
		RETURNING `+blockColumns, subject.Kind, subject.ID, at))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

func (r *BlockRepository) History(ctx context.Context, subject domain.Subject) ([]domain.BlockRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+blockColumns+`
		FROM account_blocks
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY created_at DESC, id DESC
	`, subject.Kind, subject.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []domain.BlockRecord
	for rows.Next() {
		record, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (*domain.BlockRecord, error) {
	var (
		record      domain.BlockRecord
		orderID     sql.NullInt64
		until       sql.NullTime
		unblockedAt sql.NullTime
	)
	err := row.Scan(&record.ID, &record.Subject.Kind, &record.Subject.ID, &record.Reason, &record.RequiredPayment,
		&orderID, &until, &record.CreatedAt, &unblockedAt)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		record.OrderID = &orderID.Int64
	}
	if until.Valid {
		record.BlockUntil = &until.Time
	}
	if unblockedAt.Valid {
		record.UnblockedAt = &unblockedAt.Time
	}
	return &record, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
