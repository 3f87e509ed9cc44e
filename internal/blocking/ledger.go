// Package blocking keeps the block/unblock ledger for customer and artisan
// accounts.
package blocking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

var ErrInvalidBlock = errors.New("invalid block request")

// Store persists block records. CreateBlock must close any active record of
// the subject and insert the new one atomically.
type Store interface {
	ActiveBlock(ctx context.Context, subject domain.Subject) (*domain.BlockRecord, error)
	CreateBlock(ctx context.Context, record *domain.BlockRecord) error
	ClearBlock(ctx context.Context, subject domain.Subject, at time.Time) (*domain.BlockRecord, error)
	History(ctx context.Context, subject domain.Subject) ([]domain.BlockRecord, error)
}

type BlockRequest struct {
	Subject         domain.Subject
	Reason          string
	RequiredPayment decimal.Decimal
	OrderID         *int64
	Until           *time.Time
}

type Status struct {
	Blocked         bool            `json:"is_blocked"`
	Reason          string          `json:"reason,omitempty"`
	RequiredPayment decimal.Decimal `json:"required_payment"`
	OrderID         *int64          `json:"order_id,omitempty"`
	Until           *time.Time      `json:"until,omitempty"`
}

type Ledger struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewLedger(store Store, now func() time.Time, logger *slog.Logger) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{store: store, now: now, logger: logger}
}

// Block opens a new active record for the subject, superseding any existing
// one.
func (l *Ledger) Block(ctx context.Context, req BlockRequest) (*domain.BlockRecord, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidBlock)
	}
	if req.RequiredPayment.IsNegative() {
		return nil, fmt.Errorf("%w: required payment must not be negative", ErrInvalidBlock)
	}
	if req.Subject.ID <= 0 {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidBlock)
	}

	record := &domain.BlockRecord{
		Subject:         req.Subject,
		Reason:          reason,
		RequiredPayment: req.RequiredPayment.Round(2),
		OrderID:         req.OrderID,
		BlockUntil:      req.Until,
		CreatedAt:       l.now(),
	}
	if err := l.store.CreateBlock(ctx, record); err != nil {
		return nil, fmt.Errorf("create block for %s: %w", req.Subject, err)
	}

	l.logger.Info("account blocked", "subject", req.Subject.String(), "reason", reason, "required_payment", record.RequiredPayment.StringFixed(2))
	return record, nil
}

// Status reads the active block of a subject. A block whose Until has passed
// reads as not blocked.
func (l *Ledger) Status(ctx context.Context, subject domain.Subject) (Status, error) {
	record, err := l.store.ActiveBlock(ctx, subject)
	if err != nil {
		return Status{}, fmt.Errorf("read block for %s: %w", subject, err)
	}
	if record == nil {
		return Status{}, nil
	}
	if record.BlockUntil != nil && !record.BlockUntil.After(l.now()) {
		return Status{}, nil
	}
	return Status{
		Blocked:         true,
		Reason:          record.Reason,
		RequiredPayment: record.RequiredPayment,
		OrderID:         record.OrderID,
		Until:           record.BlockUntil,
	}, nil
}

// Unblock closes the active record. It reports false when nothing was active.
func (l *Ledger) Unblock(ctx context.Context, subject domain.Subject) (bool, error) {
	record, err := l.store.ClearBlock(ctx, subject, l.now())
	if err != nil {
		return false, fmt.Errorf("clear block for %s: %w", subject, err)
	}
	if record == nil {
		return false, nil
	}
	l.logger.Info("account unblocked", "subject", subject.String(), "block_id", record.ID)
	return true, nil
}

func (l *Ledger) History(ctx context.Context, subject domain.Subject) ([]domain.BlockRecord, error) {
	return l.store.History(ctx, subject)
}
