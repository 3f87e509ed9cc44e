package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusSearching OrderStatus = "searching"
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusCompleted OrderStatus = "completed"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}

type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodCash PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCard || m == PaymentMethodCash
}

type PaymentStatus string

const (
	PaymentStatusUnpaid              PaymentStatus = "unpaid"
	PaymentStatusPendingVerification PaymentStatus = "pending_verification"
	PaymentStatusPaid                PaymentStatus = "paid"
)

type Order struct {
	ID               int64            `json:"id"`
	CustomerID       int64            `json:"customer_id"`
	ArtisanID        *int64           `json:"artisan_id"`
	Service          string           `json:"service"`
	Subservice       string           `json:"subservice,omitempty"`
	Description      string           `json:"description,omitempty"`
	Latitude         float64          `json:"latitude"`
	Longitude        float64          `json:"longitude"`
	ScheduledTime    string           `json:"scheduled_time,omitempty"`
	Status           OrderStatus      `json:"status"`
	Price            *decimal.Decimal `json:"price"`
	PaymentMethod    *PaymentMethod   `json:"payment_method"`
	PaymentStatus    PaymentStatus    `json:"payment_status"`
	CommissionPaidAt *time.Time       `json:"commission_paid_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CompletedAt      *time.Time       `json:"completed_at"`

	// Phase is the orchestrator's last persisted lifecycle step. It is
	// internal bookkeeping and not part of the public view.
	Phase string `json:"-"`
}

// AssignedTo reports whether artisanID is the order's assigned artisan.
func (o *Order) AssignedTo(artisanID int64) bool {
	return o.ArtisanID != nil && *o.ArtisanID == artisanID
}

// Location is a point used for artisan matching.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (o *Order) Location() Location {
	return Location{Latitude: o.Latitude, Longitude: o.Longitude}
}
