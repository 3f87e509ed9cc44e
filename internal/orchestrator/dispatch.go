package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/joao-fontenele/artisanflow/internal/domain"
	"github.com/joao-fontenele/artisanflow/internal/matching"
	"github.com/joao-fontenele/artisanflow/internal/scheduler"
)

type CreateOrderRequest struct {
	CustomerID    int64   `json:"customer_id"`
	Service       string  `json:"service"`
	Subservice    string  `json:"subservice"`
	Description   string  `json:"description"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	ScheduledTime string  `json:"scheduled_time"`
}

// CreateOrder stores a new searching order, arms the acceptance timeout and
// invites nearby artisans. A failed fan-out leaves the order searching until
// the timeout cancels it.
func (o *Orchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, matching.Result, error) {
	if req.CustomerID <= 0 || strings.TrimSpace(req.Service) == "" {
		return nil, matching.Result{}, fmt.Errorf("%w: customer_id and service are required", ErrInvalidRequest)
	}
	if err := o.checkBlocked(ctx, domain.CustomerSubject(req.CustomerID)); err != nil {
		return nil, matching.Result{}, err
	}

	now := o.now()
	order := &domain.Order{
		CustomerID:    req.CustomerID,
		Service:       strings.TrimSpace(req.Service),
		Subservice:    strings.TrimSpace(req.Subservice),
		Description:   req.Description,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		ScheduledTime: strings.TrimSpace(req.ScheduledTime),
		Status:        domain.OrderStatusSearching,
		PaymentStatus: domain.PaymentStatusUnpaid,
		CreatedAt:     now,
	}
	if err := o.orders.CreateOrder(ctx, order); err != nil {
		return nil, matching.Result{}, fmt.Errorf("create order: %w", err)
	}

	gen := o.advance(ctx, order.ID, phaseSearching)
	o.schedule(ctx, o.policy.AcceptanceWindow, domain.TaskAcceptanceCheck, order.ID, gen)

	result, err := o.inviter.Invite(ctx, order)
	if err != nil {
		o.logger.Error("failed to invite artisans", "error", err, "order_id", order.ID)
	}
	o.logger.Info("order created", "order_id", order.ID, "customer_id", order.CustomerID,
		"candidates", result.Candidates, "delivered", result.Delivered)
	return order, result, nil
}

func (o *Orchestrator) onAcceptanceTimeout(ctx context.Context, order *domain.Order, _ domain.ScheduledTask) {
	if order.Status != domain.OrderStatusSearching {
		o.logger.Info("acceptance check found order already handled", "order_id", order.ID, "status", order.Status)
		return
	}
	ok, err := o.cancel(ctx, order.ID, "no_acceptance", o.cancelSearching)
	if err != nil {
		o.logger.Error("failed to cancel unaccepted order", "error", err, "order_id", order.ID)
		return
	}
	if !ok {
		return
	}
	o.forget(order.ID)
	o.notify(ctx, order.CustomerID, fmt.Sprintf("No artisan accepted order #%d in time, so it has been cancelled. You can place a new order at any time.", order.ID))
}

// AcceptOrder assigns the order to the first artisan who accepts it. Every
// later acceptance gets ErrOrderUnavailable.
func (o *Orchestrator) AcceptOrder(ctx context.Context, orderID, artisanID int64) (*domain.Order, error) {
	if _, err := o.load(ctx, orderID); err != nil {
		return nil, err
	}
	if err := o.checkBlocked(ctx, domain.ArtisanSubject(artisanID)); err != nil {
		o.notify(ctx, artisanID, fmt.Sprintf("You cannot take orders while your account is blocked: %v", err))
		return nil, err
	}

	ok, err := o.orders.AssignArtisan(ctx, orderID, artisanID)
	if err != nil {
		return nil, fmt.Errorf("assign artisan: %w", err)
	}
	if !ok {
		o.notify(ctx, artisanID, fmt.Sprintf("Order #%d is no longer available.", orderID))
		return nil, fmt.Errorf("%w: %d", ErrOrderUnavailable, orderID)
	}

	gen := o.advance(ctx, orderID, phaseAccepted)
	order, err := o.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	timing := o.scheduler.Timing()
	if at, ok := timing.ParseTime(order.ScheduledTime); ok {
		o.track(o.scheduler.At(ctx, at, domain.TaskArrivalCheck, orderID, gen, o.wake(domain.TaskArrivalCheck)))
	} else {
		o.logger.Warn("arrival check not at scheduled time", "order_id", orderID,
			"scheduled_time", order.ScheduledTime, "reason", scheduler.WakeFallback, "delay", timing.FallbackDelay)
		o.schedule(ctx, timing.FallbackDelay, domain.TaskArrivalCheck, orderID, gen)
	}

	o.notify(ctx, order.CustomerID, fmt.Sprintf("Artisan #%d accepted order #%d and will come at %s.", artisanID, orderID, when(order)),
		domain.NewAction("Cancel order", domain.VerbCancelOrder, orderID))
	o.notify(ctx, artisanID, fmt.Sprintf("Order #%d is yours. Be there at %s and press the button when you arrive.", orderID, when(order)),
		domain.NewAction("I have arrived", domain.VerbArrived, orderID))
	o.logger.Info("order accepted", "order_id", orderID, "artisan_id", artisanID)
	return order, nil
}

// DeclineOrder only logs that an invited artisan passed on the order.
// Declines are not recorded and the order keeps searching.
func (o *Orchestrator) DeclineOrder(_ context.Context, orderID, artisanID int64) {
	o.logger.Info("invitation declined", "order_id", orderID, "artisan_id", artisanID)
}

// CancelOrder lets the customer withdraw an order before a payment method is
// chosen.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, customerID int64) error {
	order, err := o.load(ctx, orderID)
	if err != nil {
		return err
	}
	if order.CustomerID != customerID {
		return ErrNotOrderCustomer
	}
	if order.PaymentMethod != nil {
		return fmt.Errorf("%w: payment already under way", ErrInvalidTransition)
	}
	ok, err := o.cancel(ctx, orderID, "customer", o.orders.CancelBeforePayment)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order is no longer cancellable", ErrInvalidTransition)
	}
	o.forget(orderID)

	o.notify(ctx, customerID, fmt.Sprintf("Order #%d has been cancelled.", orderID))
	if order.ArtisanID != nil {
		o.notify(ctx, *order.ArtisanID, fmt.Sprintf("The customer cancelled order #%d.", orderID))
	}
	return nil
}

func when(order *domain.Order) string {
	if order.ScheduledTime == "" {
		return "the agreed time"
	}
	return order.ScheduledTime
}
