package orchestrator

import (
	"context"
	"fmt"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

// onArrivalCheck prompts the artisan at the scheduled time. Silence here is
// not penalised; the no-show path starts only from the customer's answer.
func (o *Orchestrator) onArrivalCheck(ctx context.Context, order *domain.Order, task domain.ScheduledTask) {
	if order.Status != domain.OrderStatusAccepted || order.ArtisanID == nil || order.Price != nil {
		o.logger.Info("arrival check found order already handled", "order_id", order.ID, "status", order.Status)
		return
	}
	o.setPhase(ctx, order.ID, task.Generation, phaseArrivalPrompted)
	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("It is time for order #%d. Have you arrived?", order.ID),
		domain.NewAction("I have arrived", domain.VerbArrived, order.ID))
}

// ConfirmArrival is the artisan reporting on site. The customer is asked to
// confirm.
func (o *Orchestrator) ConfirmArrival(ctx context.Context, orderID, artisanID int64) error {
	order, err := o.load(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusAccepted || order.Price != nil {
		return fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.Status)
	}
	if !order.AssignedTo(artisanID) {
		return ErrNotAssignedArtisan
	}
	if !o.allowed(order, phaseAccepted, phaseArrivalPrompted) {
		return fmt.Errorf("%w: arrival already reported", ErrInvalidTransition)
	}

	o.advance(ctx, orderID, phaseAwaitingPresence)
	o.notify(ctx, order.CustomerID, fmt.Sprintf("The artisan says they have arrived for order #%d. Are they with you?", orderID),
		domain.NewAction("Yes, they are here", domain.VerbPresenceYes, orderID),
		domain.NewAction("No, not here", domain.VerbPresenceNo, orderID))
	o.notify(ctx, artisanID, fmt.Sprintf("Thanks. Waiting for the customer to confirm order #%d.", orderID))
	return nil
}

// ConfirmPresence is the customer's answer to the arrival prompt. A denial
// starts the no-show path with a recheck after the grace period.
func (o *Orchestrator) ConfirmPresence(ctx context.Context, orderID, customerID int64, present bool) error {
	order, err := o.presenceOrder(ctx, orderID, customerID, phaseAwaitingPresence)
	if err != nil {
		return err
	}
	if present {
		o.requestPrice(ctx, order)
		return nil
	}

	gen := o.advance(ctx, orderID, phasePresenceDenied)
	o.schedule(ctx, o.policy.NoShowRecheck, domain.TaskNoShowWarning, orderID, gen)
	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("The customer says you are not at the location for order #%d. They will be asked again in %s.",
		orderID, humanize(o.policy.NoShowRecheck)))
	o.notify(ctx, customerID, fmt.Sprintf("Understood. We will check with you again about order #%d in %s.", orderID, humanize(o.policy.NoShowRecheck)))
	return nil
}

func (o *Orchestrator) onNoShowRecheck(ctx context.Context, order *domain.Order, task domain.ScheduledTask) {
	if order.Status != domain.OrderStatusAccepted || order.Price != nil {
		o.logger.Info("no-show recheck found order already handled", "order_id", order.ID, "status", order.Status)
		return
	}
	o.setPhase(ctx, order.ID, task.Generation, phaseFinalWarning)
	o.notify(ctx, order.CustomerID, fmt.Sprintf("Final check for order #%d: is the artisan with you now? If not, the order will be cancelled and the artisan blocked.", order.ID),
		domain.NewAction("Yes, they are here", domain.VerbFinalPresenceYes, order.ID),
		domain.NewAction("No, still not here", domain.VerbFinalPresenceNo, order.ID))
}

// ConfirmFinalPresence is the customer's answer to the final warning. A
// second denial cancels the order, blocks the artisan and grants the
// customer a discount credit.
func (o *Orchestrator) ConfirmFinalPresence(ctx context.Context, orderID, customerID int64, present bool) error {
	order, err := o.presenceOrder(ctx, orderID, customerID, phaseFinalWarning)
	if err != nil {
		return err
	}
	if present {
		o.requestPrice(ctx, order)
		return nil
	}

	ok, err := o.cancel(ctx, orderID, "no_show", o.orders.CancelUnpriced)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order is no longer active", ErrInvalidTransition)
	}
	o.forget(orderID)

	o.blockArtisan(ctx, order, fmt.Sprintf("no-show on order #%d", orderID), o.policy.NoShowPenalty, "no_show")
	o.logger.Info("discount credit granted", "customer_id", customerID, "order_id", orderID, "amount", money(o.policy.NoShowDiscount))
	o.notify(ctx, customerID, fmt.Sprintf("Order #%d has been cancelled because the artisan did not show up. A discount of %s has been credited to your next order.",
		orderID, money(o.policy.NoShowDiscount)))
	return nil
}

func (o *Orchestrator) presenceOrder(ctx context.Context, orderID, customerID int64, want phase) (*domain.Order, error) {
	order, err := o.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, ErrNotOrderCustomer
	}
	if order.Status != domain.OrderStatusAccepted || order.ArtisanID == nil || order.Price != nil {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.Status)
	}
	if !o.allowed(order, want) {
		return nil, fmt.Errorf("%w: no presence question is open", ErrInvalidTransition)
	}
	return order, nil
}
