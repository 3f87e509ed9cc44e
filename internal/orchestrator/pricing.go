package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

// requestPrice opens the pricing window: a reminder, a last warning and the
// enforcement deadline are armed together under one generation.
func (o *Orchestrator) requestPrice(ctx context.Context, order *domain.Order) {
	gen := o.advance(ctx, order.ID, phaseAwaitingPrice)
	o.schedule(ctx, o.policy.PriceReminder, domain.TaskPriceReminder, order.ID, gen)
	o.schedule(ctx, o.policy.PriceDeadline, domain.TaskPriceDeadline, order.ID, gen)
	o.schedule(ctx, o.policy.PriceEnforcement, domain.TaskPriceEnforcement, order.ID, gen)

	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("The customer confirmed you are on site for order #%d. Please send your price within %s.",
		order.ID, humanize(o.policy.PriceDeadline)))
	o.notify(ctx, order.CustomerID, fmt.Sprintf("Thanks for confirming. The artisan will send the price for order #%d shortly.", order.ID))
}

func (o *Orchestrator) onPriceReminder(ctx context.Context, order *domain.Order, _ domain.ScheduledTask) {
	if !awaitingPrice(order) {
		return
	}
	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("Reminder: the price for order #%d is due in %s.",
		order.ID, humanize(o.policy.PriceDeadline-o.policy.PriceReminder)))
}

func (o *Orchestrator) onPriceDeadline(ctx context.Context, order *domain.Order, _ domain.ScheduledTask) {
	if !awaitingPrice(order) {
		return
	}
	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("Last warning: set the price for order #%d within %s or your account will be blocked.",
		order.ID, humanize(o.policy.PriceEnforcement-o.policy.PriceDeadline)))
}

func (o *Orchestrator) onPriceEnforcement(ctx context.Context, order *domain.Order, _ domain.ScheduledTask) {
	if !awaitingPrice(order) {
		o.logger.Info("price enforcement found price already set", "order_id", order.ID, "status", order.Status)
		return
	}
	ok, err := o.cancel(ctx, order.ID, "price_not_set", o.orders.CancelUnpriced)
	if err != nil {
		o.logger.Error("failed to cancel unpriced order", "error", err, "order_id", order.ID)
		return
	}
	if !ok {
		o.logger.Info("price enforcement lost to a concurrent update", "order_id", order.ID)
		return
	}
	o.forget(order.ID)
	o.blockArtisan(ctx, order, fmt.Sprintf("price not set for order #%d", order.ID), o.policy.PriceNotSetPenalty, "price_not_set")
	o.notify(ctx, order.CustomerID, fmt.Sprintf("Order #%d has been cancelled because the artisan did not set a price.", order.ID))
}

func awaitingPrice(order *domain.Order) bool {
	return order.Status == domain.OrderStatusAccepted && order.Price == nil && order.ArtisanID != nil
}

// SubmitPrice records the artisan's price and asks the customer to approve it.
func (o *Orchestrator) SubmitPrice(ctx context.Context, orderID, artisanID int64, price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	price = price.Round(2)

	order, err := o.load(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.AssignedTo(artisanID) {
		return ErrNotAssignedArtisan
	}
	if !o.allowed(order, phaseAwaitingPrice) {
		return fmt.Errorf("%w: price is not being requested", ErrInvalidTransition)
	}
	ok, err := o.orders.SetOrderPrice(ctx, orderID, price)
	if err != nil {
		return fmt.Errorf("set price: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: price already set or order not active", ErrInvalidTransition)
	}

	o.advance(ctx, orderID, phasePriced)
	o.notify(ctx, order.CustomerID, fmt.Sprintf("The artisan set the price for order #%d: %s.", orderID, money(price)),
		domain.NewAction("Accept price", domain.VerbAcceptPrice, orderID),
		domain.NewAction("Reject price", domain.VerbRejectPrice, orderID))
	o.notify(ctx, artisanID, fmt.Sprintf("Price %s sent to the customer for order #%d.", money(price), orderID))
	return nil
}

func (o *Orchestrator) AcceptPrice(ctx context.Context, orderID, customerID int64) error {
	order, err := o.pricedOrder(ctx, orderID, customerID)
	if err != nil {
		return err
	}
	o.advance(ctx, orderID, phaseAwaitingMethod)
	o.notify(ctx, customerID, fmt.Sprintf("How would you like to pay %s for order #%d?", money(*order.Price), orderID),
		domain.NewAction("Card", domain.VerbPayCard, orderID),
		domain.NewAction("Cash", domain.VerbPayCash, orderID))
	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("The customer accepted your price for order #%d.", orderID))
	return nil
}

// RejectPrice cancels the order. No one is penalised.
func (o *Orchestrator) RejectPrice(ctx context.Context, orderID, customerID int64) error {
	order, err := o.pricedOrder(ctx, orderID, customerID)
	if err != nil {
		return err
	}
	ok, err := o.cancel(ctx, orderID, "price_rejected", o.orders.CancelBeforePayment)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order is no longer active", ErrInvalidTransition)
	}
	o.forget(orderID)
	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("The customer rejected your price for order #%d. The order has been cancelled.", orderID))
	o.notify(ctx, customerID, fmt.Sprintf("Order #%d has been cancelled.", orderID))
	return nil
}

func (o *Orchestrator) pricedOrder(ctx context.Context, orderID, customerID int64) (*domain.Order, error) {
	order, err := o.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, ErrNotOrderCustomer
	}
	if order.Status != domain.OrderStatusAccepted || order.Price == nil || order.PaymentMethod != nil {
		return nil, fmt.Errorf("%w: no price awaiting approval", ErrInvalidTransition)
	}
	if !o.allowed(order, phasePriced) {
		return nil, fmt.Errorf("%w: price already answered", ErrInvalidTransition)
	}
	return order, nil
}
