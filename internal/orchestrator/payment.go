package orchestrator

import (
	"context"
	"fmt"

	"github.com/joao-fontenele/artisanflow/internal/commission"
	"github.com/joao-fontenele/artisanflow/internal/domain"
)

func (o *Orchestrator) ChoosePaymentMethod(ctx context.Context, orderID, customerID int64, method domain.PaymentMethod) error {
	if !method.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, method)
	}
	order, err := o.load(ctx, orderID)
	if err != nil {
		return err
	}
	if order.CustomerID != customerID {
		return ErrNotOrderCustomer
	}
	if !o.allowed(order, phaseAwaitingMethod) {
		return fmt.Errorf("%w: price not accepted yet", ErrInvalidTransition)
	}
	ok, err := o.orders.UpdatePaymentMethod(ctx, orderID, method)
	if err != nil {
		return fmt.Errorf("set payment method: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: payment method already chosen or order not priced", ErrInvalidTransition)
	}
	o.advance(ctx, orderID, phaseAwaitingPayment)

	amount := money(*order.Price)
	switch method {
	case domain.PaymentMethodCard:
		o.notify(ctx, customerID, fmt.Sprintf("Please transfer %s to card %s for order #%d, then press the button below.", amount, o.paymentCard, orderID),
			domain.NewAction("Receipt sent", domain.VerbCardReceiptSent, orderID))
		o.notify(ctx, *order.ArtisanID, fmt.Sprintf("The customer will pay %s by card for order #%d.", amount, orderID))
	case domain.PaymentMethodCash:
		o.notify(ctx, customerID, fmt.Sprintf("Please pay %s in cash to the artisan for order #%d, then press the button below.", amount, orderID),
			domain.NewAction("I have paid", domain.VerbCashPaid, orderID))
		o.notify(ctx, *order.ArtisanID, fmt.Sprintf("The customer will pay %s in cash for order #%d. Confirm once you receive it.", amount, orderID),
			domain.NewAction("Cash received", domain.VerbCashReceived, orderID))
	}
	return nil
}

// SubmitCardReceipt puts a card payment up for admin verification.
func (o *Orchestrator) SubmitCardReceipt(ctx context.Context, orderID, customerID int64) error {
	order, err := o.paymentOrder(ctx, orderID, domain.PaymentMethodCard)
	if err != nil {
		return err
	}
	if order.CustomerID != customerID {
		return ErrNotOrderCustomer
	}
	ok, err := o.orders.UpdatePaymentStatus(ctx, orderID, domain.PaymentStatusUnpaid, domain.PaymentStatusPendingVerification)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: receipt already submitted", ErrInvalidTransition)
	}

	for _, admin := range o.admins {
		o.notify(ctx, admin, fmt.Sprintf("Card payment of %s for order #%d is waiting for verification.", money(*order.Price), orderID))
	}
	o.notify(ctx, customerID, fmt.Sprintf("Thanks. Your payment for order #%d is being verified.", orderID))
	return nil
}

// VerifyCardPayment is the admin confirming a card transfer. The platform
// holds the money, so the order completes with commission settled.
func (o *Orchestrator) VerifyCardPayment(ctx context.Context, orderID int64) error {
	order, err := o.paymentOrder(ctx, orderID, domain.PaymentMethodCard)
	if err != nil {
		return err
	}
	if order.PaymentStatus != domain.PaymentStatusPendingVerification {
		return fmt.Errorf("%w: no receipt to verify", ErrInvalidTransition)
	}
	breakdown, err := o.calc.Compute(*order.Price)
	if err != nil {
		return fmt.Errorf("compute commission: %w", err)
	}
	now := o.now()
	ok, err := o.orders.CompleteOrder(ctx, orderID, now)
	if err != nil {
		return fmt.Errorf("complete order: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: order is no longer active", ErrInvalidTransition)
	}
	if _, err := o.orders.MarkCommissionPaid(ctx, orderID, now); err != nil {
		o.logger.Error("failed to mark card commission settled", "error", err, "order_id", orderID)
	}
	o.forget(orderID)

	o.notify(ctx, order.CustomerID, fmt.Sprintf("Payment confirmed. Order #%d is complete, thank you!", orderID))
	o.notify(ctx, *order.ArtisanID, payoutText(orderID, breakdown))
	o.logger.Info("order completed", "order_id", orderID, "payment_method", domain.PaymentMethodCard,
		"price", money(breakdown.Price), "admin_fee", money(breakdown.AdminFee))
	return nil
}

// MarkCashPaid is the customer reporting a cash handover. The artisan is asked
// to confirm receipt.
func (o *Orchestrator) MarkCashPaid(ctx context.Context, orderID, customerID int64) error {
	order, err := o.paymentOrder(ctx, orderID, domain.PaymentMethodCash)
	if err != nil {
		return err
	}
	if order.CustomerID != customerID {
		return ErrNotOrderCustomer
	}
	ok, err := o.orders.UpdatePaymentStatus(ctx, orderID, domain.PaymentStatusUnpaid, domain.PaymentStatusPendingVerification)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: cash payment already reported", ErrInvalidTransition)
	}
	o.advance(ctx, orderID, phaseAwaitingCash)

	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("The customer says they paid %s in cash for order #%d. Please confirm.", money(*order.Price), orderID),
		domain.NewAction("Cash received", domain.VerbCashReceived, orderID))
	o.notify(ctx, customerID, fmt.Sprintf("Thanks. Waiting for the artisan to confirm your payment for order #%d.", orderID))
	return nil
}

// ConfirmCashReceived completes a cash order. The artisan now owes the
// platform its commission, and the commission deadline starts.
func (o *Orchestrator) ConfirmCashReceived(ctx context.Context, orderID, artisanID int64) error {
	order, err := o.paymentOrder(ctx, orderID, domain.PaymentMethodCash)
	if err != nil {
		return err
	}
	if !order.AssignedTo(artisanID) {
		return ErrNotAssignedArtisan
	}
	breakdown, err := o.calc.Compute(*order.Price)
	if err != nil {
		return fmt.Errorf("compute commission: %w", err)
	}
	ok, err := o.orders.CompleteOrder(ctx, orderID, o.now())
	if err != nil {
		return fmt.Errorf("complete order: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: order is no longer active", ErrInvalidTransition)
	}

	gen := o.advance(ctx, orderID, phaseCommissionDue)
	o.schedule(ctx, o.policy.CommissionWarning, domain.TaskCommissionWarning, orderID, gen)

	o.notify(ctx, order.CustomerID, fmt.Sprintf("Order #%d is complete, thank you!", orderID))
	o.notify(ctx, artisanID, fmt.Sprintf("Order #%d is complete. Please pay the platform commission of %s (%s%% of %s) within %s.",
		orderID, money(breakdown.AdminFee), breakdown.RatePercent.String(), money(breakdown.Price), humanize(o.policy.CommissionWarning)))
	o.logger.Info("order completed", "order_id", orderID, "payment_method", domain.PaymentMethodCash,
		"price", money(breakdown.Price), "admin_fee", money(breakdown.AdminFee))
	return nil
}

func (o *Orchestrator) onCommissionWarning(ctx context.Context, order *domain.Order, task domain.ScheduledTask) {
	if !commissionOwed(order) {
		o.logger.Info("commission warning found commission settled", "order_id", order.ID)
		return
	}
	breakdown, err := o.calc.Compute(*order.Price)
	if err != nil {
		o.logger.Error("failed to compute commission", "error", err, "order_id", order.ID)
		return
	}
	fine, total := o.calc.LateFine(breakdown.AdminFee)

	o.setPhase(ctx, order.ID, task.Generation, phaseCommissionWarned)
	o.schedule(ctx, o.policy.CommissionEnforcement, domain.TaskCommissionEnforcement, order.ID, task.Generation)
	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("The commission of %s for order #%d is overdue. A fine of %s has been added: pay %s within %s or your account will be blocked.",
		money(breakdown.AdminFee), order.ID, money(fine), money(total), humanize(o.policy.CommissionEnforcement)))
}

func (o *Orchestrator) onCommissionEnforcement(ctx context.Context, order *domain.Order, _ domain.ScheduledTask) {
	if !commissionOwed(order) {
		o.logger.Info("commission enforcement found commission settled", "order_id", order.ID)
		return
	}
	breakdown, err := o.calc.Compute(*order.Price)
	if err != nil {
		o.logger.Error("failed to compute commission", "error", err, "order_id", order.ID)
		return
	}
	_, total := o.calc.LateFine(breakdown.AdminFee)
	o.blockArtisan(ctx, order, fmt.Sprintf("commission unpaid for order #%d", order.ID), total, "commission_unpaid")
}

func commissionOwed(order *domain.Order) bool {
	return order.Status == domain.OrderStatusCompleted &&
		order.CommissionPaidAt == nil &&
		order.Price != nil &&
		order.ArtisanID != nil
}

// SettleCommission records the artisan's commission payment. It stops the
// deadline and lifts the block that the same order caused, if any.
func (o *Orchestrator) SettleCommission(ctx context.Context, orderID int64) error {
	order, err := o.load(ctx, orderID)
	if err != nil {
		return err
	}
	if order.ArtisanID == nil {
		return fmt.Errorf("%w: order has no artisan", ErrInvalidTransition)
	}
	ok, err := o.orders.MarkCommissionPaid(ctx, orderID, o.now())
	if err != nil {
		return fmt.Errorf("mark commission paid: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: commission already settled or order not completed", ErrInvalidTransition)
	}
	o.forget(orderID)

	subject := domain.ArtisanSubject(*order.ArtisanID)
	status, err := o.ledger.Status(ctx, subject)
	if err != nil {
		o.logger.Error("failed to read block status", "error", err, "order_id", orderID)
	} else if status.Blocked && status.OrderID != nil && *status.OrderID == orderID {
		if _, err := o.ledger.Unblock(ctx, subject); err != nil {
			o.logger.Error("failed to lift commission block", "error", err, "order_id", orderID)
		}
	}
	o.notify(ctx, *order.ArtisanID, fmt.Sprintf("Commission for order #%d received. Thank you!", orderID))
	return nil
}

func (o *Orchestrator) paymentOrder(ctx context.Context, orderID int64, method domain.PaymentMethod) (*domain.Order, error) {
	order, err := o.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusAccepted || order.Price == nil || order.ArtisanID == nil {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.Status)
	}
	if order.PaymentMethod == nil || *order.PaymentMethod != method {
		return nil, fmt.Errorf("%w: order is not paid by %s", ErrInvalidTransition, method)
	}
	return order, nil
}

func payoutText(orderID int64, b commission.Breakdown) string {
	return fmt.Sprintf("Order #%d is complete. Price %s, platform fee %s (%s%%), your payout %s.",
		orderID, money(b.Price), money(b.AdminFee), b.RatePercent.String(), money(b.ArtisanAmount))
}
