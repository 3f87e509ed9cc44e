// Package worker turns chat button presses into orchestrator calls.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/artisanflow/internal/domain"
	"github.com/joao-fontenele/artisanflow/internal/orchestrator"
)

type Orchestrator interface {
	AcceptOrder(ctx context.Context, orderID, artisanID int64) (*domain.Order, error)
	DeclineOrder(ctx context.Context, orderID, artisanID int64)
	ConfirmArrival(ctx context.Context, orderID, artisanID int64) error
	ConfirmPresence(ctx context.Context, orderID, customerID int64, present bool) error
	ConfirmFinalPresence(ctx context.Context, orderID, customerID int64, present bool) error
	SubmitPrice(ctx context.Context, orderID, artisanID int64, price decimal.Decimal) error
	AcceptPrice(ctx context.Context, orderID, customerID int64) error
	RejectPrice(ctx context.Context, orderID, customerID int64) error
	ChoosePaymentMethod(ctx context.Context, orderID, customerID int64, method domain.PaymentMethod) error
	SubmitCardReceipt(ctx context.Context, orderID, customerID int64) error
	MarkCashPaid(ctx context.Context, orderID, customerID int64) error
	ConfirmCashReceived(ctx context.Context, orderID, artisanID int64) error
	CancelOrder(ctx context.Context, orderID, customerID int64) error
}

type Notifier interface {
	Send(ctx context.Context, recipientID int64, text string, actions []domain.Action) bool
}

const tryAgainText = "Something went wrong. Please try again later."

type ActionHandler struct {
	orch     Orchestrator
	notifier Notifier
	logger   *slog.Logger
}

func NewActionHandler(orch Orchestrator, notifier Notifier, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{orch: orch, notifier: notifier, logger: logger}
}

// Handle processes one chat action. Outcomes are reported to the user in chat,
// so only undecodable payloads come back as errors.
func (h *ActionHandler) Handle(ctx context.Context, payload []byte) error {
	var action domain.ChatAction
	if err := json.Unmarshal(payload, &action); err != nil {
		return fmt.Errorf("unmarshal chat action: %w", err)
	}

	verb, orderID, err := domain.ParseActionID(action.ActionID)
	if err != nil {
		h.logger.Warn("ignoring malformed chat action", "error", err, "user_id", action.UserID)
		h.reply(ctx, action.UserID, "Sorry, that button is not valid anymore.")
		return nil
	}

	h.logger.Info("processing chat action", "verb", verb, "order_id", orderID, "user_id", action.UserID)

	if err := h.dispatch(ctx, verb, orderID, action); err != nil {
		h.replyError(ctx, action.UserID, orderID, verb, err)
	}
	return nil
}

func (h *ActionHandler) dispatch(ctx context.Context, verb domain.ActionVerb, orderID int64, action domain.ChatAction) error {
	user := action.UserID
	switch verb {
	case domain.VerbAcceptOrder:
		_, err := h.orch.AcceptOrder(ctx, orderID, user)
		return err
	case domain.VerbRejectOrder:
		h.orch.DeclineOrder(ctx, orderID, user)
		return nil
	case domain.VerbArrived:
		return h.orch.ConfirmArrival(ctx, orderID, user)
	case domain.VerbPresenceYes, domain.VerbPresenceNo:
		return h.orch.ConfirmPresence(ctx, orderID, user, verb == domain.VerbPresenceYes)
	case domain.VerbFinalPresenceYes, domain.VerbFinalPresenceNo:
		return h.orch.ConfirmFinalPresence(ctx, orderID, user, verb == domain.VerbFinalPresenceYes)
	case domain.VerbSubmitPrice:
		price, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(action.Payload), ",", "."))
		if err != nil {
			h.reply(ctx, user, "Please send the price as a number, for example 150 or 150.50.")
			return nil
		}
		return h.orch.SubmitPrice(ctx, orderID, user, price)
	case domain.VerbAcceptPrice:
		return h.orch.AcceptPrice(ctx, orderID, user)
	case domain.VerbRejectPrice:
		return h.orch.RejectPrice(ctx, orderID, user)
	case domain.VerbPayCard:
		return h.orch.ChoosePaymentMethod(ctx, orderID, user, domain.PaymentMethodCard)
	case domain.VerbPayCash:
		return h.orch.ChoosePaymentMethod(ctx, orderID, user, domain.PaymentMethodCash)
	case domain.VerbCardReceiptSent:
		return h.orch.SubmitCardReceipt(ctx, orderID, user)
	case domain.VerbCashPaid:
		return h.orch.MarkCashPaid(ctx, orderID, user)
	case domain.VerbCashReceived:
		return h.orch.ConfirmCashReceived(ctx, orderID, user)
	case domain.VerbCancelOrder:
		return h.orch.CancelOrder(ctx, orderID, user)
	default:
		h.logger.Warn("unknown chat action", "verb", verb, "user_id", user)
		h.reply(ctx, user, "Sorry, that button is not valid anymore.")
		return nil
	}
}

func (h *ActionHandler) replyError(ctx context.Context, userID, orderID int64, verb domain.ActionVerb, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrOrderUnavailable), errors.Is(err, orchestrator.ErrAccountBlocked):
		// the orchestrator has already told the user
	case errors.Is(err, orchestrator.ErrOrderNotFound):
		h.reply(ctx, userID, fmt.Sprintf("Order #%d was not found.", orderID))
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		h.reply(ctx, userID, fmt.Sprintf("This action is no longer available for order #%d.", orderID))
	case errors.Is(err, orchestrator.ErrNotAssignedArtisan), errors.Is(err, orchestrator.ErrNotOrderCustomer):
		h.reply(ctx, userID, fmt.Sprintf("Order #%d is not yours.", orderID))
	case errors.Is(err, orchestrator.ErrInvalidPrice):
		h.reply(ctx, userID, "The price must be greater than zero.")
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		h.reply(ctx, userID, "Sorry, that request is not valid.")
	default:
		h.logger.Error("failed to process chat action", "error", err, "verb", verb, "order_id", orderID, "user_id", userID)
		h.reply(ctx, userID, tryAgainText)
	}
}

func (h *ActionHandler) reply(ctx context.Context, userID int64, text string) {
	h.notifier.Send(ctx, userID, text, nil)
}
