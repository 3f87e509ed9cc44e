package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/artisanflow/internal/commission"
	"github.com/joao-fontenele/artisanflow/internal/domain"
	"github.com/joao-fontenele/artisanflow/internal/matching"
	"github.com/joao-fontenele/artisanflow/internal/orchestrator"
)

type Orchestrator interface {
	CreateOrder(ctx context.Context, req orchestrator.CreateOrderRequest) (*domain.Order, matching.Result, error)
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
	VerifyCardPayment(ctx context.Context, orderID int64) error
	MarkCashPaid(ctx context.Context, orderID, customerID int64) error
	ConfirmCashReceived(ctx context.Context, orderID, artisanID int64) error
	SettleCommission(ctx context.Context, orderID int64) error
	CancelOrder(ctx context.Context, orderID, customerID int64) error
	Commission(price decimal.Decimal) (commission.Breakdown, error)
	Phase(orderID int64) string
	PendingTasks(orderID int64) []domain.ScheduledTask
}

type Reader interface {
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	List(ctx context.Context, statuses []domain.OrderStatus, limit int) ([]domain.Order, error)
}

type Handler struct {
	orch   Orchestrator
	orders Reader
	logger *slog.Logger
}

func NewHandler(orch Orchestrator, orders Reader, logger *slog.Logger) *Handler {
	return &Handler{
		orch:   orch,
		orders: orders,
		logger: logger,
	}
}

type createOrderResponse struct {
	Order   *domain.Order `json:"order"`
	Invited inviteSummary `json:"invited"`
}

type inviteSummary struct {
	Candidates int `json:"candidates"`
	Delivered  int `json:"delivered"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, result, err := h.orch.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeOrchestratorError(w, err, "create order", 0)
		return
	}

	h.writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:   order,
		Invited: inviteSummary{Candidates: result.Candidates, Delivered: result.Delivered},
	})
}

type orderView struct {
	*domain.Order
	Phase        string                 `json:"phase,omitempty"`
	PendingTasks []domain.ScheduledTask `json:"pending_tasks"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, h.view(order))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, domain.OrderStatus(strings.TrimSpace(s)))
		}
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	orders, err := h.orders.List(r.Context(), statuses, limit)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

// actionRequest is the body shared by the order action endpoints. Each
// endpoint reads the fields it needs.
type actionRequest struct {
	ArtisanID  int64                `json:"artisan_id"`
	CustomerID int64                `json:"customer_id"`
	Present    *bool                `json:"present"`
	Price      *decimal.Decimal     `json:"price"`
	Method     domain.PaymentMethod `json:"payment_method"`
}

type actionFunc func(ctx context.Context, orderID int64, req actionRequest) error

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "accept order", func(ctx context.Context, id int64, req actionRequest) error {
		_, err := h.orch.AcceptOrder(ctx, id, req.ArtisanID)
		return err
	})
}

func (h *Handler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "decline order", func(ctx context.Context, id int64, req actionRequest) error {
		h.orch.DeclineOrder(ctx, id, req.ArtisanID)
		return nil
	})
}

func (h *Handler) HandleArrival(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "confirm arrival", func(ctx context.Context, id int64, req actionRequest) error {
		return h.orch.ConfirmArrival(ctx, id, req.ArtisanID)
	})
}

func (h *Handler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "confirm presence", func(ctx context.Context, id int64, req actionRequest) error {
		if req.Present == nil {
			return errPresentRequired
		}
		return h.orch.ConfirmPresence(ctx, id, req.CustomerID, *req.Present)
	})
}

func (h *Handler) HandleFinalPresence(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "confirm final presence", func(ctx context.Context, id int64, req actionRequest) error {
		if req.Present == nil {
			return errPresentRequired
		}
		return h.orch.ConfirmFinalPresence(ctx, id, req.CustomerID, *req.Present)
	})
}

func (h *Handler) HandleSubmitPrice(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "submit price", func(ctx context.Context, id int64, req actionRequest) error {
		if req.Price == nil {
			return orchestrator.ErrInvalidPrice
		}
		return h.orch.SubmitPrice(ctx, id, req.ArtisanID, *req.Price)
	})
}

func (h *Handler) HandleAcceptPrice(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "accept price", func(ctx context.Context, id int64, req actionRequest) error {
		return h.orch.AcceptPrice(ctx, id, req.CustomerID)
	})
}

func (h *Handler) HandleRejectPrice(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "reject price", func(ctx context.Context, id int64, req actionRequest) error {
		return h.orch.RejectPrice(ctx, id, req.CustomerID)
	})
}

func (h *Handler) HandlePaymentMethod(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "choose payment method", func(ctx context.Context, id int64, req actionRequest) error {
		return h.orch.ChoosePaymentMethod(ctx, id, req.CustomerID, req.Method)
	})
}

func (h *Handler) HandleCardReceipt(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "submit card receipt", func(ctx context.Context, id int64, req actionRequest) error {
		return h.orch.SubmitCardReceipt(ctx, id, req.CustomerID)
	})
}

func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "verify card payment", func(ctx context.Context, id int64, _ actionRequest) error {
		return h.orch.VerifyCardPayment(ctx, id)
	})
}

func (h *Handler) HandleCashPaid(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "mark cash paid", func(ctx context.Context, id int64, req actionRequest) error {
		return h.orch.MarkCashPaid(ctx, id, req.CustomerID)
	})
}

func (h *Handler) HandleCashReceived(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "confirm cash received", func(ctx context.Context, id int64, req actionRequest) error {
		return h.orch.ConfirmCashReceived(ctx, id, req.ArtisanID)
	})
}

func (h *Handler) HandleSettleCommission(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "settle commission", func(ctx context.Context, id int64, _ actionRequest) error {
		return h.orch.SettleCommission(ctx, id)
	})
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "cancel order", func(ctx context.Context, id int64, req actionRequest) error {
		return h.orch.CancelOrder(ctx, id, req.CustomerID)
	})
}

// HandleCommissionQuote answers GET /commission?price=.
func (h *Handler) HandleCommissionQuote(w http.ResponseWriter, r *http.Request) {
	price, err := decimal.NewFromString(r.URL.Query().Get("price"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "price must be a number")
		return
	}

	breakdown, err := h.orch.Commission(price)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, breakdown)
}

var errPresentRequired = errors.New("present is required")

// act decodes the shared action body, runs fn and answers with the
// refreshed order.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, name string, fn actionFunc) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := fn(r.Context(), id, req); err != nil {
		if errors.Is(err, errPresentRequired) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeOrchestratorError(w, err, name, id)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil || order == nil {
		h.logger.Error("failed to reload order", "error", err, "order_id", id)
		h.writeJSON(w, http.StatusOK, map[string]int64{"id": id})
		return
	}

	h.logger.Info("order action applied", "action", name, "order_id", id, "status", order.Status)
	h.writeJSON(w, http.StatusOK, h.view(order))
}

func (h *Handler) view(order *domain.Order) orderView {
	tasks := h.orch.PendingTasks(order.ID)
	if tasks == nil {
		tasks = []domain.ScheduledTask{}
	}
	phase := h.orch.Phase(order.ID)
	if phase == "" && !order.Status.Terminal() {
		phase = order.Phase
	}
	return orderView{Order: order, Phase: phase, PendingTasks: tasks}
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeOrchestratorError(w http.ResponseWriter, err error, action string, orderID int64) {
	switch {
	case errors.Is(err, orchestrator.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrOrderUnavailable), errors.Is(err, orchestrator.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrNotAssignedArtisan),
		errors.Is(err, orchestrator.ErrNotOrderCustomer),
		errors.Is(err, orchestrator.ErrAccountBlocked):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidPrice), errors.Is(err, orchestrator.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("failed to "+action, "error", err, "order_id", orderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error, please try again later")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
