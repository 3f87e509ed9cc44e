package orders

import "net/http"

// Register mounts the order API on mux. wrap decorates every handler, e.g.
// with route tagging for tracing.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	if wrap == nil {
		wrap = func(f http.HandlerFunc) http.HandlerFunc { return f }
	}
	mux.HandleFunc("GET /orders", wrap(h.HandleList))
	mux.HandleFunc("POST /orders", wrap(h.HandleCreate))
	mux.HandleFunc("GET /orders/{id}", wrap(h.HandleGet))
	mux.HandleFunc("POST /orders/{id}/accept", wrap(h.HandleAccept))
	mux.HandleFunc("POST /orders/{id}/decline", wrap(h.HandleDecline))
	mux.HandleFunc("POST /orders/{id}/arrival", wrap(h.HandleArrival))
	mux.HandleFunc("POST /orders/{id}/presence", wrap(h.HandlePresence))
	mux.HandleFunc("POST /orders/{id}/final-presence", wrap(h.HandleFinalPresence))
	mux.HandleFunc("POST /orders/{id}/price", wrap(h.HandleSubmitPrice))
	mux.HandleFunc("POST /orders/{id}/price/accept", wrap(h.HandleAcceptPrice))
	mux.HandleFunc("POST /orders/{id}/price/reject", wrap(h.HandleRejectPrice))
	mux.HandleFunc("POST /orders/{id}/payment-method", wrap(h.HandlePaymentMethod))
	mux.HandleFunc("POST /orders/{id}/card-receipt", wrap(h.HandleCardReceipt))
	mux.HandleFunc("POST /orders/{id}/payment/verify", wrap(h.HandleVerifyPayment))
	mux.HandleFunc("POST /orders/{id}/cash-paid", wrap(h.HandleCashPaid))
	mux.HandleFunc("POST /orders/{id}/cash-received", wrap(h.HandleCashReceived))
	mux.HandleFunc("POST /orders/{id}/commission/settle", wrap(h.HandleSettleCommission))
	mux.HandleFunc("POST /orders/{id}/cancel", wrap(h.HandleCancel))
	mux.HandleFunc("GET /commission", wrap(h.HandleCommissionQuote))
}
