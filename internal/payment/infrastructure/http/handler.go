package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/agrimarket/payment-service/internal/payment/application"
	"github.com/agrimarket/payment-service/internal/payment/domain"
	"github.com/agrimarket/payment-service/internal/payment/infrastructure/mpesa"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	// The gateway's retry budget is finite; the callback route must never
	// surface a panic as a 500.
	r.Use(middleware.Recoverer)

	r.Post("/payments", h.initiate)
	r.Post("/payments/callback", h.callback)
	r.Get("/payments/{id}", h.status)

	return r
}

type initiateReq struct {
	OrderID          string `json:"order_id"`
	PhoneNumber      string `json:"phone_number"`
	AccountReference string `json:"account_reference"`
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "InitiatePayment")
	defer span.End()

	var req initiateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.OrderID == "" || req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "order_id and phone_number are required")
		return
	}
	if req.AccountReference == "" {
		req.AccountReference = req.OrderID
	}

	resp, err := h.service.Initiate(ctx, req.OrderID, req.PhoneNumber, req.AccountReference)
	if err != nil {
		h.log.Warn("initiate failed", "order_id", req.OrderID, "err", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// callbackAck is the acknowledgement shape the gateway expects. It means
// "ingested", not "payment succeeded".
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ProcessCallback")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.service.ProcessCallback(ctx, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
	case errors.Is(err, mpesa.ErrMalformedCallback):
		writeError(w, http.StatusBadRequest, "malformed callback")
	case errors.Is(err, domain.ErrPaymentNotFound):
		// A checkout id this system never issued: replay or forgery. Ack so
		// the gateway stops retrying; nothing was mutated.
		h.log.Warn("callback for unknown payment acknowledged")
		writeJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
	default:
		h.log.Error("callback processing failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, callbackAck{ResultCode: 1, ResultDesc: "Internal error"})
	}
}

type statusResp struct {
	PaymentID       string     `json:"payment_id"`
	OrderID         string     `json:"order_id"`
	Status          string     `json:"status"`
	AmountUnits     int64      `json:"amount_units"`
	TransactionCode string     `json:"transaction_code,omitempty"`
	PhoneNumber     string     `json:"phone_number"`
	Description     string     `json:"description,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetPaymentStatus")
	defer span.End()

	p, err := h.service.GetStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResp{
		PaymentID:       p.ID,
		OrderID:         p.OrderID,
		Status:          string(p.Status),
		AmountUnits:     p.AmountUnits,
		TransactionCode: p.ReceiptNumber,
		PhoneNumber:     p.PhoneNumber,
		Description:     p.ResultDescription,
		CreatedAt:       p.CreatedAt,
		PaidAt:          p.PaidAt,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPaymentAlreadyPending):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidPhoneNumber), errors.Is(err, domain.ErrOrderNotPayable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGatewayAuth), errors.Is(err, domain.ErrGatewayProtocol), errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
