package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	orderdomain "github.com/agrimarket/payment-service/internal/order/domain"
	"github.com/agrimarket/payment-service/internal/payment/domain"
	"github.com/agrimarket/payment-service/internal/payment/infrastructure/mpesa"
)

type Service struct {
	log           *slog.Logger
	repo          PaymentRepository
	orders        OrderGateway
	gateway       StkGateway
	dedup         CallbackDeduper
	countryPrefix string
}

func NewService(log *slog.Logger, repo PaymentRepository, orders OrderGateway, gateway StkGateway, dedup CallbackDeduper, countryPrefix string) *Service {
	if countryPrefix == "" {
		countryPrefix = domain.DefaultCountryPrefix
	}
	return &Service{
		log:           log,
		repo:          repo,
		orders:        orders,
		gateway:       gateway,
		dedup:         dedup,
		countryPrefix: countryPrefix,
	}
}

type InitiateResponse struct {
	PaymentID           string `json:"payment_id"`
	OrderID             string `json:"order_id"`
	CheckoutRequestID   string `json:"checkout_request_id"`
	MerchantRequestID   string `json:"merchant_request_id"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
	CustomerMessage     string `json:"customer_message"`
}

// Initiate pushes a payment prompt for the order to the payer's phone.
// All input validation happens before the gateway is contacted, and no
// payment row is written unless the push was accepted: from the caller's
// side the operation is all-or-nothing.
func (s *Service) Initiate(ctx context.Context, orderID, rawPhone, reference string) (InitiateResponse, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return InitiateResponse{}, err
	}
	if order.Status != orderdomain.StatusPlaced {
		return InitiateResponse{}, fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotPayable, orderID, order.Status)
	}

	pending, err := s.repo.PendingExists(ctx, orderID)
	if err != nil {
		return InitiateResponse{}, err
	}
	if pending {
		return InitiateResponse{}, domain.ErrPaymentAlreadyPending
	}

	phone, err := domain.NormalizePhone(rawPhone, s.countryPrefix)
	if err != nil {
		return InitiateResponse{}, err
	}

	amount := domain.AmountFromTotal(order.Total)
	if amount < 1 {
		return InitiateResponse{}, fmt.Errorf("%w: order total %s is below one currency unit", domain.ErrOrderNotPayable, order.Total)
	}

	token, err := s.gateway.Authenticate(ctx)
	if err != nil {
		return InitiateResponse{}, err
	}
	push, err := s.gateway.PushPayment(ctx, token, amount, phone, reference, "Order "+orderID)
	if err != nil {
		return InitiateResponse{}, err
	}

	p := domain.NewPayment(orderID, amount, phone, push.MerchantRequestID, push.CheckoutRequestID, push.ResponseDescription)
	payload, err := json.Marshal(domain.PaymentInitiated{
		PaymentID:         p.ID,
		OrderID:           p.OrderID,
		AmountUnits:       p.AmountUnits,
		CheckoutRequestID: p.CheckoutRequestID,
	})
	if err != nil {
		return InitiateResponse{}, err
	}
	if err := s.repo.CreateWithOutbox(ctx, p, domain.EventPaymentInitiated, payload); err != nil {
		return InitiateResponse{}, err
	}

	s.log.Info("payment initiated",
		"payment_id", p.ID, "order_id", orderID, "amount", amount,
		"checkout_request_id", p.CheckoutRequestID)
	return InitiateResponse{
		PaymentID:           p.ID,
		OrderID:             p.OrderID,
		CheckoutRequestID:   p.CheckoutRequestID,
		MerchantRequestID:   p.MerchantRequestID,
		ResponseCode:        push.ResponseCode,
		ResponseDescription: push.ResponseDescription,
		CustomerMessage:     push.CustomerMessage,
	}, nil
}

// ProcessCallback applies the gateway's asynchronous result exactly once.
// Replayed deliveries for a payment already in a terminal state are
// acknowledged without re-applying side effects; callbacks for checkout ids
// this system never issued fail with domain.ErrPaymentNotFound and mutate
// nothing.
func (s *Service) ProcessCallback(ctx context.Context, raw []byte) error {
	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		return err
	}

	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, cb.CheckoutRequestID)
		if err != nil {
			s.log.Warn("callback dedup check failed", "checkout_request_id", cb.CheckoutRequestID, "err", err)
		} else if seen {
			s.log.Info("duplicate callback skipped", "checkout_request_id", cb.CheckoutRequestID)
			return nil
		}
	}

	p, err := s.repo.GetByCheckoutRequestID(ctx, cb.CheckoutRequestID)
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		s.log.Info("callback for settled payment ignored",
			"payment_id", p.ID, "status", p.Status, "checkout_request_id", cb.CheckoutRequestID)
		s.markSeen(ctx, cb.CheckoutRequestID)
		return nil
	}

	if !cb.Success() {
		payload, _ := json.Marshal(domain.PaymentFailed{
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			Reason:    cb.ResultDesc,
		})
		applied, err := s.repo.FinalizeWithOutbox(ctx, p.ID, domain.StatusFailed, "", cb.ResultDesc, nil, domain.EventPaymentFailed, payload)
		if err != nil {
			return err
		}
		if applied {
			s.log.Info("payment failed", "payment_id", p.ID, "order_id", p.OrderID,
				"result_code", cb.ResultCode, "result_desc", cb.ResultDesc)
		}
		s.markSeen(ctx, cb.CheckoutRequestID)
		return nil
	}

	paidAt := time.Now().UTC()
	payload, _ := json.Marshal(domain.PaymentPaid{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		AmountUnits:   p.AmountUnits,
		ReceiptNumber: cb.ReceiptNumber,
		PaidAt:        paidAt,
	})
	applied, err := s.repo.FinalizeWithOutbox(ctx, p.ID, domain.StatusPaid, cb.ReceiptNumber, cb.ResultDesc, &paidAt, domain.EventPaymentPaid, payload)
	if err != nil {
		return err
	}
	if !applied {
		// A concurrent delivery won; its winner already drove the order edge.
		s.log.Info("callback lost transition race", "payment_id", p.ID, "checkout_request_id", cb.CheckoutRequestID)
		s.markSeen(ctx, cb.CheckoutRequestID)
		return nil
	}
	s.log.Info("payment settled", "payment_id", p.ID, "order_id", p.OrderID, "receipt", cb.ReceiptNumber)

	if err := s.orders.MarkOrderPaid(ctx, p.OrderID); err != nil {
		// The money moved but the order did not. Flag for reconciliation;
		// never fail the callback over it, the gateway would just retry.
		s.log.Error("order transition failed after payment settled",
			"payment_id", p.ID, "order_id", p.OrderID, "receipt", cb.ReceiptNumber, "err", err)
		recPayload, _ := json.Marshal(domain.PaymentReconcile{
			PaymentID:     p.ID,
			OrderID:       p.OrderID,
			ReceiptNumber: cb.ReceiptNumber,
			Reason:        err.Error(),
		})
		if rerr := s.repo.AppendOutbox(ctx, p.ID, domain.EventPaymentReconcile, recPayload); rerr != nil {
			s.log.Error("reconciliation event write failed", "payment_id", p.ID, "err", rerr)
		}
	}
	s.markSeen(ctx, cb.CheckoutRequestID)
	return nil
}

// GetStatus is a pure read of a payment projection.
func (s *Service) GetStatus(ctx context.Context, paymentID string) (domain.Payment, error) {
	return s.repo.GetByID(ctx, paymentID)
}

func (s *Service) markSeen(ctx context.Context, checkoutRequestID string) {
	if s.dedup == nil {
		return
	}
	if err := s.dedup.MarkSeen(ctx, checkoutRequestID); err != nil {
		s.log.Warn("callback dedup mark failed", "checkout_request_id", checkoutRequestID, "err", err)
	}
}
