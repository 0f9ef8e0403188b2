package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderdomain "github.com/agrimarket/payment-service/internal/order/domain"
	"github.com/agrimarket/payment-service/internal/payment/application"
	"github.com/agrimarket/payment-service/internal/payment/domain"
	"github.com/agrimarket/payment-service/internal/payment/infrastructure/mpesa"
)

type memRepo struct {
	payments map[string]domain.Payment
}

func (r *memRepo) PendingExists(_ context.Context, orderID string) (bool, error) {
	for _, p := range r.payments {
		if p.OrderID == orderID && !p.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) CreateWithOutbox(_ context.Context, p domain.Payment, _ string, _ []byte) error {
	r.payments[p.ID] = p
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (domain.Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (r *memRepo) GetByCheckoutRequestID(_ context.Context, id string) (domain.Payment, error) {
	for _, p := range r.payments {
		if p.CheckoutRequestID == id {
			return p, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

func (r *memRepo) FinalizeWithOutbox(_ context.Context, paymentID string, to domain.Status, receipt, resultDesc string, paidAt *time.Time, _ string, _ []byte) (bool, error) {
	p, ok := r.payments[paymentID]
	if !ok || p.Status.Terminal() {
		return false, nil
	}
	p.Status = to
	p.ReceiptNumber = receipt
	p.ResultDescription = resultDesc
	p.PaidAt = paidAt
	r.payments[paymentID] = p
	return true, nil
}

func (r *memRepo) AppendOutbox(context.Context, string, string, []byte) error { return nil }

type memOrders struct {
	orders map[string]orderdomain.Order
}

func (o *memOrders) GetOrder(_ context.Context, id string) (orderdomain.Order, error) {
	ord, ok := o.orders[id]
	if !ok {
		return orderdomain.Order{}, domain.ErrOrderNotFound
	}
	return ord, nil
}

func (o *memOrders) MarkOrderPaid(_ context.Context, id string) error {
	ord, ok := o.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	ord.Status = orderdomain.StatusPaid
	o.orders[id] = ord
	return nil
}

type stubGateway struct {
	pushErr error
	result  mpesa.PushResult
}

func (g *stubGateway) Authenticate(context.Context) (string, error) { return "tok", nil }

func (g *stubGateway) PushPayment(context.Context, string, int64, string, string, string) (mpesa.PushResult, error) {
	if g.pushErr != nil {
		return mpesa.PushResult{}, g.pushErr
	}
	return g.result, nil
}

func newTestServer(t *testing.T, gw *stubGateway) (*httptest.Server, *memRepo) {
	t.Helper()
	repo := &memRepo{payments: map[string]domain.Payment{}}
	orders := &memOrders{orders: map[string]orderdomain.Order{
		"ord-1": {ID: "ord-1", Total: decimal.RequireFromString("250.00"), Status: orderdomain.StatusPlaced},
	}}
	svc := application.NewService(slog.New(slog.DiscardHandler), repo, orders, gw, nil, "254")
	h := NewHandler(slog.New(slog.DiscardHandler), svc)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestInitiateEndpoint(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{result: mpesa.PushResult{
		MerchantRequestID: "mr-1",
		CheckoutRequestID: "ws_CO_1",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}}
	srv, _ := newTestServer(t, gw)

	resp := postJSON(t, srv.URL+"/payments", []byte(`{"order_id":"ord-1","phone_number":"0712345678"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out application.InitiateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ord-1", out.OrderID)
	assert.Equal(t, "ws_CO_1", out.CheckoutRequestID)
	assert.NotEmpty(t, out.PaymentID)
}

func TestInitiateEndpointErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		body       string
		gw         *stubGateway
		wantStatus int
	}{
		{name: "invalid body", body: `{`, gw: &stubGateway{}, wantStatus: http.StatusBadRequest},
		{name: "missing fields", body: `{"order_id":"ord-1"}`, gw: &stubGateway{}, wantStatus: http.StatusBadRequest},
		{name: "unknown order", body: `{"order_id":"nope","phone_number":"0712345678"}`, gw: &stubGateway{}, wantStatus: http.StatusNotFound},
		{name: "bad phone", body: `{"order_id":"ord-1","phone_number":"abc"}`, gw: &stubGateway{}, wantStatus: http.StatusUnprocessableEntity},
		{
			name: "gateway rejected", body: `{"order_id":"ord-1","phone_number":"0712345678"}`,
			gw:         &stubGateway{pushErr: domain.ErrGatewayRejected},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "gateway down", body: `{"order_id":"ord-1","phone_number":"0712345678"}`,
			gw:         &stubGateway{pushErr: domain.ErrGatewayUnavailable},
			wantStatus: http.StatusServiceUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, repo := newTestServer(t, tc.gw)
			resp := postJSON(t, srv.URL+"/payments", []byte(tc.body))
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Empty(t, repo.payments)
		})
	}
}

func TestInitiateEndpointDuplicate(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{result: mpesa.PushResult{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"}}
	srv, _ := newTestServer(t, gw)

	body := []byte(`{"order_id":"ord-1","phone_number":"0712345678"}`)
	resp := postJSON(t, srv.URL+"/payments", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/payments", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCallbackEndpoint(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{result: mpesa.PushResult{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"}}
	srv, repo := newTestServer(t, gw)

	resp := postJSON(t, srv.URL+"/payments", []byte(`{"order_id":"ord-1","phone_number":"0712345678"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var initiated application.InitiateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&initiated))

	cb := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok",
		"CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"Amount","Value":250}]}}}}`
	resp = postJSON(t, srv.URL+"/payments/callback", []byte(cb))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.EqualValues(t, 0, ack["ResultCode"])

	p := repo.payments[initiated.PaymentID]
	assert.Equal(t, domain.StatusPaid, p.Status)
	assert.Equal(t, "NLJ7RT61SV", p.ReceiptNumber)
}

func TestCallbackEndpointUnknownIDStillAcked(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubGateway{})

	cb := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_never","ResultCode":1032,"ResultDesc":"cancelled"}}}`
	resp := postJSON(t, srv.URL+"/payments/callback", []byte(cb))
	// The gateway must not be told to keep retrying a callback we will never match.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCallbackEndpointMalformed(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubGateway{})
	resp := postJSON(t, srv.URL+"/payments/callback", []byte(`garbage`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{result: mpesa.PushResult{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"}}
	srv, _ := newTestServer(t, gw)

	resp := postJSON(t, srv.URL+"/payments", []byte(`{"order_id":"ord-1","phone_number":"0712345678"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var initiated application.InitiateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&initiated))

	got, err := http.Get(srv.URL + "/payments/" + initiated.PaymentID)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var status statusResp
	require.NoError(t, json.NewDecoder(got.Body).Decode(&status))
	assert.Equal(t, initiated.PaymentID, status.PaymentID)
	assert.Equal(t, "pending", status.Status)
	assert.Equal(t, int64(250), status.AmountUnits)

	missing, err := http.Get(srv.URL + "/payments/does-not-exist")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
