package mpesa

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrimarket/payment-service/internal/payment/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testCreds(authURL, pushURL string) Credentials {
	return Credentials{
		ShortCode:      "174379",
		Passkey:        "bfb279f9aa9bdbcf",
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		CallbackURL:    "https://example.com/payments/callback",
		AuthURL:        authURL,
		STKPushURL:     pushURL,
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "ck", user)
		assert.Equal(t, "cs", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-123", "expires_in": "3599"})
	}))
	defer srv.Close()

	c := NewClient(discardLogger(), testCreds(srv.URL, srv.URL), time.Second, time.Second)
	token, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	t.Parallel()

	c := NewClient(discardLogger(), Credentials{}, time.Second, time.Second)
	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, domain.ErrGatewayAuth)
}

func TestAuthenticateEmptyBodyOn200(t *testing.T) {
	t.Parallel()

	// Known gateway failure mode: 200 with nothing usable in the body. Must
	// classify as a protocol violation, not success and not outage.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(discardLogger(), testCreds(srv.URL, srv.URL), time.Second, time.Second)
	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, domain.ErrGatewayProtocol)
}

func TestAuthenticateRejectedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(discardLogger(), testCreds(srv.URL, srv.URL), time.Second, time.Second)
	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, domain.ErrGatewayAuth)
}

func TestAuthenticateTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(discardLogger(), testCreds(srv.URL, srv.URL), time.Second, time.Second)
	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestPushPayment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var req stkPushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "174379", req.BusinessShortCode)
		assert.Equal(t, "174379", req.PartyB)
		assert.Equal(t, int64(250), req.Amount)
		assert.Equal(t, "254712345678", req.PhoneNumber)
		assert.Equal(t, "CustomerPayBillOnline", req.TransactionType)
		assert.Equal(t, "ORD-1", req.AccountReference)
		assert.NotEmpty(t, req.Password)
		assert.Len(t, req.Timestamp, 14)

		_ = json.NewEncoder(w).Encode(stkPushResponse{
			MerchantRequestID:   "mr-9",
			CheckoutRequestID:   "ws_CO_9",
			ResponseCode:        "0",
			ResponseDescription: "Success. Request accepted for processing",
			CustomerMessage:     "Success. Request accepted for processing",
		})
	}))
	defer srv.Close()

	c := NewClient(discardLogger(), testCreds(srv.URL, srv.URL), time.Second, time.Second)
	res, err := c.PushPayment(context.Background(), "tok-123", 250, "254712345678", "ORD-1", "Order ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "mr-9", res.MerchantRequestID)
	assert.Equal(t, "ws_CO_9", res.CheckoutRequestID)
	assert.Equal(t, "0", res.ResponseCode)
}

func TestPushPaymentClassifiesStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "bad request", status: http.StatusBadRequest, wantErr: domain.ErrGatewayRejected},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: domain.ErrGatewayRejected},
		{name: "server error", status: http.StatusInternalServerError, wantErr: domain.ErrGatewayUnavailable},
		{name: "bad gateway", status: http.StatusBadGateway, wantErr: domain.ErrGatewayUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := NewClient(discardLogger(), testCreds(srv.URL, srv.URL), time.Second, time.Second)
			_, err := c.PushPayment(context.Background(), "tok", 250, "254712345678", "ORD-1", "desc")
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPushPaymentEmptyBodyOn200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(discardLogger(), testCreds(srv.URL, srv.URL), time.Second, time.Second)
	_, err := c.PushPayment(context.Background(), "tok", 250, "254712345678", "ORD-1", "desc")
	assert.ErrorIs(t, err, domain.ErrGatewayProtocol)
}

func TestTestModeShortCircuits(t *testing.T) {
	t.Parallel()

	creds := testCreds("http://127.0.0.1:1", "http://127.0.0.1:1") // nothing listens there
	creds.TestMode = true
	c := NewClient(discardLogger(), creds, time.Second, time.Second)

	token, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sandbox-test-token", token)

	res, err := c.PushPayment(context.Background(), token, 250, "254712345678", "ORD-1", "desc")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_TEST_ORD-1", res.CheckoutRequestID)
	assert.Equal(t, "test-mr-ORD-1", res.MerchantRequestID)
	assert.Equal(t, "0", res.ResponseCode)

	// Deterministic for the same reference.
	again, err := c.PushPayment(context.Background(), token, 250, "254712345678", "ORD-1", "desc")
	require.NoError(t, err)
	assert.Equal(t, res, again)
}
