package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agrimarket/payment-service/internal/payment/domain"
)

// Client is a pure protocol adapter for the STK-push gateway. It never
// touches persistent storage; its only side effect is the outbound call.
type Client struct {
	log         *slog.Logger
	creds       Credentials
	httpClient  *http.Client
	authTimeout time.Duration
	pushTimeout time.Duration
}

type PushResult struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

func NewClient(log *slog.Logger, creds Credentials, authTimeout, pushTimeout time.Duration) *Client {
	if authTimeout <= 0 {
		authTimeout = 10 * time.Second
	}
	if pushTimeout <= 0 {
		pushTimeout = 30 * time.Second
	}
	return &Client{
		log:         log,
		creds:       creds,
		httpClient:  &http.Client{},
		authTimeout: authTimeout,
		pushTimeout: pushTimeout,
	}
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Authenticate exchanges the consumer key/secret for a short-lived bearer
// token. A 2xx with an empty or unparsable body is reported as a protocol
// violation, distinct from a transport failure: the gateway said OK but gave
// us nothing usable, which usually means misconfigured credentials.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.creds.TestMode {
		return "sandbox-test-token", nil
	}
	if err := c.creds.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayAuth, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.creds.AuthURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build auth request: %v", domain.ErrGatewayUnavailable, err)
	}
	req.SetBasicAuth(c.creds.ConsumerKey, c.creds.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: auth call: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read auth response: %v", domain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: auth returned status %d", domain.ErrGatewayAuth, resp.StatusCode)
	}

	var ar authResponse
	if len(body) == 0 || json.Unmarshal(body, &ar) != nil || ar.AccessToken == "" {
		return "", fmt.Errorf("%w: auth returned %d with empty or unparsable body", domain.ErrGatewayProtocol, resp.StatusCode)
	}
	return ar.AccessToken, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// PushPayment submits the payment prompt to the payer's phone. The password
// and timestamp are computed fresh per call. 4xx responses classify as
// rejected (bad request shape, phone or amount); 5xx as unavailable.
func (c *Client) PushPayment(ctx context.Context, token string, amount int64, phone, reference, description string) (PushResult, error) {
	if c.creds.TestMode {
		return PushResult{
			MerchantRequestID:   "test-mr-" + reference,
			CheckoutRequestID:   "ws_CO_TEST_" + reference,
			ResponseCode:        "0",
			ResponseDescription: "Success. Request accepted for processing",
			CustomerMessage:     "Success. Request accepted for processing",
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()

	password, timestamp := c.creds.Password(time.Now())
	payload := stkPushRequest{
		BusinessShortCode: c.creds.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.creds.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.creds.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   description,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return PushResult{}, fmt.Errorf("%w: marshal push request: %v", domain.ErrGatewayProtocol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.STKPushURL, bytes.NewReader(buf))
	if err != nil {
		return PushResult{}, fmt.Errorf("%w: build push request: %v", domain.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PushResult{}, fmt.Errorf("%w: push call: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PushResult{}, fmt.Errorf("%w: read push response: %v", domain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return PushResult{}, fmt.Errorf("%w: push returned status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		c.log.Warn("stk push rejected", "status", resp.StatusCode, "body", string(body))
		return PushResult{}, fmt.Errorf("%w: push returned status %d", domain.ErrGatewayRejected, resp.StatusCode)
	}

	var pr stkPushResponse
	if len(body) == 0 || json.Unmarshal(body, &pr) != nil || pr.CheckoutRequestID == "" {
		return PushResult{}, fmt.Errorf("%w: push returned %d with empty or unparsable body", domain.ErrGatewayProtocol, resp.StatusCode)
	}
	return PushResult{
		MerchantRequestID:   pr.MerchantRequestID,
		CheckoutRequestID:   pr.CheckoutRequestID,
		ResponseCode:        pr.ResponseCode,
		ResponseDescription: pr.ResponseDescription,
		CustomerMessage:     pr.CustomerMessage,
	}, nil
}
