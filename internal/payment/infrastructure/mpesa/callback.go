package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// The gateway posts a deeply nested, loosely typed envelope. It is parsed
// into a flat CallbackResult here; the raw shape never reaches the
// orchestrator.

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string          `json:"MerchantRequestID"`
			CheckoutRequestID string          `json:"CheckoutRequestID"`
			ResultCode        int             `json:"ResultCode"`
			ResultDesc        string          `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type metadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	AmountUnits       int64
	PhoneNumber       string
}

// Success reports whether the gateway settled the payment.
func (r CallbackResult) Success() bool { return r.ResultCode == 0 }

var ErrMalformedCallback = errors.New("mpesa: malformed callback envelope")

// ParseCallback validates the envelope and flattens the name/value metadata
// list. A successful result without a receipt number is rejected: the
// receipt is the only proof of settlement we get.
func ParseCallback(body []byte) (CallbackResult, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return CallbackResult{}, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}

	res := CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			res.ReceiptNumber = stringValue(item.Value)
		case "PhoneNumber":
			res.PhoneNumber = stringValue(item.Value)
		case "Amount":
			res.AmountUnits = intValue(item.Value)
		}
	}
	if res.Success() && res.ReceiptNumber == "" {
		return CallbackResult{}, fmt.Errorf("%w: success result without MpesaReceiptNumber", ErrMalformedCallback)
	}
	return res, nil
}

// Metadata values arrive as strings or numbers depending on the field and,
// in practice, on the gateway's mood. Accept both.
func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func intValue(raw json.RawMessage) int64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(n)
		}
	}
	return 0
}
