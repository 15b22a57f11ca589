package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPaymentHeader reports an X-PAYMENT header value that is not
// base64-encoded JSON. A malformed header is a client bug and is kept
// distinct from a missing header, which is the normal first-attempt state.
var ErrMalformedPaymentHeader = errors.New("invalid X-PAYMENT header format")

// DecodePaymentHeader decodes the transport envelope of an X-PAYMENT header:
// base64 to UTF-8, then JSON. No semantic or cryptographic validation happens
// here; the parsed payload is forwarded verbatim to the facilitator, which
// owns all of that.
func DecodePaymentHeader(headerValue string) (PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(headerValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPaymentHeader, err)
	}

	var payload json.RawMessage
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPaymentHeader, err)
	}

	return PaymentPayload(payload), nil
}

// EncodeReceiptHeader produces the X-PAYMENT-RESPONSE header value: the
// settlement receipt as base64-encoded JSON, symmetric with the request-side
// envelope.
func EncodeReceiptHeader(receipt SettlementReceipt) (string, error) {
	receiptJSON, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(receiptJSON), nil
}

// DecodeReceiptHeader is the inverse of EncodeReceiptHeader. Clients (and
// tests) use it to read the settlement details out of a response header.
func DecodeReceiptHeader(headerValue string) (SettlementReceipt, error) {
	var receipt SettlementReceipt

	decoded, err := base64.StdEncoding.DecodeString(headerValue)
	if err != nil {
		return receipt, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &receipt); err != nil {
		return receipt, fmt.Errorf("failed to unmarshal settlement receipt: %w", err)
	}

	return receipt, nil
}
