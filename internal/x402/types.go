/**
 * @description
 * This package implements the resource-server side of the x402 micropayment
 * exchange: the wire types for payment requirements and facilitator results,
 * the base64/JSON header codec, and the payment requirements builder.
 *
 * The cryptographic substance of the protocol (signature verification,
 * replay protection, on-chain submission) lives entirely in the external
 * facilitator. The payment payload is treated as an opaque signed blob:
 * this package decodes only its transport envelope and forwards the parsed
 * JSON verbatim.
 *
 * @dependencies
 * - encoding/json: the payload stays a json.RawMessage end to end.
 */

package x402

import "encoding/json"

// Version is the x402 protocol version spoken by this service.
const Version = 1

// PaymentPayload is the client-constructed, facilitator-verifiable proof of
// an authorized transfer. Opaque to this service beyond its JSON envelope.
type PaymentPayload = json.RawMessage

// PaymentRequirements defines what a client must pay to have a request
// fulfilled. It is embedded in the 402 challenge body and forwarded to the
// facilitator on verify/settle.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g. "exact").
	Scheme string `json:"scheme"`

	// Network is the chain the payment must settle on (e.g. "base-sepolia").
	Network string `json:"network"`

	// MaxAmountRequired is the amount in the asset's smallest unit, as a
	// decimal integer string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource is the URL of the protected action being paid for. The
	// facilitator binds the payment signature to this field, so a settled
	// proof cannot be replayed against a different resource.
	Resource string `json:"resource"`

	// Description is a human-readable summary of what is being bought.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// PayTo is the recipient's on-chain payout address. Always set from the
	// recipient directory, never from client input.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity window for the payment proof.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Asset is the contract address of the payment token.
	Asset string `json:"asset"`

	// Extra carries scheme-specific metadata; for the "exact" scheme this
	// is the token's EIP-712 domain name and version.
	Extra map[string]string `json:"extra,omitempty"`
}

// PaymentRequired is the 402 challenge body. The client resolves accepts[0]
// into a payment proof and resubmits the identical logical request with the
// X-PAYMENT header attached.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerifyResponse is the facilitator's answer to a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settle call. Transaction
// is the on-chain settlement identifier when Success is true.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// SettlementReceipt is echoed back to the client in the X-PAYMENT-RESPONSE
// header after a fulfilled tip, so the client can confirm settlement
// details without another round trip.
type SettlementReceipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	Recipient   string `json:"recipient"`
}
