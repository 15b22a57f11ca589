/**
 * @description
 * This file defines the typed errors the service layer returns to handlers.
 * Each type corresponds to one HTTP outcome, so handlers translate with
 * errors.As/errors.Is instead of string matching.
 */

package app

import (
	"fmt"

	"github.com/piggybanks/tip-service/internal/x402"
)

// ValidationError reports request input that fails validation before any
// external call is made. Handlers map it to 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// PaymentRequiredError carries the 402 challenge issued when a request
// arrives without a usable payment proof: no X-PAYMENT header, or one that
// could not be decoded.
type PaymentRequiredError struct {
	Message string
	Accepts []x402.PaymentRequirements
}

func (e *PaymentRequiredError) Error() string {
	return e.Message
}

// PaymentRejectedError means the facilitator reached a verdict and the
// verdict was negative: an invalid proof at verify time, or a settlement the
// facilitator reports as unsuccessful. Handlers map it to 402 with a fresh
// challenge so the client can retry with a new proof.
type PaymentRejectedError struct {
	Message string
	Reason  string
	Accepts []x402.PaymentRequirements
}

func (e *PaymentRejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Reason)
	}
	return e.Message
}

// FacilitatorError means a verify or settle call failed without a verdict:
// transport failure, timeout, or a facilitator-side exception. The payment
// state is unknown, so handlers map it to 500 rather than inviting the
// client to re-sign and pay twice.
type FacilitatorError struct {
	Op  string
	Err error
}

func (e *FacilitatorError) Error() string {
	return fmt.Sprintf("facilitator %s failed: %v", e.Op, e.Err)
}

func (e *FacilitatorError) Unwrap() error {
	return e.Err
}

// RateLimitedError reports that the sender exceeded the tip rate limit.
// Handlers map it to 429 with a Retry-After header.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}
