package x402

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount reports a requested tip amount that is non-numeric, not
// positive, or too small to represent a single smallest unit of the asset.
var ErrInvalidAmount = errors.New("invalid amount")

// DefaultMaxTimeoutSeconds is the policy window within which a decoded
// payment proof must be settled.
const DefaultMaxTimeoutSeconds = 60

// Asset describes the payment token that tips are denominated in, together
// with the network it lives on and its EIP-712 domain parameters.
type Asset struct {
	Network  string
	Address  string
	Symbol   string
	Decimals int

	// Name and Version populate the requirements' extra field for signature
	// domain separation (e.g. "USDC" / "2" for FiatTokenV2_2).
	Name    string
	Version string
}

// Builder constructs canonical payment requirements for tip requests.
type Builder struct {
	asset          Asset
	timeoutSeconds int
}

// NewBuilder creates a requirements builder for the given asset. A
// non-positive timeout falls back to DefaultMaxTimeoutSeconds.
func NewBuilder(asset Asset, timeoutSeconds int) *Builder {
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultMaxTimeoutSeconds
	}
	return &Builder{asset: asset, timeoutSeconds: timeoutSeconds}
}

// Asset returns the payment token the builder is configured for.
func (b *Builder) Asset() Asset {
	return b.asset
}

// Build turns a human-readable amount and a resolved payout address into
// the requirements object embedded in 402 challenges and forwarded to the
// facilitator. payTo must be the recipient's registered payout address,
// resolved from the directory at construction time.
func (b *Builder) Build(payTo, amount, resource, description string) (PaymentRequirements, error) {
	raw, err := b.ScaleAmount(amount)
	if err != nil {
		return PaymentRequirements{}, err
	}

	return PaymentRequirements{
		Scheme:            "exact",
		Network:           b.asset.Network,
		MaxAmountRequired: raw,
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payTo,
		MaxTimeoutSeconds: b.timeoutSeconds,
		Asset:             b.asset.Address,
		Extra: map[string]string{
			"name":    b.asset.Name,
			"version": b.asset.Version,
		},
	}, nil
}

// ScaleAmount converts a human decimal amount (e.g. "10.5") into the asset's
// smallest unit as an integer string (e.g. "10500000" for 6 decimals).
// Decimal arithmetic keeps the value exact; a fractional smallest-unit
// remainder is rounded down. An amount that is non-numeric, not positive,
// or floors to zero smallest units is rejected.
func (b *Builder) ScaleAmount(amount string) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, amount)
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("%w: %q must be greater than zero", ErrInvalidAmount, amount)
	}

	scaled := d.Shift(int32(b.asset.Decimals)).Floor()
	if scaled.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("%w: %q is below one smallest unit of %s", ErrInvalidAmount, amount, b.asset.Symbol)
	}

	return scaled.String(), nil
}
