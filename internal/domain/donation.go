/**
 * @description
 * This file defines the donation ledger models and the tip flow DTOs.
 * A Donation is the persistent record of money that has already moved:
 * for the x402 tip flow it is created only after the facilitator reports
 * a successful settlement, with status "confirmed" from the start.
 *
 * @notes
 * - Raw amounts are decimal strings in the token's smallest unit so that
 *   no floating-point representation ever touches a transported value.
 * - TxHash is unique in the store; a confirmed donation is immutable in
 *   this flow (there is no update path back to "pending").
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Donation status values. "confirmed" is terminal for the tip flow; a
// failed settlement produces no record at all.
const (
	DonationStatusPending   = "pending"
	DonationStatusConfirmed = "confirmed"
	DonationStatusFailed    = "failed"
)

// MessageMaxLength bounds the optional free-text note attached to a tip.
const MessageMaxLength = 500

// DonorNameMaxLength bounds the optional display name a tipper may attach.
const DonorNameMaxLength = 100

// Donation represents one recorded transfer to a recipient. This struct
// maps directly to the `donations` table in the database.
type Donation struct {
	ID              uuid.UUID `json:"id"`
	TxHash          string    `json:"tx_hash"`
	ChainID         int64     `json:"chain_id"`
	FromAddress     string    `json:"from_address"`
	ToAddress       string    `json:"to_address"`
	TokenAddress    string    `json:"token_address"`
	TokenSymbol     string    `json:"token_symbol"`
	TokenDecimals   int       `json:"token_decimals"`
	AmountRaw       string    `json:"amount_raw"`
	AmountFormatted string    `json:"amount_formatted"`
	Message         string    `json:"message,omitempty"`
	DonorName       string    `json:"donor_name,omitempty"`
	IsAnonymous     bool      `json:"is_anonymous"`
	Status          string    `json:"status"`
	Confirmations   int       `json:"confirmations"`

	TransactionTimestamp time.Time `json:"transaction_timestamp"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// SendTipRequest is the DTO for the POST /api/send-tip body. DonorName is
// the tipper's optional display name; a tip without one is recorded as
// anonymous.
type SendTipRequest struct {
	RecipientSlug string `json:"recipientSlug"`
	Amount        string `json:"amount"`
	Message       string `json:"message"`
	DonorName     string `json:"donorName"`
	SenderAddress string `json:"senderAddress"`
}

// TipReceipt is the successful outcome of the tip flow, carrying the
// persisted donation (nil only when the ledger write failed after
// settlement), the recipient's display name for the response body, and
// the encoded X-PAYMENT-RESPONSE header value.
type TipReceipt struct {
	Donation      *Donation
	RecipientName string
	Transaction   string
	ReceiptHeader string
}

// ChainActivity is one transfer entry inside a chain-watch webhook event.
type ChainActivity struct {
	Hash           string `json:"hash"`
	FromAddress    string `json:"fromAddress"`
	ToAddress      string `json:"toAddress"`
	Asset          string `json:"asset"`
	Value          string `json:"value"`
	BlockTimestamp string `json:"blockTimestamp"`
}

// ChainWebhookEvent is the payload delivered by the chain-activity
// webhook provider for direct on-chain donations.
type ChainWebhookEvent struct {
	Type  string `json:"type"`
	Event struct {
		Network  string          `json:"network"`
		Activity []ChainActivity `json:"activity"`
	} `json:"event"`
}

// DonationListOptions paginates donation history queries.
type DonationListOptions struct {
	Limit  int
	Offset int
}
