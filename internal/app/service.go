/**
 * @description
 * This file contains the core business logic for the tip-service. The `Service`
 * struct orchestrates the x402 tip flow, coordinating between the database
 * repository, the facilitator API client, and the message broker.
 *
 * Key features:
 * - Implements the challenge/verify/settle/record pipeline for paid tips.
 * - Issues 402 payment challenges built from the recipient's stored payout
 *   address, never a client-supplied one.
 * - Guarantees ordering: a proof is never settled before it verifies, and a
 *   donation is never recorded before settlement succeeds.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store, internal/x402: Domain models, data access, protocol types.
 * - pkg/rabbitmq: Event publishing.
 * - github.com/ethereum/go-ethereum/common: Hex address validation.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/piggybanks/tip-service/internal/domain"
	"github.com/piggybanks/tip-service/internal/store"
	"github.com/piggybanks/tip-service/internal/x402"
	"github.com/piggybanks/tip-service/pkg/rabbitmq"
)

// PaymentGateway is the facilitator contract the tip flow depends on. A
// transport error means no verdict was reached; a returned response carries
// the facilitator's verdict, positive or negative.
type PaymentGateway interface {
	Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// RateLimiter bounds tip attempts per sender. A nil limiter disables limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitConfig tunes the per-sender tip rate limit.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// Service provides the core business logic for tips and recipient profiles.
type Service struct {
	repo          store.Repository
	gateway       PaymentGateway
	eventProducer rabbitmq.Publisher
	builder       *x402.Builder
	chainID       int64
	rateLimiter   RateLimiter
	rateLimit     RateLimitConfig
}

// NewService creates a new tip service instance.
func NewService(repo store.Repository, gateway PaymentGateway, producer rabbitmq.Publisher, builder *x402.Builder, chainID int64, limiter RateLimiter, rateLimit RateLimitConfig) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
		builder:       builder,
		chainID:       chainID,
		rateLimiter:   limiter,
		rateLimit:     rateLimit,
	}
}

// ProcessTip drives one tip request through the x402 flow. resourceURL is
// the canonical URL of the tip endpoint, echoed into the payment
// requirements so the signed proof is bound to this resource.
//
// Returns a TipReceipt on success. On failure the error is one of the typed
// errors in errors.go, or a store sentinel for unknown recipients.
func (s *Service) ProcessTip(ctx context.Context, req domain.SendTipRequest, paymentHeader, resourceURL string) (*domain.TipReceipt, error) {
	if strings.TrimSpace(req.RecipientSlug) == "" {
		return nil, &ValidationError{Field: "recipientSlug", Message: "recipient slug is required"}
	}
	if len(req.Message) > domain.MessageMaxLength {
		return nil, &ValidationError{Field: "message", Message: fmt.Sprintf("message exceeds %d characters", domain.MessageMaxLength)}
	}
	if strings.TrimSpace(req.SenderAddress) == "" {
		return nil, &ValidationError{Field: "senderAddress", Message: "sender address is required"}
	}
	if !common.IsHexAddress(req.SenderAddress) {
		return nil, &ValidationError{Field: "senderAddress", Message: "not a valid address"}
	}
	if len(strings.TrimSpace(req.DonorName)) > domain.DonorNameMaxLength {
		return nil, &ValidationError{Field: "donorName", Message: fmt.Sprintf("donor name exceeds %d characters", domain.DonorNameMaxLength)}
	}

	amountRaw, err := s.builder.ScaleAmount(req.Amount)
	if err != nil {
		return nil, &ValidationError{Field: "amount", Message: "amount must be a positive decimal number"}
	}

	if err := s.consumeTipRateLimit(ctx, req.SenderAddress); err != nil {
		return nil, err
	}

	recipient, err := s.repo.FindRecipientBySlug(ctx, req.RecipientSlug)
	if err != nil {
		if errors.Is(err, store.ErrRecipientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}

	requirements, err := s.builder.Build(
		recipient.Address,
		req.Amount,
		resourceURL,
		fmt.Sprintf("Tip %s %s to %s", req.Amount, s.builder.Asset().Symbol, recipient.Name()),
	)
	if err != nil {
		return nil, &ValidationError{Field: "amount", Message: "amount must be a positive decimal number"}
	}
	accepts := []x402.PaymentRequirements{requirements}

	if paymentHeader == "" {
		return nil, &PaymentRequiredError{
			Message: "X-PAYMENT header is required",
			Accepts: accepts,
		}
	}

	payload, err := x402.DecodePaymentHeader(paymentHeader)
	if err != nil {
		return nil, &PaymentRequiredError{
			Message: "Invalid X-PAYMENT header format",
			Accepts: accepts,
		}
	}

	verifyResp, err := s.gateway.Verify(ctx, payload, requirements)
	if err != nil {
		log.Printf("level=error component=tip_service op=verify slug=%s err=%v", recipient.Slug, err)
		return nil, &FacilitatorError{Op: "verify", Err: err}
	}
	if !verifyResp.IsValid {
		log.Printf("level=info component=tip_service op=verify slug=%s valid=false reason=%q", recipient.Slug, verifyResp.InvalidReason)
		return nil, &PaymentRejectedError{
			Message: "payment verification failed",
			Reason:  verifyResp.InvalidReason,
			Accepts: accepts,
		}
	}

	// From here on the client's disconnect must not abort the flow: once a
	// settlement is initiated, the outcome has to be observed and recorded.
	settleCtx := context.WithoutCancel(ctx)

	settleResp, err := s.gateway.Settle(settleCtx, payload, requirements)
	if err != nil {
		log.Printf("level=error component=tip_service op=settle slug=%s err=%v", recipient.Slug, err)
		return nil, &FacilitatorError{Op: "settle", Err: err}
	}
	if !settleResp.Success {
		log.Printf("level=info component=tip_service op=settle slug=%s success=false reason=%q", recipient.Slug, settleResp.ErrorReason)
		return nil, &PaymentRejectedError{
			Message: "payment settlement failed",
			Reason:  settleResp.ErrorReason,
			Accepts: accepts,
		}
	}

	payer := settleResp.Payer
	if payer == "" {
		payer = verifyResp.Payer
	}
	if payer == "" {
		payer = req.SenderAddress
	}

	receipt := &domain.TipReceipt{
		RecipientName: recipient.Name(),
		Transaction:   settleResp.Transaction,
	}
	receiptHeader, err := x402.EncodeReceiptHeader(x402.SettlementReceipt{
		Success:     true,
		Transaction: settleResp.Transaction,
		Network:     settleResp.Network,
		Payer:       payer,
		Amount:      amountRaw,
		Token:       s.builder.Asset().Symbol,
		Recipient:   recipient.Address,
	})
	if err != nil {
		log.Printf("level=warn component=tip_service msg=\"failed to encode receipt header\" tx_hash=%s err=%v", settleResp.Transaction, err)
	} else {
		receipt.ReceiptHeader = receiptHeader
	}

	receipt.Donation = s.recordDonation(settleCtx, recipient, req, settleResp, payer, amountRaw)

	return receipt, nil
}

// consumeTipRateLimit enforces the per-sender rate limit. Limiter outages
// fail open: a broken Redis must not take tipping down with it.
func (s *Service) consumeTipRateLimit(ctx context.Context, sender string) error {
	if s.rateLimiter == nil || s.rateLimit.Limit <= 0 || sender == "" {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "send_tip", sender, s.rateLimit.Limit, s.rateLimit.Window)
	if err != nil {
		log.Printf("level=warn component=tip_service msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		return nil
	}
	if count > s.rateLimit.Limit {
		return &RateLimitedError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

// recordDonation persists the settled tip and publishes the confirmation
// event. Funds have already moved, so a persistence failure is logged and
// flagged for reconciliation instead of failing the request.
func (s *Service) recordDonation(ctx context.Context, recipient *domain.Recipient, req domain.SendTipRequest, settleResp *x402.SettleResponse, payer, amountRaw string) *domain.Donation {
	asset := s.builder.Asset()
	donorName := strings.TrimSpace(req.DonorName)
	donation := &domain.Donation{
		TxHash:               settleResp.Transaction,
		ChainID:              s.chainID,
		FromAddress:          strings.ToLower(payer),
		ToAddress:            recipient.Address,
		TokenAddress:         asset.Address,
		TokenSymbol:          asset.Symbol,
		TokenDecimals:        asset.Decimals,
		AmountRaw:            amountRaw,
		AmountFormatted:      req.Amount,
		Message:              req.Message,
		DonorName:            donorName,
		IsAnonymous:          donorName == "",
		Status:               domain.DonationStatusConfirmed,
		Confirmations:        1,
		TransactionTimestamp: time.Now().UTC(),
	}

	if err := s.repo.CreateDonation(ctx, donation); err != nil {
		if errors.Is(err, store.ErrDuplicateDonation) {
			log.Printf("level=warn component=tip_service msg=\"donation already recorded\" tx_hash=%s", settleResp.Transaction)
			if existing, getErr := s.repo.GetDonationByTxHash(ctx, settleResp.Transaction); getErr == nil {
				return existing
			}
			return nil
		}

		log.Printf("level=error component=tip_service msg=\"settlement succeeded but donation record failed\" tx_hash=%s slug=%s err=%v",
			settleResp.Transaction, recipient.Slug, err)
		if pubErr := s.eventProducer.PublishReconciliationNeeded(ctx, rabbitmq.ReconciliationEvent{
			TxHash:        settleResp.Transaction,
			RecipientSlug: recipient.Slug,
			PayoutAddress: recipient.Address,
			SenderAddress: payer,
			AmountRaw:     amountRaw,
			Network:       settleResp.Network,
			FailureReason: err.Error(),
			Timestamp:     time.Now().UTC(),
		}); pubErr != nil {
			log.Printf("level=error component=tip_service msg=\"failed to publish reconciliation event\" tx_hash=%s err=%v", settleResp.Transaction, pubErr)
		}
		return nil
	}

	if err := s.eventProducer.PublishDonationConfirmed(ctx, rabbitmq.DonationConfirmedEvent{
		DonationID:      donation.ID.String(),
		TxHash:          donation.TxHash,
		RecipientSlug:   recipient.Slug,
		SenderAddress:   donation.FromAddress,
		AmountFormatted: donation.AmountFormatted,
		TokenSymbol:     donation.TokenSymbol,
		Network:         settleResp.Network,
		Timestamp:       time.Now().UTC(),
	}); err != nil {
		log.Printf("level=warn component=tip_service msg=\"failed to publish donation confirmed event\" tx_hash=%s err=%v", donation.TxHash, err)
	}

	return donation
}

// CreateRecipientProfile validates and registers a new creator profile.
func (s *Service) CreateRecipientProfile(ctx context.Context, req domain.CreateRecipientRequest) (*domain.Recipient, error) {
	if !common.IsHexAddress(req.Address) {
		return nil, &ValidationError{Field: "address", Message: "not a valid address"}
	}
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if err := validateSlug(slug); err != nil {
		return nil, err
	}

	recipient := &domain.Recipient{
		Address:     strings.ToLower(req.Address),
		Slug:        slug,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Bio:         strings.TrimSpace(req.Bio),
		AvatarURL:   strings.TrimSpace(req.AvatarURL),
		Twitter:     strings.TrimSpace(req.Twitter),
		Farcaster:   strings.TrimSpace(req.Farcaster),
		Github:      strings.TrimSpace(req.Github),
		Website:     strings.TrimSpace(req.Website),
	}
	created, err := s.repo.CreateRecipient(ctx, recipient)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=tip_service msg=\"recipient created\" slug=%s address=%s", created.Slug, created.Address)
	return created, nil
}

// UpdateRecipientProfile applies a partial update to the profile owned by address.
func (s *Service) UpdateRecipientProfile(ctx context.Context, address string, updates domain.UpdateRecipientRequest) (*domain.Recipient, error) {
	if !common.IsHexAddress(address) {
		return nil, &ValidationError{Field: "address", Message: "not a valid address"}
	}
	return s.repo.UpdateRecipient(ctx, address, updates)
}

// GetRecipientBySlug returns the public profile behind a slug.
func (s *Service) GetRecipientBySlug(ctx context.Context, slug string) (*domain.Recipient, error) {
	return s.repo.FindRecipientBySlug(ctx, slug)
}

// GetRecipientByAddress returns the profile owned by a payout address.
func (s *Service) GetRecipientByAddress(ctx context.Context, address string) (*domain.Recipient, error) {
	if !common.IsHexAddress(address) {
		return nil, &ValidationError{Field: "address", Message: "not a valid address"}
	}
	return s.repo.FindRecipientByAddress(ctx, address)
}

// CheckSlugAvailability reports whether a slug is both well-formed and
// unclaimed. A slug already held by currentAddress counts as available, so
// a profile edit form does not flag the owner's own slug as taken.
func (s *Service) CheckSlugAvailability(ctx context.Context, slug, currentAddress string) (bool, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if err := validateSlug(slug); err != nil {
		return false, err
	}
	available, err := s.repo.IsSlugAvailable(ctx, slug)
	if err != nil {
		return false, err
	}
	if !available && currentAddress != "" && common.IsHexAddress(currentAddress) {
		holder, err := s.repo.FindRecipientBySlug(ctx, slug)
		if err == nil && strings.EqualFold(holder.Address, currentAddress) {
			return true, nil
		}
	}
	return available, nil
}

// ListDonations returns the donation history for a payout address along with
// the total count for pagination.
func (s *Service) ListDonations(ctx context.Context, address string, opts domain.DonationListOptions) ([]domain.Donation, int64, error) {
	if !common.IsHexAddress(address) {
		return nil, 0, &ValidationError{Field: "address", Message: "not a valid address"}
	}
	donations, err := s.repo.ListDonationsByRecipient(ctx, address, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountDonationsByRecipient(ctx, address)
	if err != nil {
		return nil, 0, err
	}
	return donations, total, nil
}

// ProcessChainActivity records direct on-chain transfers reported by the
// chain-activity webhook. Transfers to unknown addresses are skipped, and a
// hash already in the ledger only refreshes its confirmation state.
func (s *Service) ProcessChainActivity(ctx context.Context, event domain.ChainWebhookEvent) (int, error) {
	recorded := 0
	asset := s.builder.Asset()

	for _, activity := range event.Event.Activity {
		recipient, err := s.repo.FindRecipientByAddress(ctx, activity.ToAddress)
		if err != nil {
			if errors.Is(err, store.ErrRecipientNotFound) {
				continue
			}
			return recorded, err
		}

		amountRaw, err := s.builder.ScaleAmount(activity.Value)
		if err != nil {
			log.Printf("level=warn component=tip_service msg=\"skipping webhook activity with bad value\" tx_hash=%s value=%q", activity.Hash, activity.Value)
			continue
		}

		ts := time.Now().UTC()
		if parsed, parseErr := time.Parse(time.RFC3339, activity.BlockTimestamp); parseErr == nil {
			ts = parsed
		}

		donation := &domain.Donation{
			TxHash:               activity.Hash,
			ChainID:              s.chainID,
			FromAddress:          strings.ToLower(activity.FromAddress),
			ToAddress:            recipient.Address,
			TokenAddress:         asset.Address,
			TokenSymbol:          asset.Symbol,
			TokenDecimals:        asset.Decimals,
			AmountRaw:            amountRaw,
			AmountFormatted:      activity.Value,
			IsAnonymous:          true,
			Status:               domain.DonationStatusConfirmed,
			Confirmations:        1,
			TransactionTimestamp: ts,
		}
		if err := s.repo.CreateDonation(ctx, donation); err != nil {
			if errors.Is(err, store.ErrDuplicateDonation) {
				// A redelivery means the chain watcher saw the transfer in a
				// deeper block, so bump the confirmation count.
				if existing, getErr := s.repo.GetDonationByTxHash(ctx, activity.Hash); getErr == nil {
					if updErr := s.repo.UpdateDonationConfirmations(ctx, activity.Hash, existing.Confirmations+1, domain.DonationStatusConfirmed); updErr != nil {
						log.Printf("level=warn component=tip_service msg=\"failed to refresh confirmations\" tx_hash=%s err=%v", activity.Hash, updErr)
					}
				}
				continue
			}
			return recorded, err
		}
		recorded++

		if err := s.eventProducer.PublishDonationConfirmed(ctx, rabbitmq.DonationConfirmedEvent{
			DonationID:      donation.ID.String(),
			TxHash:          donation.TxHash,
			RecipientSlug:   recipient.Slug,
			SenderAddress:   donation.FromAddress,
			AmountFormatted: donation.AmountFormatted,
			TokenSymbol:     donation.TokenSymbol,
			Network:         event.Event.Network,
			Timestamp:       time.Now().UTC(),
		}); err != nil {
			log.Printf("level=warn component=tip_service msg=\"failed to publish donation confirmed event\" tx_hash=%s err=%v", donation.TxHash, err)
		}
	}

	return recorded, nil
}

func validateSlug(slug string) error {
	if len(slug) < domain.SlugMinLength || len(slug) > domain.SlugMaxLength {
		return &ValidationError{Field: "slug", Message: fmt.Sprintf("slug must be %d-%d characters", domain.SlugMinLength, domain.SlugMaxLength)}
	}
	if !domain.SlugPattern.MatchString(slug) {
		return &ValidationError{Field: "slug", Message: "slug may only contain lowercase letters, numbers and hyphens"}
	}
	return nil
}
