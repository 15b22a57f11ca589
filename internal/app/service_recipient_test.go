package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/piggybanks/tip-service/internal/domain"
	"github.com/piggybanks/tip-service/internal/store"
)

type recipientStubRepo struct {
	store.Repository

	recipientsByAddress map[string]*domain.Recipient
	recipientBySlug     *domain.Recipient
	created             []*domain.Recipient
	createErr           error
	slugAvailable       bool
	donations           []domain.Donation
	donationHashes      map[string]bool
}

func (r *recipientStubRepo) FindRecipientBySlug(ctx context.Context, slug string) (*domain.Recipient, error) {
	if r.recipientBySlug != nil {
		return r.recipientBySlug, nil
	}
	return nil, store.ErrRecipientNotFound
}

func (r *recipientStubRepo) CreateRecipient(ctx context.Context, recipient *domain.Recipient) (*domain.Recipient, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	recipient.ID = uuid.New()
	recipient.IsActive = true
	r.created = append(r.created, recipient)
	return recipient, nil
}

func (r *recipientStubRepo) IsSlugAvailable(ctx context.Context, slug string) (bool, error) {
	return r.slugAvailable, nil
}

func (r *recipientStubRepo) FindRecipientByAddress(ctx context.Context, address string) (*domain.Recipient, error) {
	if rec, ok := r.recipientsByAddress[address]; ok {
		return rec, nil
	}
	return nil, store.ErrRecipientNotFound
}

func (r *recipientStubRepo) CreateDonation(ctx context.Context, donation *domain.Donation) error {
	if r.donationHashes == nil {
		r.donationHashes = make(map[string]bool)
	}
	if r.donationHashes[donation.TxHash] {
		return store.ErrDuplicateDonation
	}
	r.donationHashes[donation.TxHash] = true
	donation.ID = uuid.New()
	r.donations = append(r.donations, *donation)
	return nil
}

func (r *recipientStubRepo) GetDonationByTxHash(ctx context.Context, txHash string) (*domain.Donation, error) {
	for i := range r.donations {
		if r.donations[i].TxHash == txHash {
			return &r.donations[i], nil
		}
	}
	return nil, store.ErrDonationNotFound
}

func (r *recipientStubRepo) UpdateDonationConfirmations(ctx context.Context, txHash string, confirmations int, status string) error {
	for i := range r.donations {
		if r.donations[i].TxHash == txHash {
			r.donations[i].Confirmations = confirmations
			r.donations[i].Status = status
			return nil
		}
	}
	return store.ErrDonationNotFound
}

func newRecipientTestService(repo *recipientStubRepo) *Service {
	svc := newTestService(&stubRepo{}, &stubGateway{}, &stubPublisher{})
	svc.repo = repo
	return svc
}

func TestCreateRecipientProfile_NormalizesAndStores(t *testing.T) {
	repo := &recipientStubRepo{slugAvailable: true}
	svc := newRecipientTestService(repo)

	created, err := svc.CreateRecipientProfile(context.Background(), domain.CreateRecipientRequest{
		Address:     "0xAbCd111111111111111111111111111111111111",
		Slug:        "  Alice-Codes ",
		DisplayName: " Alice ",
	})
	if err != nil {
		t.Fatalf("CreateRecipientProfile returned error: %v", err)
	}
	if created.Slug != "alice-codes" {
		t.Errorf("expected normalized slug, got %q", created.Slug)
	}
	if created.Address != "0xabcd111111111111111111111111111111111111" {
		t.Errorf("expected lowercased address, got %q", created.Address)
	}
	if created.DisplayName != "Alice" {
		t.Errorf("expected trimmed display name, got %q", created.DisplayName)
	}
}

func TestCreateRecipientProfile_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  domain.CreateRecipientRequest
	}{
		{"bad address", domain.CreateRecipientRequest{Address: "nope", Slug: "alice"}},
		{"slug too short", domain.CreateRecipientRequest{Address: testPayoutAddress, Slug: "ab"}},
		{"slug too long", domain.CreateRecipientRequest{Address: testPayoutAddress, Slug: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}},
		{"slug bad chars", domain.CreateRecipientRequest{Address: testPayoutAddress, Slug: "alice codes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newRecipientTestService(&recipientStubRepo{slugAvailable: true})
			_, err := svc.CreateRecipientProfile(context.Background(), tt.req)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestCreateRecipientProfile_ConflictPassesThrough(t *testing.T) {
	repo := &recipientStubRepo{createErr: store.ErrSlugTaken}
	svc := newRecipientTestService(repo)

	_, err := svc.CreateRecipientProfile(context.Background(), domain.CreateRecipientRequest{
		Address: testPayoutAddress,
		Slug:    "alice",
	})
	if !errors.Is(err, store.ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
}

func TestCheckSlugAvailability(t *testing.T) {
	svc := newRecipientTestService(&recipientStubRepo{slugAvailable: true})

	available, err := svc.CheckSlugAvailability(context.Background(), "Alice", "")
	if err != nil {
		t.Fatalf("CheckSlugAvailability returned error: %v", err)
	}
	if !available {
		t.Error("expected slug to be available")
	}

	if _, err := svc.CheckSlugAvailability(context.Background(), "a!", ""); err == nil {
		t.Error("expected malformed slug to be rejected")
	}
}

func TestCheckSlugAvailability_OwnSlugCountsAsAvailable(t *testing.T) {
	holder := testRecipient()
	repo := &recipientStubRepo{slugAvailable: false, recipientBySlug: holder}
	svc := newRecipientTestService(repo)

	available, err := svc.CheckSlugAvailability(context.Background(), holder.Slug, holder.Address)
	if err != nil {
		t.Fatalf("CheckSlugAvailability returned error: %v", err)
	}
	if !available {
		t.Error("a slug held by the caller's own address must count as available")
	}

	available, err = svc.CheckSlugAvailability(context.Background(), holder.Slug, testSenderAddress)
	if err != nil {
		t.Fatalf("CheckSlugAvailability returned error: %v", err)
	}
	if available {
		t.Error("a slug held by another address must count as taken")
	}
}

func TestProcessChainActivity_RecordsKnownAndSkipsUnknown(t *testing.T) {
	recipient := testRecipient()
	repo := &recipientStubRepo{
		recipientsByAddress: map[string]*domain.Recipient{recipient.Address: recipient},
	}
	svc := newRecipientTestService(repo)

	var event domain.ChainWebhookEvent
	event.Event.Network = "base-sepolia"
	event.Event.Activity = []domain.ChainActivity{
		{
			Hash:           "0xaaa",
			FromAddress:    testSenderAddress,
			ToAddress:      recipient.Address,
			Asset:          "USDC",
			Value:          "2.5",
			BlockTimestamp: time.Now().UTC().Format(time.RFC3339),
		},
		{
			Hash:        "0xbbb",
			FromAddress: testSenderAddress,
			ToAddress:   "0x9999999999999999999999999999999999999999",
			Asset:       "USDC",
			Value:       "1",
		},
	}

	recorded, err := svc.ProcessChainActivity(context.Background(), event)
	if err != nil {
		t.Fatalf("ProcessChainActivity returned error: %v", err)
	}
	if recorded != 1 {
		t.Fatalf("expected 1 recorded donation, got %d", recorded)
	}
	if repo.donations[0].AmountRaw != "2500000" {
		t.Errorf("expected scaled amount, got %s", repo.donations[0].AmountRaw)
	}

	// Redelivery of the same event must not double-record; it only bumps
	// the confirmation count of the existing row.
	recorded, err = svc.ProcessChainActivity(context.Background(), event)
	if err != nil {
		t.Fatalf("redelivery returned error: %v", err)
	}
	if recorded != 0 {
		t.Errorf("expected redelivery to record nothing, got %d", recorded)
	}
	if repo.donations[0].Confirmations != 2 {
		t.Errorf("expected redelivery to bump confirmations to 2, got %d", repo.donations[0].Confirmations)
	}
}
