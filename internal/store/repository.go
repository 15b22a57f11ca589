/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the tip-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/piggybanks/tip-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Recipient methods
	FindRecipientBySlug(ctx context.Context, slug string) (*domain.Recipient, error)
	FindRecipientByAddress(ctx context.Context, address string) (*domain.Recipient, error)
	CreateRecipient(ctx context.Context, recipient *domain.Recipient) (*domain.Recipient, error)
	UpdateRecipient(ctx context.Context, address string, updates domain.UpdateRecipientRequest) (*domain.Recipient, error)
	IsSlugAvailable(ctx context.Context, slug string) (bool, error)

	// Donation methods
	CreateDonation(ctx context.Context, donation *domain.Donation) error
	GetDonationByTxHash(ctx context.Context, txHash string) (*domain.Donation, error)
	UpdateDonationConfirmations(ctx context.Context, txHash string, confirmations int, status string) error
	ListDonationsByRecipient(ctx context.Context, address string, opts domain.DonationListOptions) ([]domain.Donation, error)
	CountDonationsByRecipient(ctx context.Context, address string) (int64, error)
}
