/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * for recipient profiles and the donation ledger.
 *
 * @notes
 * - Addresses and slugs are lowercased here, at the store boundary, so every
 *   lookup is case-insensitive regardless of how the caller cased the input.
 * - Unique-constraint violations (duplicate slug, address, or tx hash) are
 *   mapped to sentinel errors so callers can translate them to 409s.
 *
 * @dependencies
 * - context, errors, strings: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/piggybanks/tip-service/internal/domain"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrDonationNotFound  = errors.New("donation not found")
	ErrSlugTaken         = errors.New("slug already taken")
	ErrAddressRegistered = errors.New("address already registered")
	ErrDuplicateDonation = errors.New("donation already recorded for this transaction")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recipientColumns = `id, address, slug, display_name, bio, avatar_url, twitter, farcaster, github, website, is_active, created_at, updated_at`

func scanRecipient(row pgx.Row) (*domain.Recipient, error) {
	var r domain.Recipient
	err := row.Scan(
		&r.ID,
		&r.Address,
		&r.Slug,
		&r.DisplayName,
		&r.Bio,
		&r.AvatarURL,
		&r.Twitter,
		&r.Farcaster,
		&r.Github,
		&r.Website,
		&r.IsActive,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	return &r, nil
}

// FindRecipientBySlug retrieves an active recipient profile by its public slug.
func (r *PostgresRepository) FindRecipientBySlug(ctx context.Context, slug string) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE slug = $1 AND is_active = TRUE`
	return scanRecipient(r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(slug))))
}

// FindRecipientByAddress retrieves a recipient profile by payout address.
func (r *PostgresRepository) FindRecipientByAddress(ctx context.Context, address string) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE address = $1`
	return scanRecipient(r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(address))))
}

// CreateRecipient inserts a new recipient profile and returns the stored row.
func (r *PostgresRepository) CreateRecipient(ctx context.Context, recipient *domain.Recipient) (*domain.Recipient, error) {
	query := `
		INSERT INTO recipients (address, slug, display_name, bio, avatar_url, twitter, farcaster, github, website, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		RETURNING ` + recipientColumns
	created, err := scanRecipient(r.db.QueryRow(ctx, query,
		strings.ToLower(strings.TrimSpace(recipient.Address)),
		strings.ToLower(strings.TrimSpace(recipient.Slug)),
		recipient.DisplayName,
		recipient.Bio,
		recipient.AvatarURL,
		recipient.Twitter,
		recipient.Farcaster,
		recipient.Github,
		recipient.Website,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			if strings.Contains(pgErr.ConstraintName, "slug") {
				return nil, ErrSlugTaken
			}
			return nil, ErrAddressRegistered
		}
		return nil, err
	}
	return created, nil
}

// UpdateRecipient applies the provided fields to the profile owned by address.
// Only non-nil fields are written; the slug and address are immutable here.
func (r *PostgresRepository) UpdateRecipient(ctx context.Context, address string, updates domain.UpdateRecipientRequest) (*domain.Recipient, error) {
	setClauses := []string{"updated_at = NOW()"}
	args := []interface{}{strings.ToLower(strings.TrimSpace(address))}

	appendSet := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	appendSet("display_name", updates.DisplayName)
	appendSet("bio", updates.Bio)
	appendSet("avatar_url", updates.AvatarURL)
	appendSet("twitter", updates.Twitter)
	appendSet("farcaster", updates.Farcaster)
	appendSet("github", updates.Github)
	appendSet("website", updates.Website)

	query := `UPDATE recipients SET ` + strings.Join(setClauses, ", ") + ` WHERE address = $1 RETURNING ` + recipientColumns
	return scanRecipient(r.db.QueryRow(ctx, query, args...))
}

// IsSlugAvailable reports whether no recipient currently holds the slug.
func (r *PostgresRepository) IsSlugAvailable(ctx context.Context, slug string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM recipients WHERE slug = $1)`
	if err := r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(slug))).Scan(&exists); err != nil {
		return false, err
	}
	return !exists, nil
}

const donationColumns = `id, tx_hash, chain_id, from_address, to_address, token_address, token_symbol, token_decimals,
	amount_raw, amount_formatted, message, donor_name, is_anonymous, status, confirmations,
	transaction_timestamp, created_at, updated_at`

func scanDonation(row pgx.Row) (*domain.Donation, error) {
	var d domain.Donation
	err := row.Scan(
		&d.ID,
		&d.TxHash,
		&d.ChainID,
		&d.FromAddress,
		&d.ToAddress,
		&d.TokenAddress,
		&d.TokenSymbol,
		&d.TokenDecimals,
		&d.AmountRaw,
		&d.AmountFormatted,
		&d.Message,
		&d.DonorName,
		&d.IsAnonymous,
		&d.Status,
		&d.Confirmations,
		&d.TransactionTimestamp,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return &d, nil
}

// CreateDonation records a settled transfer in the donation ledger. The
// generated ID and timestamps are written back into the passed struct.
func (r *PostgresRepository) CreateDonation(ctx context.Context, donation *domain.Donation) error {
	query := `
		INSERT INTO donations (tx_hash, chain_id, from_address, to_address, token_address, token_symbol, token_decimals,
			amount_raw, amount_formatted, message, donor_name, is_anonymous, status, confirmations, transaction_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		strings.ToLower(strings.TrimSpace(donation.TxHash)),
		donation.ChainID,
		strings.ToLower(strings.TrimSpace(donation.FromAddress)),
		strings.ToLower(strings.TrimSpace(donation.ToAddress)),
		strings.ToLower(strings.TrimSpace(donation.TokenAddress)),
		donation.TokenSymbol,
		donation.TokenDecimals,
		donation.AmountRaw,
		donation.AmountFormatted,
		donation.Message,
		donation.DonorName,
		donation.IsAnonymous,
		donation.Status,
		donation.Confirmations,
		donation.TransactionTimestamp,
	).Scan(&donation.ID, &donation.CreatedAt, &donation.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateDonation
		}
		return err
	}
	return nil
}

// GetDonationByTxHash looks up a donation by its transaction hash.
func (r *PostgresRepository) GetDonationByTxHash(ctx context.Context, txHash string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE tx_hash = $1`
	return scanDonation(r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(txHash))))
}

// UpdateDonationConfirmations refreshes the confirmation count (and status)
// for a donation tracked by the chain-activity webhook.
func (r *PostgresRepository) UpdateDonationConfirmations(ctx context.Context, txHash string, confirmations int, status string) error {
	query := `UPDATE donations SET confirmations = $2, status = $3, updated_at = NOW() WHERE tx_hash = $1`
	result, err := r.db.Exec(ctx, query, strings.ToLower(strings.TrimSpace(txHash)), confirmations, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDonationNotFound
	}
	return nil
}

// ListDonationsByRecipient returns donations received by the given payout
// address, newest first.
func (r *PostgresRepository) ListDonationsByRecipient(ctx context.Context, address string, opts domain.DonationListOptions) ([]domain.Donation, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + donationColumns + `
		FROM donations
		WHERE to_address = $1
		ORDER BY transaction_timestamp DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, strings.ToLower(strings.TrimSpace(address)), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	donations := make([]domain.Donation, 0, limit)
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, *d)
	}
	return donations, rows.Err()
}

// CountDonationsByRecipient returns the total number of donations recorded
// for the given payout address.
func (r *PostgresRepository) CountDonationsByRecipient(ctx context.Context, address string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM donations WHERE to_address = $1`
	if err := r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(address))).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
