/**
 * @description
 * This file defines the recipient (creator profile) domain models for the
 * tip-service. A recipient is a creator who has claimed a public slug and
 * registered a payout address; tips sent to the slug settle to that address.
 *
 * @notes
 * - Addresses and slugs are stored lowercase; normalization happens at the
 *   store boundary so that every lookup is case-insensitive.
 * - The payout address is the single source of truth for where money goes:
 *   payment requirements always embed the stored address, never a
 *   client-supplied one.
 */

package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// SlugPattern constrains public profile slugs: lowercase letters, digits and
// hyphens only, length enforced separately (3-30).
var SlugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

const (
	SlugMinLength = 3
	SlugMaxLength = 30
)

// Recipient represents a creator's donation profile. This struct maps
// directly to the `recipients` table in the database.
type Recipient struct {
	ID          uuid.UUID `json:"id"`
	Address     string    `json:"address"`
	Slug        string    `json:"slug"`
	DisplayName string    `json:"display_name,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   string    `json:"avatar,omitempty"`
	Twitter     string    `json:"twitter,omitempty"`
	Farcaster   string    `json:"farcaster,omitempty"`
	Github      string    `json:"github,omitempty"`
	Website     string    `json:"website,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Name returns the recipient's display name, falling back to the slug when
// no display name was set. Used in payment descriptions and tip responses.
func (r *Recipient) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Slug
}

// CreateRecipientRequest is the DTO for incoming profile creation requests.
type CreateRecipientRequest struct {
	Address     string `json:"address"`
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatar"`
	Twitter     string `json:"twitter"`
	Farcaster   string `json:"farcaster"`
	Github      string `json:"github"`
	Website     string `json:"website"`
}

// UpdateRecipientRequest is the DTO for profile update requests. Pointer
// fields distinguish "not provided" from "set to empty".
type UpdateRecipientRequest struct {
	DisplayName *string `json:"displayName,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatar,omitempty"`
	Twitter     *string `json:"twitter,omitempty"`
	Farcaster   *string `json:"farcaster,omitempty"`
	Github      *string `json:"github,omitempty"`
	Website     *string `json:"website,omitempty"`
}
