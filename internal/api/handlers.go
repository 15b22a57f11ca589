/**
 * @description
 * This file contains the HTTP handlers for the tip-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * The send-tip handler owns the x402 surface: it translates the service's
 * typed errors into the protocol's status codes, attaches the 402 challenge
 * body, and exposes the settlement receipt via the X-PAYMENT-RESPONSE header.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - crypto/hmac, crypto/sha256: Webhook signature verification.
 * - internal/app, internal/domain, internal/store, internal/x402: Service logic, models, errors.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/piggybanks/tip-service/internal/app"
	"github.com/piggybanks/tip-service/internal/domain"
	"github.com/piggybanks/tip-service/internal/store"
	"github.com/piggybanks/tip-service/internal/x402"
)

const paymentResponseHeader = "X-PAYMENT-RESPONSE"

// TipHandlers holds the application service that handlers will use.
type TipHandlers struct {
	service *app.Service

	// tipResourceURL is the canonical URL advertised in payment challenges.
	tipResourceURL string
	webhookKey     string
}

// NewTipHandlers creates a new instance of TipHandlers.
func NewTipHandlers(service *app.Service, tipResourceURL, webhookKey string) *TipHandlers {
	return &TipHandlers{
		service:        service,
		tipResourceURL: tipResourceURL,
		webhookKey:     webhookKey,
	}
}

// tipSuccessResponse is the 200 body for a fulfilled tip.
type tipSuccessResponse struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	Transaction string           `json:"transaction"`
	Donation    *domain.Donation `json:"donation,omitempty"`
}

// SendTipHandler drives the x402 tip flow for POST /api/send-tip.
func (h *TipHandlers) SendTipHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SendTipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=send_tip outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	paymentHeader := r.Header.Get("X-PAYMENT")
	receipt, err := h.service.ProcessTip(r.Context(), req, paymentHeader, h.tipResourceURL)
	if err != nil {
		h.writeTipError(w, req, err)
		return
	}

	log.Printf("level=info component=api endpoint=send_tip outcome=fulfilled slug=%s amount=%s tx_hash=%s",
		req.RecipientSlug, req.Amount, receipt.Transaction)

	if receipt.ReceiptHeader != "" {
		w.Header().Set(paymentResponseHeader, receipt.ReceiptHeader)
	}
	h.writeJSON(w, http.StatusOK, tipSuccessResponse{
		Success:     true,
		Message:     fmt.Sprintf("Tip sent to %s", receipt.RecipientName),
		Transaction: receipt.Transaction,
		Donation:    receipt.Donation,
	})
}

// writeTipError maps the service's typed errors onto the x402 HTTP surface.
func (h *TipHandlers) writeTipError(w http.ResponseWriter, req domain.SendTipRequest, err error) {
	var validationErr *app.ValidationError
	if errors.As(err, &validationErr) {
		log.Printf("level=warn component=api endpoint=send_tip outcome=reject reason=validation field=%s err=%v", validationErr.Field, err)
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
		return
	}

	if errors.Is(err, store.ErrRecipientNotFound) {
		log.Printf("level=warn component=api endpoint=send_tip outcome=reject reason=unknown_recipient slug=%s", req.RecipientSlug)
		h.writeError(w, http.StatusNotFound, "Recipient not found")
		return
	}

	var required *app.PaymentRequiredError
	if errors.As(err, &required) {
		h.writeJSON(w, http.StatusPaymentRequired, x402.PaymentRequired{
			X402Version: x402.Version,
			Error:       required.Message,
			Accepts:     required.Accepts,
		})
		return
	}

	var rejected *app.PaymentRejectedError
	if errors.As(err, &rejected) {
		reason := rejected.Reason
		if reason == "" {
			reason = rejected.Message
		}
		h.writeJSON(w, http.StatusPaymentRequired, x402.PaymentRequired{
			X402Version: x402.Version,
			Error:       reason,
			Accepts:     rejected.Accepts,
		})
		return
	}

	var limited *app.RateLimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Too many tip attempts, slow down")
		return
	}

	var facErr *app.FacilitatorError
	if errors.As(err, &facErr) {
		log.Printf("level=error component=api endpoint=send_tip outcome=error reason=facilitator_%s err=%v", facErr.Op, err)
		h.writeError(w, http.StatusInternalServerError, "Payment processing failed")
		return
	}

	log.Printf("level=error component=api endpoint=send_tip outcome=error err=%v", err)
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

// CreateRecipientHandler registers a creator profile for the authenticated
// wallet. The payout address always comes from the verified signature, never
// from the request body.
func (h *TipHandlers) CreateRecipientHandler(w http.ResponseWriter, r *http.Request) {
	address, ok := GetWalletAddress(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get wallet address from context")
		return
	}

	var req domain.CreateRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Address = address

	recipient, err := h.service.CreateRecipientProfile(r.Context(), req)
	if err != nil {
		var validationErr *app.ValidationError
		switch {
		case errors.As(err, &validationErr):
			h.writeError(w, http.StatusBadRequest, validationErr.Error())
		case errors.Is(err, store.ErrSlugTaken):
			h.writeError(w, http.StatusConflict, "Slug already taken")
		case errors.Is(err, store.ErrAddressRegistered):
			h.writeError(w, http.StatusConflict, "Address already registered")
		default:
			log.Printf("level=error component=api endpoint=create_user outcome=error address=%s err=%v", address, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, recipient)
}

// GetRecipientBySlugHandler serves public profiles for GET /api/user/slug/{slug}.
func (h *TipHandlers) GetRecipientBySlugHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	recipient, err := h.service.GetRecipientBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrRecipientNotFound) {
			h.writeError(w, http.StatusNotFound, "Recipient not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_user_by_slug outcome=error slug=%s err=%v", slug, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, recipient)
}

// GetRecipientByAddressHandler serves GET /api/user/{address}.
func (h *TipHandlers) GetRecipientByAddressHandler(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	recipient, err := h.service.GetRecipientByAddress(r.Context(), address)
	if err != nil {
		var validationErr *app.ValidationError
		switch {
		case errors.As(err, &validationErr):
			h.writeError(w, http.StatusBadRequest, validationErr.Error())
		case errors.Is(err, store.ErrRecipientNotFound):
			h.writeError(w, http.StatusNotFound, "Recipient not found")
		default:
			log.Printf("level=error component=api endpoint=get_user_by_address outcome=error address=%s err=%v", address, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, recipient)
}

// UpdateRecipientHandler serves PUT /api/user/{address}. The authenticated
// wallet may only modify its own profile.
func (h *TipHandlers) UpdateRecipientHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetWalletAddress(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get wallet address from context")
		return
	}
	address := chi.URLParam(r, "address")
	if !strings.EqualFold(caller, address) {
		h.writeError(w, http.StatusForbidden, "Cannot modify another wallet's profile")
		return
	}

	var updates domain.UpdateRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	recipient, err := h.service.UpdateRecipientProfile(r.Context(), address, updates)
	if err != nil {
		var validationErr *app.ValidationError
		switch {
		case errors.As(err, &validationErr):
			h.writeError(w, http.StatusBadRequest, validationErr.Error())
		case errors.Is(err, store.ErrRecipientNotFound):
			h.writeError(w, http.StatusNotFound, "Recipient not found")
		default:
			log.Printf("level=error component=api endpoint=update_user outcome=error address=%s err=%v", address, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, recipient)
}

// CheckSlugHandler serves GET /api/check-slug?slug=&currentAddress=.
func (h *TipHandlers) CheckSlugHandler(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("slug")
	currentAddress := r.URL.Query().Get("currentAddress")

	available, err := h.service.CheckSlugAvailability(r.Context(), slug, currentAddress)
	if err != nil {
		var validationErr *app.ValidationError
		if errors.As(err, &validationErr) {
			// A malformed slug is simply not available; the response still
			// explains why so the client can surface it.
			h.writeJSON(w, http.StatusOK, map[string]interface{}{
				"slug":      slug,
				"available": false,
				"reason":    validationErr.Message,
			})
			return
		}
		log.Printf("level=error component=api endpoint=check_slug outcome=error slug=%s err=%v", slug, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"slug":      strings.ToLower(strings.TrimSpace(slug)),
		"available": available,
	})
}

// donationListResponse wraps the donation history with pagination metadata.
type donationListResponse struct {
	Donations []domain.Donation `json:"donations"`
	Total     int64             `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// ListDonationsHandler serves GET /api/donations?address=&limit=&offset=.
func (h *TipHandlers) ListDonationsHandler(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		h.writeError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}

	opts := domain.DonationListOptions{Limit: 20}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			opts.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			opts.Offset = offset
		}
	}

	donations, total, err := h.service.ListDonations(r.Context(), address, opts)
	if err != nil {
		var validationErr *app.ValidationError
		if errors.As(err, &validationErr) {
			h.writeError(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		log.Printf("level=error component=api endpoint=list_donations outcome=error address=%s err=%v", address, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, donationListResponse{
		Donations: donations,
		Total:     total,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// ChainWebhookHandler ingests chain-activity events for POST /api/donations/webhook.
// The body is authenticated with an HMAC-SHA256 signature over the raw bytes.
func (h *TipHandlers) ChainWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if !h.verifyWebhookSignature(body, r.Header.Get("X-Webhook-Signature")) {
		log.Printf("level=warn component=api endpoint=donations_webhook outcome=reject reason=bad_signature")
		h.writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	var event domain.ChainWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	recorded, err := h.service.ProcessChainActivity(r.Context(), event)
	if err != nil {
		log.Printf("level=error component=api endpoint=donations_webhook outcome=error err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"received": len(event.Event.Activity),
		"recorded": recorded,
	})
}

func (h *TipHandlers) verifyWebhookSignature(body []byte, signature string) bool {
	if h.webhookKey == "" {
		// No key configured means the webhook endpoint is effectively
		// disabled rather than open.
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "0x")))
}

// writeJSON is a helper for writing JSON responses.
func (h *TipHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TipHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
