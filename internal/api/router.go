/**
 * @description
 * This file sets up the HTTP router for the tip-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS support for browser-based tip clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// TipRoutes creates and returns a new router for the tip service.
func TipRoutes(h *TipHandlers, allowedOrigins []string, walletAuthMaxAge time.Duration) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type", "X-PAYMENT",
			headerWalletAddress, headerWalletSignature, headerWalletTimestamp,
		},
		ExposedHeaders: []string{paymentResponseHeader, "Retry-After"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/api", func(r chi.Router) {
		// The paid tip endpoint and public reads need no session: payment
		// authorization travels in the X-PAYMENT header itself.
		r.Post("/send-tip", h.SendTipHandler)
		r.Get("/user/slug/{slug}", h.GetRecipientBySlugHandler)
		r.Get("/user/{address}", h.GetRecipientByAddressHandler)
		r.Get("/check-slug", h.CheckSlugHandler)
		r.Get("/donations", h.ListDonationsHandler)
		r.Post("/donations/webhook", h.ChainWebhookHandler)

		// Profile mutations require a wallet signature.
		r.Group(func(r chi.Router) {
			r.Use(WalletAuthMiddleware(walletAuthMaxAge))

			r.Post("/create-user", h.CreateRecipientHandler)
			r.Put("/user/{address}", h.UpdateRecipientHandler)
		})
	})

	return r
}
