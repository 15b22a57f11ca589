/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, logging, or adding context to a request.
 *
 * Profile mutations are authenticated with a wallet signature instead of a
 * session: the client signs a timestamped message with the key behind the
 * payout address, and the middleware recovers the signer and compares it to
 * the claimed address.
 *
 * @dependencies
 * - context, net/http, strings, time: Standard Go libraries.
 * - github.com/ethereum/go-ethereum/crypto: Signature recovery (EIP-191 personal_sign).
 */

package api

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// WalletContextKey is a custom type for the context key to avoid collisions.
type WalletContextKey string

const walletAddressKey WalletContextKey = "walletAddress"

const (
	headerWalletAddress   = "X-Wallet-Address"
	headerWalletSignature = "X-Wallet-Signature"
	headerWalletTimestamp = "X-Wallet-Timestamp"
)

// authMessage is the exact text the client signs. The timestamp binds the
// signature to a moment in time so it cannot be replayed indefinitely.
func authMessage(timestamp string) string {
	return fmt.Sprintf("Authenticate with PiggyBanks at %s", timestamp)
}

// WalletAuthMiddleware validates a personal_sign signature over the
// timestamped auth message. maxAge bounds how old the signed timestamp may
// be before the signature is rejected as stale.
func WalletAuthMiddleware(maxAge time.Duration) func(http.Handler) http.Handler {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address := strings.TrimSpace(r.Header.Get(headerWalletAddress))
			signature := strings.TrimSpace(r.Header.Get(headerWalletSignature))
			timestamp := strings.TrimSpace(r.Header.Get(headerWalletTimestamp))

			if address == "" || signature == "" || timestamp == "" {
				http.Error(w, "Wallet authentication headers required", http.StatusUnauthorized)
				return
			}
			if !common.IsHexAddress(address) {
				http.Error(w, "Invalid wallet address", http.StatusUnauthorized)
				return
			}

			tsMillis, err := strconv.ParseInt(timestamp, 10, 64)
			if err != nil {
				http.Error(w, "Invalid timestamp", http.StatusUnauthorized)
				return
			}
			age := time.Since(time.UnixMilli(tsMillis))
			if age < -time.Minute || age > maxAge {
				http.Error(w, "Signature timestamp expired", http.StatusUnauthorized)
				return
			}

			recovered, err := recoverSigner(authMessage(timestamp), signature)
			if err != nil {
				http.Error(w, "Invalid signature", http.StatusUnauthorized)
				return
			}
			if !strings.EqualFold(recovered, address) {
				http.Error(w, "Signature does not match wallet address", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), walletAddressKey, strings.ToLower(address))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// recoverSigner recovers the address that produced an EIP-191 personal_sign
// signature over message.
func recoverSigner(message, signature string) (string, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("signature is not valid hex: %w", err)
	}
	if len(sigBytes) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	// Wallets return v as 27/28; go-ethereum expects 0/1.
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256([]byte(prefixed))

	pubKey, err := crypto.SigToPub(hash, sigBytes)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// GetWalletAddress retrieves the authenticated wallet address from the
// request context. Handlers should use this to identify the caller.
func GetWalletAddress(ctx context.Context) (string, bool) {
	address, ok := ctx.Value(walletAddressKey).(string)
	return address, ok
}
