/**
 * @description
 * This package provides a client for the external x402 facilitator API.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * facilitator's verify and settle endpoints, handling request body
 * construction, and parsing responses.
 *
 * Both calls are remote, fallible, and not idempotent-safe to retry
 * blindly: a settle call that fails without a clear response is surfaced
 * as an error rather than retried, since a retry could risk a double
 * submission. Retry decisions belong to the client of the tip API, which
 * must obtain a fresh payment proof.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: per-request ES256 bearer token minting.
 * - internal/x402: wire types shared with the orchestrator.
 */
package facilitator

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/piggybanks/tip-service/internal/x402"
)

// Client is a client for the x402 facilitator API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// CallTimeout bounds each verify/settle round trip when the caller's
	// context carries no deadline of its own.
	CallTimeout time.Duration

	keyID      string
	signingKey *ecdsa.PrivateKey
}

// NewClient creates a new facilitator client. keySecret is the PEM-encoded
// EC private key matching keyID; both come from the facilitator account's
// API credentials.
func NewClient(baseURL, keyID, keySecret string, callTimeout time.Duration) (*Client, error) {
	signingKey, err := parseECPrivateKey(keySecret)
	if err != nil {
		return nil, fmt.Errorf("invalid facilitator API key secret: %w", err)
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	return &Client{
		BaseURL:     baseURL,
		HTTPClient:  &http.Client{Timeout: callTimeout},
		CallTimeout: callTimeout,
		keyID:       keyID,
		signingKey:  signingKey,
	}, nil
}

// request is the payload sent to the facilitator's verify and settle
// endpoints. The payment payload is forwarded verbatim as raw JSON.
type request struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      json.RawMessage          `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// ErrorResponse represents an error body from the facilitator API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	ErrorMsg   string `json:"error"`
	Detail     string `json:"detail"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorMsg != "" {
		return fmt.Sprintf("facilitator api error (status %d): %s", e.StatusCode, e.ErrorMsg)
	}
	return fmt.Sprintf("facilitator api error (status %d)", e.StatusCode)
}

// Verify asks the facilitator to validate a payment proof against the given
// requirements without executing it.
func (c *Client) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var result x402.VerifyResponse
	if err := c.post(ctx, "/verify", payload, reqs, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Settle asks the facilitator to submit a verified payment proof for
// on-chain execution. Never retried: once initiated, the outcome is
// whatever the facilitator reports.
func (c *Client) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var result x402.SettleResponse
	if err := c.post(ctx, "/settle", payload, reqs, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post executes one facilitator call and decodes the response into out.
func (c *Client) post(ctx context.Context, path string, payload x402.PaymentPayload, reqs x402.PaymentRequirements, out interface{}) error {
	body, err := json.Marshal(request{
		X402Version:         x402.Version,
		PaymentPayload:      json.RawMessage(payload),
		PaymentRequirements: reqs,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal facilitator request: %w", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.CallTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create facilitator request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.signingKey != nil {
		token, err := c.bearerToken(req)
		if err != nil {
			return fmt.Errorf("failed to sign facilitator request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute facilitator request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read facilitator response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=facilitator_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return &ErrorResponse{StatusCode: resp.StatusCode}
		}
		log.Printf("level=warn component=facilitator_client op=%s status=%d error=%q detail=%q", path, resp.StatusCode, errResp.ErrorMsg, errResp.Detail)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode facilitator response: %w", err)
	}
	return nil
}

// bearerToken mints a short-lived ES256 JWT bound to the request method and
// URI, the credential model the facilitator's API expects.
func (c *Client) bearerToken(req *http.Request) (string, error) {
	now := time.Now()
	uri := req.Method + " " + req.URL.Host + req.URL.Path

	claims := jwt.MapClaims{
		"sub": c.keyID,
		"iss": "cdp",
		"nbf": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
		"uris": []string{
			uri,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.keyID

	return token.SignedString(c.signingKey)
}

// parseECPrivateKey accepts SEC1 or PKCS#8 PEM-encoded EC private keys.
func parseECPrivateKey(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("PEM block does not contain an EC private key")
	}
	return key, nil
}

// ValidateBaseURL rejects obviously broken facilitator endpoints at startup
// so misconfiguration fails the process, not individual tip requests.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("facilitator base URL must be http(s), got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("facilitator base URL missing host: %q", raw)
	}
	return nil
}
