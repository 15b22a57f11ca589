package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/piggybanks/tip-service/internal/app"
	"github.com/piggybanks/tip-service/internal/domain"
	"github.com/piggybanks/tip-service/internal/store"
	"github.com/piggybanks/tip-service/internal/x402"
	"github.com/piggybanks/tip-service/pkg/rabbitmq"
)

const (
	testPayout   = "0x1111111111111111111111111111111111111111"
	testSender   = "0x2222222222222222222222222222222222222222"
	testResource = "https://tips.example.com/api/send-tip"
	testHookKey  = "hook-secret"
)

type fakeRepo struct {
	store.Repository

	recipient   *domain.Recipient
	findSlugErr error
	donations   []domain.Donation
}

func (r *fakeRepo) FindRecipientBySlug(ctx context.Context, slug string) (*domain.Recipient, error) {
	if r.findSlugErr != nil {
		return nil, r.findSlugErr
	}
	return r.recipient, nil
}

func (r *fakeRepo) FindRecipientByAddress(ctx context.Context, address string) (*domain.Recipient, error) {
	if r.recipient != nil && strings.EqualFold(r.recipient.Address, address) {
		return r.recipient, nil
	}
	return nil, store.ErrRecipientNotFound
}

func (r *fakeRepo) CreateDonation(ctx context.Context, donation *domain.Donation) error {
	donation.ID = uuid.New()
	r.donations = append(r.donations, *donation)
	return nil
}

func (r *fakeRepo) IsSlugAvailable(ctx context.Context, slug string) (bool, error) {
	return r.recipient == nil || r.recipient.Slug != slug, nil
}

type fakeGateway struct {
	verifyResp *x402.VerifyResponse
	verifyErr  error
	settleResp *x402.SettleResponse
	settleErr  error
}

func (g *fakeGateway) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	return g.verifyResp, g.verifyErr
}

func (g *fakeGateway) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (*x402.SettleResponse, error) {
	return g.settleResp, g.settleErr
}

type fakePublisher struct{}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}
func (p *fakePublisher) PublishDonationConfirmed(ctx context.Context, event rabbitmq.DonationConfirmedEvent) error {
	return nil
}
func (p *fakePublisher) PublishReconciliationNeeded(ctx context.Context, event rabbitmq.ReconciliationEvent) error {
	return nil
}
func (p *fakePublisher) Close() {}

func newTestRouter(repo *fakeRepo, gateway *fakeGateway) http.Handler {
	builder := x402.NewBuilder(x402.Asset{
		Network:  "base-sepolia",
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Symbol:   "USDC",
		Decimals: 6,
		Name:     "USDC",
		Version:  "2",
	}, 60)
	svc := app.NewService(repo, gateway, &fakePublisher{}, builder, 84532, nil, app.RateLimitConfig{})
	h := NewTipHandlers(svc, testResource, testHookKey)
	return TipRoutes(h, nil, 5*time.Minute)
}

func activeRecipient() *domain.Recipient {
	return &domain.Recipient{
		ID:          uuid.New(),
		Address:     testPayout,
		Slug:        "alice",
		DisplayName: "Alice",
		IsActive:    true,
	}
}

func tipBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(domain.SendTipRequest{
		RecipientSlug: "alice",
		Amount:        "10",
		SenderAddress: testSender,
	})
	if err != nil {
		t.Fatalf("marshal tip body: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestSendTip_NoPaymentHeaderReturns402Challenge(t *testing.T) {
	router := newTestRouter(&fakeRepo{recipient: activeRecipient()}, &fakeGateway{})

	req := httptest.NewRequest("POST", "/api/send-tip", tipBody(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}

	var challenge x402.PaymentRequired
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.X402Version != 1 {
		t.Errorf("expected x402Version 1, got %d", challenge.X402Version)
	}
	if challenge.Error == "" {
		t.Error("challenge must explain why payment is required")
	}
	if len(challenge.Accepts) != 1 {
		t.Fatalf("expected one payment requirement, got %d", len(challenge.Accepts))
	}
	if challenge.Accepts[0].PayTo != testPayout {
		t.Errorf("challenge must pay to the stored payout address, got %s", challenge.Accepts[0].PayTo)
	}
	if challenge.Accepts[0].MaxAmountRequired != "10000000" {
		t.Errorf("expected scaled amount, got %s", challenge.Accepts[0].MaxAmountRequired)
	}
}

func TestSendTip_HappyPathSetsReceiptHeader(t *testing.T) {
	repo := &fakeRepo{recipient: activeRecipient()}
	gateway := &fakeGateway{
		verifyResp: &x402.VerifyResponse{IsValid: true, Payer: testSender},
		settleResp: &x402.SettleResponse{Success: true, Transaction: "0xdeadbeef", Network: "base-sepolia", Payer: testSender},
	}
	router := newTestRouter(repo, gateway)

	req := httptest.NewRequest("POST", "/api/send-tip", tipBody(t))
	req.Header.Set("X-PAYMENT", "eyJ4NDAyVmVyc2lvbiI6MX0=")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	receiptHeader := rec.Header().Get("X-PAYMENT-RESPONSE")
	if receiptHeader == "" {
		t.Fatal("expected X-PAYMENT-RESPONSE header")
	}
	receipt, err := x402.DecodeReceiptHeader(receiptHeader)
	if err != nil {
		t.Fatalf("receipt header must decode: %v", err)
	}
	if receipt.Transaction != "0xdeadbeef" {
		t.Errorf("unexpected receipt transaction: %s", receipt.Transaction)
	}

	var body tipSuccessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Success || body.Transaction != "0xdeadbeef" {
		t.Errorf("unexpected response body: %+v", body)
	}
	if len(repo.donations) != 1 {
		t.Errorf("expected one donation recorded, got %d", len(repo.donations))
	}
}

func TestSendTip_MalformedHeaderReturns402WithExactError(t *testing.T) {
	router := newTestRouter(&fakeRepo{recipient: activeRecipient()}, &fakeGateway{})

	req := httptest.NewRequest("POST", "/api/send-tip", tipBody(t))
	req.Header.Set("X-PAYMENT", "not-base64!!!")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	var challenge x402.PaymentRequired
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.Error != "Invalid X-PAYMENT header format" {
		t.Errorf("expected the canonical malformed-header error, got %q", challenge.Error)
	}
}

func TestSendTip_MissingSenderAddressReturns400(t *testing.T) {
	router := newTestRouter(&fakeRepo{recipient: activeRecipient()}, &fakeGateway{})

	req := httptest.NewRequest("POST", "/api/send-tip", strings.NewReader(`{"recipientSlug":"alice","amount":"10"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without senderAddress, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSendTip_UnknownRecipientReturns404(t *testing.T) {
	router := newTestRouter(&fakeRepo{findSlugErr: store.ErrRecipientNotFound}, &fakeGateway{})

	req := httptest.NewRequest("POST", "/api/send-tip", tipBody(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSendTip_InvalidBodyReturns400(t *testing.T) {
	router := newTestRouter(&fakeRepo{recipient: activeRecipient()}, &fakeGateway{})

	req := httptest.NewRequest("POST", "/api/send-tip", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSendTip_SettleFailureReturns500(t *testing.T) {
	gateway := &fakeGateway{
		verifyResp: &x402.VerifyResponse{IsValid: true},
		settleErr:  errors.New("facilitator unreachable"),
	}
	router := newTestRouter(&fakeRepo{recipient: activeRecipient()}, gateway)

	req := httptest.NewRequest("POST", "/api/send-tip", tipBody(t))
	req.Header.Set("X-PAYMENT", "eyJ4NDAyVmVyc2lvbiI6MX0=")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("an unknown settlement outcome must be 500, got %d", rec.Code)
	}
}

func TestSendTip_InvalidProofReturns402WithReason(t *testing.T) {
	gateway := &fakeGateway{
		verifyResp: &x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds"},
	}
	router := newTestRouter(&fakeRepo{recipient: activeRecipient()}, gateway)

	req := httptest.NewRequest("POST", "/api/send-tip", tipBody(t))
	req.Header.Set("X-PAYMENT", "eyJ4NDAyVmVyc2lvbiI6MX0=")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	var challenge x402.PaymentRequired
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.Error != "insufficient_funds" {
		t.Errorf("expected facilitator reason in challenge, got %q", challenge.Error)
	}
	if len(challenge.Accepts) != 1 {
		t.Error("rejection must carry a fresh challenge")
	}
}

func TestGetRecipientBySlug(t *testing.T) {
	router := newTestRouter(&fakeRepo{recipient: activeRecipient()}, &fakeGateway{})

	req := httptest.NewRequest("GET", "/api/user/slug/alice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var recipient domain.Recipient
	if err := json.Unmarshal(rec.Body.Bytes(), &recipient); err != nil {
		t.Fatalf("decode recipient: %v", err)
	}
	if recipient.Slug != "alice" {
		t.Errorf("unexpected recipient: %+v", recipient)
	}
}

func TestCheckSlug(t *testing.T) {
	router := newTestRouter(&fakeRepo{recipient: activeRecipient()}, &fakeGateway{})

	req := httptest.NewRequest("GET", "/api/check-slug?slug=bob-the-builder", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["available"] != true {
		t.Errorf("expected available=true, got %v", resp["available"])
	}

	// Malformed slugs report unavailable instead of erroring.
	req = httptest.NewRequest("GET", "/api/check-slug?slug=x", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["available"] != false {
		t.Errorf("expected available=false for malformed slug, got %v", resp["available"])
	}
}

func TestCreateRecipient_RequiresWalletAuth(t *testing.T) {
	router := newTestRouter(&fakeRepo{}, &fakeGateway{})

	req := httptest.NewRequest("POST", "/api/create-user", strings.NewReader(`{"slug":"alice"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without wallet auth headers, got %d", rec.Code)
	}
}

func signHookBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testHookKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestChainWebhook_RejectsBadSignature(t *testing.T) {
	router := newTestRouter(&fakeRepo{recipient: activeRecipient()}, &fakeGateway{})

	req := httptest.NewRequest("POST", "/api/donations/webhook", strings.NewReader(`{}`))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
}

func TestChainWebhook_RecordsSignedActivity(t *testing.T) {
	repo := &fakeRepo{recipient: activeRecipient()}
	router := newTestRouter(repo, &fakeGateway{})

	body := []byte(`{
		"type": "ADDRESS_ACTIVITY",
		"event": {
			"network": "base-sepolia",
			"activity": [
				{"hash": "0xaaa", "fromAddress": "` + testSender + `", "toAddress": "` + testPayout + `", "asset": "USDC", "value": "2.5"}
			]
		}
	}`)

	req := httptest.NewRequest("POST", "/api/donations/webhook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signHookBody(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.donations) != 1 {
		t.Fatalf("expected one donation recorded, got %d", len(repo.donations))
	}
	if repo.donations[0].AmountRaw != "2500000" {
		t.Errorf("expected scaled amount, got %s", repo.donations[0].AmountRaw)
	}
}
