package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumichat/economy/internal/httpapi"
	"github.com/lumichat/economy/internal/store/gormstore"
	"github.com/lumichat/economy/pkg/economy"
)

const (
	sessionSigningKey = "integration-secret"
	sessionIssuer     = "lumichat"
	sessionCookie     = "app_session"
	sessionUserID     = "integration-user"
	contentTypeJSON   = "application/json"
)

func TestRun_EconomyFlowIntegration(t *testing.T) {
	listenAddr := allocateListenAddress(t)
	cfg := httpapi.Config{
		ListenAddr:        listenAddr,
		RequestTimeout:    2 * time.Second,
		AllowedOrigins:    []string{"http://localhost:8000"},
		SessionSigningKey: sessionSigningKey,
		SessionIssuer:     sessionIssuer,
		SessionCookieName: sessionCookie,
	}

	service := startEconomyService(t)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	runErrors := make(chan error, 1)
	go func() { runErrors <- httpapi.Run(runCtx, cfg, service, zap.NewNop()) }()

	waitForServerHealthy(t, listenAddr)

	cookie := buildSessionCookie(t, cfg, sessionUserID)
	client := &http.Client{Timeout: 2 * time.Second}
	baseURL := fmt.Sprintf("http://%s", listenAddr)

	// Requests without a session cookie never reach the handlers.
	response, err := client.Get(baseURL + "/api/wallet")
	if err != nil {
		t.Fatalf("unauthenticated wallet request: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", response.StatusCode)
	}

	// Bootstrap grants the welcome credit once; a repeat call replays it.
	postJSON(t, client, baseURL+"/api/bootstrap", cookie, nil, http.StatusOK)
	postJSON(t, client, baseURL+"/api/bootstrap", cookie, nil, http.StatusOK)
	if balance := fetchWalletBalance(t, client, baseURL, cookie); balance != 30 {
		t.Fatalf("expected 30 coins after bootstrap, got %d", balance)
	}

	// Coin purchases credit base plus bonus coins.
	postJSON(t, client, baseURL+"/api/coins/purchase", cookie, map[string]any{
		"package_id":      "coins_100",
		"idempotency_key": "purchase-100",
	}, http.StatusOK)
	postJSON(t, client, baseURL+"/api/coins/purchase", cookie, map[string]any{
		"package_id":      "coins_300",
		"idempotency_key": "purchase-300",
	}, http.StatusOK)
	if balance := fetchWalletBalance(t, client, baseURL, cookie); balance != 500 {
		t.Fatalf("expected 500 coins after purchases, got %d", balance)
	}

	// Free tier quota counting.
	quotaBody := postJSON(t, client, baseURL+"/api/quota/consume", cookie, map[string]any{
		"quota_type": "messages",
	}, http.StatusOK)
	var usage struct {
		Used  int64 `json:"used"`
		Limit int64 `json:"limit"`
	}
	decodeJSON(t, quotaBody, &usage)
	if usage.Used != 1 || usage.Limit != 10 {
		t.Fatalf("expected 1/10 messages used, got %d/%d", usage.Used, usage.Limit)
	}

	// model_boost is closed to the free tier.
	errorBody := postJSON(t, client, baseURL+"/api/effects", cookie, map[string]any{
		"effect_type":     "model_boost",
		"idempotency_key": "boost-restricted",
	}, http.StatusForbidden)
	assertErrorCode(t, errorBody, "tier_restricted")

	// Upgrading to vip opens the effect and debits the tier price.
	postJSON(t, client, baseURL+"/api/membership/upgrade", cookie, map[string]any{
		"tier":            "vip",
		"idempotency_key": "upgrade-vip",
	}, http.StatusOK)
	if balance := fetchWalletBalance(t, client, baseURL, cookie); balance != 200 {
		t.Fatalf("expected 200 coins after upgrade, got %d", balance)
	}
	postJSON(t, client, baseURL+"/api/effects", cookie, map[string]any{
		"effect_type":     "model_boost",
		"idempotency_key": "boost-allowed",
	}, http.StatusOK)
	statusBody := getJSON(t, client, baseURL+"/api/effects/model_boost", cookie, http.StatusOK)
	var effectStatus struct {
		Active bool `json:"active"`
	}
	decodeJSON(t, statusBody, &effectStatus)
	if !effectStatus.Active {
		t.Fatalf("expected model_boost to be active")
	}

	// Content unlock and entitlement status.
	unlockBody := postJSON(t, client, baseURL+"/api/unlocks", cookie, map[string]any{
		"content_id":      "story-7",
		"product_id":      "content_unlock_7d",
		"idempotency_key": "unlock-story-7",
	}, http.StatusOK)
	var unlock struct {
		Transaction struct {
			TransactionID string `json:"transaction_id"`
		} `json:"transaction"`
		Charged bool `json:"charged"`
	}
	decodeJSON(t, unlockBody, &unlock)
	if !unlock.Charged || unlock.Transaction.TransactionID == "" {
		t.Fatalf("expected a charged unlock with a transaction id")
	}
	entitlementBody := getJSON(t, client, baseURL+"/api/unlocks/story-7", cookie, http.StatusOK)
	var entitlementStatus struct {
		Unlocked bool `json:"unlocked"`
	}
	decodeJSON(t, entitlementBody, &entitlementStatus)
	if !entitlementStatus.Unlocked {
		t.Fatalf("expected story-7 to be unlocked")
	}

	// Ad reward claims credit the configured reward once per token.
	postJSON(t, client, baseURL+"/api/ads/claims", cookie, map[string]any{
		"claim_token":     "ad-token-1",
		"source":          "ad_network",
		"client_unix_utc": time.Now().UTC().Unix(),
		"idempotency_key": "claim-1",
	}, http.StatusOK)
	reuseBody := postJSON(t, client, baseURL+"/api/ads/claims", cookie, map[string]any{
		"claim_token":     "ad-token-1",
		"source":          "ad_network",
		"client_unix_utc": time.Now().UTC().Unix(),
		"idempotency_key": "claim-2",
	}, http.StatusConflict)
	assertErrorCode(t, reuseBody, "invalid_claim_token")

	// Gifts move coins to the recipient atomically.
	postJSON(t, client, baseURL+"/api/gifts", cookie, map[string]any{
		"to_user_id":      "gift-recipient",
		"amount_coins":    int64(10),
		"idempotency_key": "gift-1",
	}, http.StatusOK)

	// Refund the content unlock and reject the second attempt.
	postJSON(t, client, baseURL+"/api/refunds", cookie, map[string]any{
		"transaction_id":  unlock.Transaction.TransactionID,
		"reason":          "accidental_purchase",
		"idempotency_key": "refund-1",
	}, http.StatusOK)
	refundAgainBody := postJSON(t, client, baseURL+"/api/refunds", cookie, map[string]any{
		"transaction_id":  unlock.Transaction.TransactionID,
		"reason":          "accidental_purchase",
		"idempotency_key": "refund-2",
	}, http.StatusConflict)
	assertErrorCode(t, refundAgainBody, "refund_already_processed")

	// 30 bootstrap + 110 + 360 purchased - 300 upgrade - 80 effect
	// - 100 unlock + 5 reward - 10 gift + 100 refund.
	if balance := fetchWalletBalance(t, client, baseURL, cookie); balance != 115 {
		t.Fatalf("expected 115 coins at the end of the flow, got %d", balance)
	}

	cancelRun()
	select {
	case err := <-runErrors:
		if err != nil {
			t.Fatalf("server run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func startEconomyService(t *testing.T) *economy.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/economy.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&gormstore.Account{},
		&gormstore.Transaction{},
		&gormstore.IdempotencyRecord{},
		&gormstore.Membership{},
		&gormstore.EffectGrant{},
		&gormstore.Entitlement{},
		&gormstore.RewardClaim{},
	)
	if err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	service, err := economy.NewService(gormstore.New(db), economy.DefaultProductConfig(), func() int64 {
		return time.Now().UTC().Unix()
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func allocateListenAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	address := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatalf("release port: %v", err)
	}
	return address
}

func waitForServerHealthy(t *testing.T, listenAddr string) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		response, err := client.Get(fmt.Sprintf("http://%s/healthz", listenAddr))
		if err == nil {
			response.Body.Close()
			if response.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server never became healthy on %s", listenAddr)
}

func buildSessionCookie(t *testing.T, cfg httpapi.Config, userID string) *http.Cookie {
	t.Helper()
	validator, err := httpapi.NewSessionValidator([]byte(cfg.SessionSigningKey), cfg.SessionIssuer, cfg.SessionCookieName)
	if err != nil {
		t.Fatalf("session validator: %v", err)
	}
	token, err := validator.IssueToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return &http.Cookie{Name: cfg.SessionCookieName, Value: token}
}

func postJSON(t *testing.T, client *http.Client, url string, cookie *http.Cookie, payload map[string]any, wantStatus int) []byte {
	t.Helper()
	body := []byte("{}")
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = encoded
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", contentTypeJSON)
	request.AddCookie(cookie)
	return executeRequest(t, client, request, wantStatus)
}

func getJSON(t *testing.T, client *http.Client, url string, cookie *http.Cookie, wantStatus int) []byte {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.AddCookie(cookie)
	return executeRequest(t, client, request, wantStatus)
}

func executeRequest(t *testing.T, client *http.Client, request *http.Request, wantStatus int) []byte {
	t.Helper()
	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", request.Method, request.URL.Path, err)
	}
	defer response.Body.Close()
	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if response.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d (%s)", request.Method, request.URL.Path, wantStatus, response.StatusCode, buffer.String())
	}
	return buffer.Bytes()
}

func decodeJSON(t *testing.T, raw []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(raw, target); err != nil {
		t.Fatalf("decode response %s: %v", raw, err)
	}
}

func assertErrorCode(t *testing.T, raw []byte, wantCode string) {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJSON(t, raw, &envelope)
	if envelope.Error.Code != wantCode {
		t.Fatalf("expected error code %q, got %q (%s)", wantCode, envelope.Error.Code, raw)
	}
}

func fetchWalletBalance(t *testing.T, client *http.Client, baseURL string, cookie *http.Cookie) int64 {
	t.Helper()
	body := getJSON(t, client, baseURL+"/api/wallet", cookie, http.StatusOK)
	var envelope struct {
		Wallet struct {
			Balance int64 `json:"balance_coins"`
		} `json:"wallet"`
	}
	decodeJSON(t, body, &envelope)
	return envelope.Wallet.Balance
}
