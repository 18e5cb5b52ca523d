package accounts

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/face10ai/credits-backend/internal/credits"
	"github.com/face10ai/credits-backend/internal/referrals"
	pkgAuth "github.com/face10ai/credits-backend/pkg/auth"
	"github.com/face10ai/credits-backend/pkg/auth/session"
	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/db/dbtest"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
	redisclient "github.com/face10ai/credits-backend/pkg/redis"
	"github.com/face10ai/credits-backend/pkg/security"
)

var testJWT = config.JWTConfig{
	Secret:                 "secret",
	Issuer:                 "face10ai",
	ExpirationMinutes:      30,
	RefreshTokenTTLMinutes: 60,
}

var testPassword = config.PasswordConfig{ArgonMemoryKB: 64, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32}

type harness struct {
	client  *db.Client
	svc     Service
	credits credits.Service
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client := dbtest.New(t)
	logg := logger.Nop()

	creditSvc, err := credits.NewService(credits.ServiceParams{
		Repo:              credits.NewRepository(client.DB()),
		TransactionRunner: client,
		Logger:            logg,
	})
	if err != nil {
		t.Fatalf("credits service: %v", err)
	}
	referralSvc, err := referrals.NewService(referrals.ServiceParams{
		Repo:              referrals.NewRepository(client.DB()),
		Credits:           creditSvc,
		TransactionRunner: client,
		Logger:            logg,
		AppURL:            "http://localhost:3000",
	})
	if err != nil {
		t.Fatalf("referral service: %v", err)
	}

	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	manager, err := session.NewManager(redisclient.Wrap(raw), testJWT)
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(client.DB()),
		Credits:           creditSvc,
		Referrals:         referralSvc,
		SessionManager:    manager,
		TransactionRunner: client,
		JWTConfig:         testJWT,
		PasswordConfig:    testPassword,
		InitialCredits:    5,
		Logger:            logg,
	})
	if err != nil {
		t.Fatalf("account service: %v", err)
	}
	return harness{client: client, svc: svc, credits: creditSvc}
}

func (h harness) signup(t *testing.T, email, code string) *SignupResponse {
	t.Helper()
	resp, err := h.svc.Signup(context.Background(), SignupRequest{
		Email:        email,
		Password:     "correct horse",
		ReferralCode: code,
	})
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return resp
}

func TestSignupGrantsInitialCredits(t *testing.T) {
	h := newHarness(t)
	resp := h.signup(t, "  New.User@Example.com ", "")

	if resp.Account.Email != "new.user@example.com" {
		t.Fatalf("expected normalized email, got %q", resp.Account.Email)
	}
	if resp.Account.Credits != 5 {
		t.Fatalf("expected 5 credits, got %d", resp.Account.Credits)
	}
	if resp.Account.Tier != enums.SubscriptionTierFree {
		t.Fatalf("expected FREE tier, got %s", resp.Account.Tier)
	}
	if len(resp.Account.ReferralCode) != 8 {
		t.Fatalf("expected 8 char referral code, got %q", resp.Account.ReferralCode)
	}
	if resp.Account.ReferralURL != "http://localhost:3000?ref="+resp.Account.ReferralCode {
		t.Fatalf("unexpected referral url %q", resp.Account.ReferralURL)
	}
	if resp.Account.Name != "new.user" {
		t.Fatalf("expected name to default to local part, got %q", resp.Account.Name)
	}

	var txns []models.CreditTransaction
	if err := h.client.DB().Where("account_id = ?", resp.Account.ID).Find(&txns).Error; err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	if len(txns) != 1 || txns[0].Type != enums.CreditTransactionInitial || txns[0].Amount != 5 {
		t.Fatalf("expected one initial transaction of 5, got %+v", txns)
	}

	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.AccountID != resp.Account.ID {
		t.Fatalf("expected token for %s, got %s", resp.Account.ID, claims.AccountID)
	}
	if resp.RefreshToken == "" {
		t.Fatalf("expected refresh token")
	}
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "dup@example.com", "")

	_, err := h.svc.Signup(context.Background(), SignupRequest{Email: "DUP@example.com", Password: "another-pass"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Signup(context.Background(), SignupRequest{Email: "short@example.com", Password: "abc"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSignupWithReferralRewardsReferrer(t *testing.T) {
	h := newHarness(t)
	referrer := h.signup(t, "referrer@example.com", "")

	referred := h.signup(t, "friend@example.com", referrer.Account.ReferralCode)
	if referred.Referral != referrals.OutcomeCreated {
		t.Fatalf("expected referral to be created, got %q", referred.Referral)
	}

	balance, err := h.credits.CheckBalance(context.Background(), referrer.Account.ID)
	if err != nil {
		t.Fatalf("check balance: %v", err)
	}
	if balance != 15 {
		t.Fatalf("expected 5 initial + 10 referral credits, got %d", balance)
	}

	other := h.signup(t, "stranger@example.com", "UNKNOWN1")
	if other.Referral != referrals.OutcomeUnknownCode {
		t.Fatalf("expected unknown code outcome, got %q", other.Referral)
	}
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "login@example.com", "")
	ctx := context.Background()

	resp, err := h.svc.Login(ctx, LoginRequest{Email: "LOGIN@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected tokens")
	}

	_, err = h.svc.Login(ctx, LoginRequest{Email: "login@example.com", Password: "wrong password"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}

	_, err = h.svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "correct horse"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}
}

func TestLoginUpgradesWeakPasswordHash(t *testing.T) {
	h := newHarness(t)
	signed := h.signup(t, "legacy@example.com", "")

	weak := testPassword
	weak.ArgonMemoryKB = 8
	legacy, err := security.NewHasher(weak).Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := h.client.DB().Model(&models.Account{}).Where("id = ?", signed.Account.ID).
		Update("password_hash", legacy).Error; err != nil {
		t.Fatalf("seed legacy hash: %v", err)
	}

	if _, err := h.svc.Login(context.Background(), LoginRequest{Email: "legacy@example.com", Password: "correct horse"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	var stored models.Account
	if err := h.client.DB().First(&stored, "id = ?", signed.Account.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !strings.Contains(*stored.PasswordHash, "m=64,") {
		t.Fatalf("expected hash upgraded to current cost, got %q", *stored.PasswordHash)
	}
}

func TestLoginRejectsProviderAccountsWithoutPassword(t *testing.T) {
	h := newHarness(t)
	acct := &models.Account{Email: "oauth@example.com", ReferralCode: "OAUTH001", AuthProvider: "google"}
	if err := h.client.DB().Create(acct).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}

	_, err := h.svc.Login(context.Background(), LoginRequest{Email: "oauth@example.com", Password: "anything"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	h := newHarness(t)
	signed := h.signup(t, "refresh@example.com", "")
	ctx := context.Background()

	rotated, err := h.svc.Refresh(ctx, RefreshRequest{AccessToken: signed.AccessToken, RefreshToken: signed.RefreshToken})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == signed.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	_, err = h.svc.Refresh(ctx, RefreshRequest{AccessToken: signed.AccessToken, RefreshToken: signed.RefreshToken})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected reused refresh token to be rejected, got %v", err)
	}

	_, err = h.svc.Refresh(ctx, RefreshRequest{AccessToken: "garbage", RefreshToken: rotated.RefreshToken})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected invalid access token to be rejected, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	h := newHarness(t)
	signed := h.signup(t, "logout@example.com", "")
	ctx := context.Background()

	claims, err := pkgAuth.ParseAccessToken(testJWT, signed.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := h.svc.Logout(ctx, claims.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err = h.svc.Refresh(ctx, RefreshRequest{AccessToken: signed.AccessToken, RefreshToken: signed.RefreshToken})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected revoked session to be rejected, got %v", err)
	}
}

func TestGet(t *testing.T) {
	h := newHarness(t)
	signed := h.signup(t, "get@example.com", "")

	dto, err := h.svc.Get(context.Background(), signed.Account.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if dto.Credits != 5 || dto.Email != "get@example.com" {
		t.Fatalf("unexpected profile %+v", dto)
	}
}
