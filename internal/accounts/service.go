package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/internal/referrals"
	pkgAuth "github.com/face10ai/credits-backend/pkg/auth"
	"github.com/face10ai/credits-backend/pkg/auth/session"
	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/security"
)

const (
	invalidCredentialsMessage = "invalid credentials"
	initialCreditsDescription = "Crédits initiaux pour nouveau compte"

	DefaultInitialCredits = 5
	referralCodeLength    = 8
	maxCodeAttempts       = 5
)

var errReferralCodeTaken = errors.New("referral code already taken")

// Service handles signup, login and the owner's profile.
type Service interface {
	Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error)
	Login(ctx context.Context, req LoginRequest) (*SessionResponse, error)
	Refresh(ctx context.Context, req RefreshRequest) (*SessionResponse, error)
	Logout(ctx context.Context, accessID string) error
	Get(ctx context.Context, accountID uuid.UUID) (*AccountDTO, error)
}

type creditService interface {
	GrantTx(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int, txType enums.CreditTransactionType, description string) error
	RefreshIfDue(ctx context.Context, accountID uuid.UUID) (bool, error)
}

type referralService interface {
	Track(ctx context.Context, code string, newAccountID uuid.UUID) (referrals.Outcome, error)
	BuildReferralURL(code string) string
}

type sessionManager interface {
	Generate(ctx context.Context, accountID uuid.UUID, accessID string) (string, error)
	Rotate(ctx context.Context, accountID uuid.UUID, oldAccessID, provided string) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams bundles the dependencies required to build an account service.
type ServiceParams struct {
	Repo              Repository
	Credits           creditService
	Referrals         referralService
	SessionManager    sessionManager
	TransactionRunner txRunner
	JWTConfig         config.JWTConfig
	PasswordConfig    config.PasswordConfig
	InitialCredits    int
	Logger            *logger.Logger
}

type service struct {
	repo           Repository
	credits        creditService
	referrals      referralService
	session        sessionManager
	tx             txRunner
	jwtCfg         config.JWTConfig
	hasher         *security.Hasher
	initialCredits int
	logg           *logger.Logger
	now            func() time.Time
}

// NewService constructs an account service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("account repository is required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credit service is required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referral service is required")
	}
	if params.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	initial := params.InitialCredits
	if initial <= 0 {
		initial = DefaultInitialCredits
	}
	return &service{
		repo:           params.Repo,
		credits:        params.Credits,
		referrals:      params.Referrals,
		session:        params.SessionManager,
		tx:             params.TransactionRunner,
		jwtCfg:         params.JWTConfig,
		hasher:         security.NewHasher(params.PasswordConfig),
		initialCredits: initial,
		logg:           params.Logger,
		now:            time.Now,
	}, nil
}

// Signup creates the account and its initial grant in one transaction, then
// applies the referral code. A referral problem never fails the signup.
func (s *service) Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	var account *models.Account
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		account, err = s.createAccount(ctx, email, strings.TrimSpace(req.Name), passwordHash)
		if !errors.Is(err, errReferralCodeTaken) {
			break
		}
	}
	if errors.Is(err, errReferralCodeTaken) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a referral code, please retry")
	}
	if err != nil {
		return nil, err
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithAccountID(ctx, account.ID.String())
		s.logg.Info(logCtx, "account created")
	}

	resp := &SignupResponse{}
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		outcome, err := s.referrals.Track(ctx, code, account.ID)
		if err != nil && s.logg != nil {
			s.logg.Error(logCtx, "referral tracking failed", err)
		}
		resp.Referral = outcome
	}

	sess, err := s.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}
	resp.SessionResponse = *sess
	return resp, nil
}

func (s *service) createAccount(ctx context.Context, email, name, passwordHash string) (*models.Account, error) {
	code, err := security.GenerateCode(referralCodeLength)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate referral code")
	}

	account := &models.Account{
		Email:        email,
		PasswordHash: &passwordHash,
		ReferralCode: code,
	}
	if name != "" {
		account.Name = &name
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByEmail(ctx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		} else if !isNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check account email")
		}

		if err := repo.Create(ctx, account); err != nil {
			switch {
			case db.IsUniqueViolation(err, models.ConstraintAccountsEmail, models.ColumnAccountsEmail):
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
			case db.IsUniqueViolation(err, models.ConstraintAccountsReferralCode, models.ColumnAccountsReferralCode):
				return errReferralCodeTaken
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
		}

		return s.credits.GrantTx(ctx, tx, account.ID, s.initialCredits, enums.CreditTransactionInitial, initialCreditsDescription)
	})
	if err != nil {
		return nil, err
	}
	account.CreditsRemaining = s.initialCredits
	return account, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*SessionResponse, error) {
	account, err := s.authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	return s.issueSession(ctx, account)
}

// Refresh rotates the refresh token bound to the access token's jti.
func (s *service) Refresh(ctx context.Context, req RefreshRequest) (*SessionResponse, error) {
	claims, err := pkgAuth.ParseAccessTokenAllowExpired(s.jwtCfg, strings.TrimSpace(req.AccessToken))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid access token")
	}

	accessID, refreshToken, err := s.session.Rotate(ctx, claims.AccountID, claims.ID, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		if errors.Is(err, session.ErrInvalidRefreshToken) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate refresh token")
	}

	account, err := s.repo.FindByID(ctx, claims.AccountID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}

	accessToken, err := s.mint(account, accessID)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Account:      s.toDTO(account),
	}, nil
}

func (s *service) Logout(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session")
	}
	if err := s.session.Revoke(ctx, accessID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session")
	}
	return nil
}

// Get returns the profile after applying any due credit refresh.
func (s *service) Get(ctx context.Context, accountID uuid.UUID) (*AccountDTO, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if _, err := s.credits.RefreshIfDue(ctx, accountID); err != nil {
		return nil, err
	}
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return s.toDTO(account), nil
}

func (s *service) authenticate(ctx context.Context, email, password string) (*models.Account, error) {
	input := strings.TrimSpace(email)
	if input == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	account, err := s.repo.FindByEmail(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account")
	}
	// accounts created through an external identity provider have no password
	if account.PasswordHash == nil || *account.PasswordHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	match, stale, err := s.hasher.Verify(password, *account.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !match {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	if stale {
		s.upgradeHash(ctx, account, password)
	}
	return account, nil
}

// upgradeHash re-hashes at the current cost. Failure leaves the old hash usable.
func (s *service) upgradeHash(ctx context.Context, account *models.Account, password string) {
	encoded, err := s.hasher.Hash(password)
	if err == nil {
		err = s.repo.UpdatePasswordHash(ctx, account.ID, encoded)
	}
	if err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithAccountID(ctx, account.ID.String()), "password hash upgrade failed: "+err.Error())
	}
}

func (s *service) issueSession(ctx context.Context, account *models.Account) (*SessionResponse, error) {
	accessID := session.NewAccessID()
	accessToken, err := s.mint(account, accessID)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.session.Generate(ctx, account.ID, accessID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store refresh token")
	}
	return &SessionResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Account:      s.toDTO(account),
	}, nil
}

func (s *service) mint(account *models.Account, accessID string) (string, error) {
	token, err := pkgAuth.MintAccessToken(s.jwtCfg, s.now().UTC(), pkgAuth.AccessTokenPayload{
		AccountID: account.ID,
		Email:     account.Email,
		Tier:      account.SubscriptionTier,
		JTI:       accessID,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	return token, nil
}

func (s *service) toDTO(account *models.Account) *AccountDTO {
	dto := FromModel(account)
	if dto != nil && dto.ReferralCode != "" {
		dto.ReferralURL = s.referrals.BuildReferralURL(dto.ReferralCode)
	}
	return dto
}
