package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/store"
)

const tokenIssuer = "kasirinaja-opscore"

// AuthManager issues and verifies staff bearer tokens. Accounts live in the
// repository; the manager keeps no credential state of its own.
type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	users      UserStore
	now        func() time.Time
}

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	GetStaff(ctx context.Context, id string) (*domain.Staff, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Role     string `json:"role"`
	OutletID string `json:"outlet_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	// An empty PIN stays empty, which never validates.
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN != "" {
		if hashed, err := hashPassword(managerPIN); err == nil {
			managerPIN = hashed
		}
	}

	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
		users:      users,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	invalid := apperr.New(apperr.CodeUnauthorized, "invalid credentials")

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return domain.LoginResponse{}, invalid
	}
	account, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, invalid
		}
		return domain.LoginResponse{}, apperr.Wrap(apperr.CodePersistence, err, "load account")
	}
	if !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, invalid
	}
	if !account.Active {
		return domain.LoginResponse{}, apperr.New(apperr.CodeUnauthorized, "account is inactive")
	}

	actor := domain.Actor{
		StaffID:  account.StaffID,
		Name:     account.Username,
		Role:     account.Role,
		OutletID: account.OutletID,
	}
	if member, err := a.users.GetStaff(ctx, account.StaffID); err == nil {
		actor.Name = member.Name
		if member.OutletID != "" {
			actor.OutletID = member.OutletID
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, apperr.Wrap(apperr.CodePersistence, err, "load staff")
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(actor, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, apperr.Wrap(apperr.CodeInternal, err, "sign token")
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        actor.Role,
		StaffID:     actor.StaffID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Register stores a new account with its password hashed.
func (a *AuthManager) Register(ctx context.Context, account domain.UserAccount, password string) error {
	account.Username = strings.ToLower(strings.TrimSpace(account.Username))
	if len(account.Username) < 4 || strings.ContainsAny(account.Username, " \t\r\n") {
		return apperr.Validation("username must be at least 4 characters without spaces")
	}
	if len(password) < 6 {
		return apperr.Validation("password must be at least 6 characters")
	}
	if account.StaffID == "" {
		return apperr.Validation("staff id is required")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "hash password")
	}
	account.Password = hashed
	account.Active = true
	if account.CreatedAt.IsZero() {
		account.CreatedAt = a.now()
	}
	if err := a.users.CreateUser(ctx, account); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return apperr.Newf(apperr.CodeConflict, "username %s already exists", account.Username)
		}
		return apperr.Wrap(apperr.CodePersistence, err, "create account")
	}
	return nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &staffClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, apperr.New(apperr.CodeUnauthorized, "invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, apperr.New(apperr.CodeUnauthorized, "invalid token subject")
	}
	return domain.Actor{
		StaffID:  sub,
		Name:     claims.Name,
		Role:     claims.Role,
		OutletID: claims.OutletID,
	}, nil
}

func (a *AuthManager) sign(actor domain.Actor, expiresAt time.Time) (string, error) {
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.StaffID,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role:     actor.Role,
		OutletID: actor.OutletID,
		Name:     actor.Name,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
