package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/store/memory"
)

// mustHashPassword uses the minimum cost so auth tests stay fast.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newUserStore(t *testing.T) *memory.Store {
	t.Helper()
	repo := memory.New()
	repo.PutOutlet(domain.Outlet{ID: "outlet-x", Name: "Outlet X"})
	repo.PutStaff(domain.Staff{ID: "st-rina", Name: "Rina", Role: domain.RoleCashier, OutletID: "outlet-x"})
	require.NoError(t, repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "rina",
		Password: mustHashPassword(t, "rina-pass"),
		StaffID:  "st-rina",
		Role:     domain.RoleCashier,
		OutletID: "outlet-x",
		Active:   true,
	}))
	require.NoError(t, repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "budi",
		Password: mustHashPassword(t, "budi-pass"),
		StaffID:  "st-budi",
		Role:     domain.RoleCashier,
		OutletID: "outlet-x",
		Active:   false,
	}))
	return repo
}

func TestLoginIssuesTokenCarryingStaffAndOutlet(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", newUserStore(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Rina ", Password: "rina-pass"})
	require.NoError(t, err)
	require.Equal(t, "st-rina", resp.StaffID)
	require.Equal(t, domain.RoleCashier, resp.Role)
	require.NotEmpty(t, resp.ExpiresAt)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, domain.Actor{StaffID: "st-rina", Name: "Rina", Role: domain.RoleCashier, OutletID: "outlet-x"}, actor)
}

func TestLoginRejectsBadCredentialsAndInactiveAccounts(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", newUserStore(t))
	ctx := context.Background()

	_, err := manager.Login(ctx, domain.LoginRequest{Username: "rina", Password: "wrong"})
	require.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "nobody", Password: "rina-pass"})
	require.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "budi", Password: "budi-pass"})
	require.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	require.Contains(t, err.Error(), "inactive")
}

func TestRegisterStoresPasswordHash(t *testing.T) {
	repo := newUserStore(t)
	manager := NewAuthManager("test-secret", time.Hour, "123456", repo)
	ctx := context.Background()

	err := manager.Register(ctx, domain.UserAccount{Username: "KasirBaru", StaffID: "st-baru", Role: domain.RoleCashier, OutletID: "outlet-x"}, "pass1234")
	require.NoError(t, err)

	saved, err := repo.GetUserByUsername(ctx, "kasirbaru")
	require.NoError(t, err)
	require.NotEqual(t, "pass1234", saved.Password)
	require.True(t, strings.HasPrefix(saved.Password, "$2"))
	require.True(t, saved.Active)

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "kasirbaru", Password: "pass1234"})
	require.NoError(t, err)
	require.Equal(t, "st-baru", resp.StaffID)

	err = manager.Register(ctx, domain.UserAccount{Username: "kasirbaru", StaffID: "st-lain"}, "pass1234")
	require.True(t, apperr.Is(err, apperr.CodeConflict))

	err = manager.Register(ctx, domain.UserAccount{Username: "ab", StaffID: "st-x"}, "pass1234")
	require.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	repo := newUserStore(t)
	manager := NewAuthManager("test-secret", time.Hour, "123456", repo)
	other := NewAuthManager("another-secret", time.Hour, "123456", repo)
	ctx := context.Background()

	resp, err := other.Login(ctx, domain.LoginRequest{Username: "rina", Password: "rina-pass"})
	require.NoError(t, err)
	_, err = manager.ParseToken(resp.AccessToken)
	require.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	manager.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }
	resp, err = manager.Login(ctx, domain.LoginRequest{Username: "rina", Password: "rina-pass"})
	require.NoError(t, err)
	_, err = manager.ParseToken(resp.AccessToken)
	require.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	_, err = manager.ParseToken("not-a-token")
	require.Error(t, err)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", memory.New())

	require.NotEqual(t, "654321", manager.managerPIN)
	require.True(t, manager.ValidateManagerPIN("654321"))
	require.True(t, manager.ValidateManagerPIN(" 654321 "))
	require.False(t, manager.ValidateManagerPIN("111111"))
	require.False(t, manager.ValidateManagerPIN(""))
}

func TestManagerPINDisabledWhenUnset(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "", memory.New())
	require.False(t, manager.ValidateManagerPIN(""))
	require.False(t, manager.ValidateManagerPIN("123456"))
}
