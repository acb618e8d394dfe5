package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"secure-dialer/internal/cache"
	"secure-dialer/internal/firewall"
	"secure-dialer/internal/models"
	"secure-dialer/internal/store"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	svc := NewService(st, NewTokens("test-secret", time.Hour), cache.NewMemoryStore(), firewall.NewFirewall(3))
	svc.cost = bcrypt.MinCost
	return svc
}

func TestFirstAccountIsAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.SignUp(ctx, "Boss@Example.com", "correct horse", "Pat", "Boss")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	second, err := svc.SignUp(ctx, "caller@example.com", "correct horse", "Sam", "Caller")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if first.Role != models.RoleAdmin || second.Role != models.RoleUser {
		t.Fatalf("unexpected roles %s, %s", first.Role, second.Role)
	}
	if first.Email != "boss@example.com" {
		t.Fatalf("email should be normalized, got %s", first.Email)
	}
	if _, err := svc.SignUp(ctx, "BOSS@example.com", "another one", "", ""); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, "not-an-email", "long enough", "", ""); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := svc.SignUp(ctx, "a@example.com", "short", "", ""); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestSignInSessionSignOut(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, _ := svc.SignUp(ctx, "a@example.com", "correct horse", "A", "B")

	token, got, err := svc.SignIn(ctx, "10.0.0.1", "A@example.com", "correct horse")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("signed in as %s, want %s", got.ID, p.ID)
	}
	claims, err := svc.Session(ctx, token)
	if err != nil || claims.UserID != p.ID || !claims.IsAdmin() || claims.ID == "" {
		t.Fatalf("unexpected session %+v err=%v", claims, err)
	}

	if err := svc.SignOut(ctx, token); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := svc.Session(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked token should be rejected, got %v", err)
	}
}

func TestSignInBlocksAfterFailures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	svc.SignUp(ctx, "a@example.com", "correct horse", "", "")

	for i := 0; i < 3; i++ {
		if _, _, err := svc.SignIn(ctx, "10.0.0.9", "a@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, _, err := svc.SignIn(ctx, "10.0.0.9", "a@example.com", "correct horse"); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if _, _, err := svc.SignIn(ctx, "10.0.0.10", "a@example.com", "correct horse"); err != nil {
		t.Fatalf("other IP should still sign in: %v", err)
	}
}

func TestPasswordReset(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	svc.SignUp(ctx, "a@example.com", "correct horse", "", "")

	if tok, err := svc.RequestPasswordReset(ctx, "nobody@example.com"); err != nil || tok != "" {
		t.Fatalf("unknown email should yield no token, got %q %v", tok, err)
	}
	tok, err := svc.RequestPasswordReset(ctx, "a@example.com")
	if err != nil || tok == "" {
		t.Fatalf("RequestPasswordReset: %q %v", tok, err)
	}
	if _, err := svc.Session(ctx, tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("reset token must not work as a session")
	}
	if err := svc.ResetPassword(ctx, tok, "battery staple"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if err := svc.ResetPassword(ctx, tok, "battery staple 2"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("reset token must be single use, got %v", err)
	}
	if _, _, err := svc.SignIn(ctx, "ip", "a@example.com", "battery staple"); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	tokens := NewTokens("s", time.Minute)
	base := time.Now()
	tokens.now = func() time.Time { return base }
	tok, _, err := tokens.GenerateToken("u1", models.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	tokens.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := tokens.ValidateToken(tok); err == nil {
		t.Fatalf("expired token should fail validation")
	}
	if _, err := NewTokens("other", time.Minute).ValidateToken(tok); err == nil {
		t.Fatalf("token signed with another secret should fail")
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	svc.SignUp(ctx, "admin@example.com", "correct horse", "", "")
	svc.SignUp(ctx, "user@example.com", "correct horse", "", "")
	adminTok, _, _ := svc.SignIn(ctx, "ip", "admin@example.com", "correct horse")
	userTok, _, _ := svc.SignIn(ctx, "ip", "user@example.com", "correct horse")

	e := echo.New()
	ok := func(c echo.Context) error { return c.String(http.StatusOK, ClaimsFrom(c).UserID) }
	e.GET("/me", ok, svc.RequireUser)
	e.GET("/admin", ok, svc.RequireUser, RequireAdmin)

	tests := []struct {
		path, header, query string
		want                int
	}{
		{"/me", "", "", http.StatusUnauthorized},
		{"/me", "Bearer garbage", "", http.StatusUnauthorized},
		{"/me", "Bearer " + userTok, "", http.StatusOK},
		{"/me", "", "?token=" + userTok, http.StatusOK},
		{"/admin", "Bearer " + userTok, "", http.StatusForbidden},
		{"/admin", "Bearer " + adminTok, "", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path+tt.query, nil)
		if tt.header != "" {
			req.Header.Set(echo.HeaderAuthorization, tt.header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s %q: got %d want %d", tt.path, tt.header, rec.Code, tt.want)
		}
	}
}
