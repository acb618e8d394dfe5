package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"secure-dialer/internal/cache"
	"secure-dialer/internal/firewall"
	"secure-dialer/internal/models"
	"secure-dialer/internal/store"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("admin role required")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrBlocked            = errors.New("too many failed sign-in attempts")
)

const (
	minPasswordLen = 8
	resetTTL       = 30 * time.Minute
	revokedPrefix  = "auth:revoked:"
	resetPrefix    = "auth:reset:"
)

// ProfileStore is the account storage the service needs.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p *models.Profile) error
	CountProfiles(ctx context.Context) (int64, error)
	ProfileByEmail(ctx context.Context, email string) (models.Profile, error)
	ProfileByID(ctx context.Context, id string) (models.Profile, error)
	SetPasswordHash(ctx context.Context, id, hash string) error
}

// Service implements accounts and sessions: sign-up, sign-in, sign-out and password reset.
type Service struct {
	profiles ProfileStore
	tokens   *Tokens
	kv       cache.Store
	fw       *firewall.Firewall
	cost     int
}

func NewService(profiles ProfileStore, tokens *Tokens, kv cache.Store, fw *firewall.Firewall) *Service {
	return &Service{profiles: profiles, tokens: tokens, kv: kv, fw: fw, cost: bcrypt.DefaultCost}
}

// SignUp creates an account. The first account becomes the administrator.
func (s *Service) SignUp(ctx context.Context, email, password, firstName, lastName string) (models.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return models.Profile{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return models.Profile{}, ErrWeakPassword
	}
	if _, err := s.profiles.ProfileByEmail(ctx, email); err == nil {
		return models.Profile{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.Profile{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.Profile{}, fmt.Errorf("hash password: %w", err)
	}
	n, err := s.profiles.CountProfiles(ctx)
	if err != nil {
		return models.Profile{}, err
	}
	role := models.RoleUser
	if n == 0 {
		role = models.RoleAdmin
	}

	p := models.Profile{
		Email:        email,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Role:         role,
		PasswordHash: string(hash),
	}
	if err := s.profiles.CreateProfile(ctx, &p); err != nil {
		return models.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	log.Printf("[Auth] Account %s created (%s)", p.ID, p.Role)
	return p, nil
}

// SignIn checks the credentials and issues a session token. Failures count
// against the client IP.
func (s *Service) SignIn(ctx context.Context, ip, email, password string) (string, models.Profile, error) {
	if s.fw != nil && !s.fw.IsAllowed(ip) {
		return "", models.Profile{}, ErrBlocked
	}

	p, err := s.profiles.ProfileByEmail(ctx, strings.TrimSpace(email))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", models.Profile{}, err
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		if s.fw != nil {
			s.fw.RecordFailedAuth(ip)
		}
		log.Printf("[Auth] Failed sign-in from %s", ip)
		return "", models.Profile{}, ErrInvalidCredentials
	}
	if s.fw != nil {
		s.fw.RecordSuccess(ip)
	}

	token, _, err := s.tokens.GenerateToken(p.ID, p.Role)
	if err != nil {
		return "", models.Profile{}, err
	}
	return token, p, nil
}

// Session validates a session token that has not been signed out.
func (s *Service) Session(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil || claims.Purpose != purposeSession {
		return nil, ErrUnauthorized
	}
	if _, err := s.kv.Get(ctx, revokedPrefix+claims.ID); err == nil {
		return nil, ErrUnauthorized
	} else if !errors.Is(err, cache.ErrMiss) {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	return claims, nil
}

// SignOut revokes the token until it would have expired anyway.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.Session(ctx, token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.tokens.now())
	if ttl <= 0 {
		return nil
	}
	return s.kv.Set(ctx, revokedPrefix+claims.ID, claims.UserID, ttl)
}

func (s *Service) Profile(ctx context.Context, userID string) (models.Profile, error) {
	return s.profiles.ProfileByID(ctx, userID)
}

// RequestPasswordReset returns a single-use reset token for the account, or
// "" when the email is unknown. Delivering it to the user is up to the caller.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	p, err := s.profiles.ProfileByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	token, claims, err := s.tokens.generate(p.ID, p.Role, purposeReset, resetTTL)
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, resetPrefix+claims.ID, p.ID, resetTTL); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	log.Printf("[Auth] Password reset issued for %s", p.ID)
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil || claims.Purpose != purposeReset {
		return ErrUnauthorized
	}
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}
	if _, err := s.kv.Take(ctx, resetPrefix+claims.ID); err != nil {
		return ErrUnauthorized
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.profiles.SetPasswordHash(ctx, claims.UserID, string(hash)); err != nil {
		return err
	}
	log.Printf("[Auth] Password reset for %s", claims.UserID)
	return nil
}
