// Package service implements the credential provider behind the identity session.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/market-keeper/internal/crypto"
	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/limiter"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
)

// CredentialProvider creates and checks sign-in credentials.
type CredentialProvider interface {
	// CreateCredential stores a new credential and returns its id.
	CreateCredential(ctx context.Context, email, password string) (string, error)
	// Authenticate checks the password and issues an access token.
	Authenticate(ctx context.Context, email, password string) (model.Grant, error)
	// Verify validates an access token and returns its subject.
	Verify(token string) (string, error)
}

// CredentialService is the PostgreSQL-backed CredentialProvider.
type CredentialService struct {
	creds     repository.CredentialRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	log       *zap.Logger
	now       func() time.Time
}

var _ CredentialProvider = (*CredentialService)(nil)

// NewCredentialService constructs the service. A nil limiter disables throttling.
func NewCredentialService(creds repository.CredentialRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, log *zap.Logger) *CredentialService {
	if lim == nil {
		lim = limiter.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialService{creds: creds, signKey: signKey, accessTTL: accessTTL, lim: lim, log: log, now: time.Now}
}

type originKey struct{}

// WithOrigin tags ctx with the caller origin used for sign-in throttling.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func originFrom(ctx context.Context) string {
	if o, ok := ctx.Value(originKey{}).(string); ok && o != "" {
		return o
	}
	return "local"
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (s *CredentialService) CreateCredential(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", errs.Validation("empty email or password")
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		return "", err
	}
	c := &model.Credential{
		ID:      uid.String(),
		Email:   email,
		PwdHash: pkgcrypto.HashPassword([]byte(password), salt),
		Salt:    salt,
	}
	if err := s.creds.Create(ctx, c); err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *CredentialService) Authenticate(ctx context.Context, email, password string) (model.Grant, error) {
	email = normalizeEmail(email)
	origin := limiter.HashOrigin(originFrom(ctx))

	allowed, retry, err := s.lim.Allow(ctx, email, origin)
	if err != nil {
		return model.Grant{}, err
	}
	if !allowed {
		return model.Grant{}, fmt.Errorf("retry in %s: %w", retry.Round(time.Second), errs.ErrRateLimited)
	}

	c, err := s.creds.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Grant{}, err
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), c.Salt, c.PwdHash) {
		blocked, _, ferr := s.lim.Failure(ctx, email, origin)
		if ferr != nil {
			s.log.Warn("record sign-in failure", zap.String("email", email), zap.Error(ferr))
		}
		if blocked {
			return model.Grant{}, errs.ErrRateLimited
		}
		// unknown email and wrong password look the same
		return model.Grant{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, email, origin); err != nil {
		s.log.Debug("reset sign-in limiter", zap.Error(err))
	}

	token, exp, err := s.issueAccessToken(c.ID)
	if err != nil {
		return model.Grant{}, err
	}
	return model.Grant{UserID: c.ID, AccessToken: token, ExpiresAt: exp}, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *CredentialService) issueAccessToken(userID string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	return signed, exp, err
}

func (s *CredentialService) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("verify token: %v: %w", err, errs.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token without subject: %w", errs.ErrUnauthorized)
	}
	return claims.Subject, nil
}
