// Package session holds the signed-in identity of the local user.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
	"github.com/and161185/market-keeper/internal/result"
	"github.com/and161185/market-keeper/internal/service"
)

// MinPasswordLen is the shortest password accepted by SignUp.
const MinPasswordLen = 6

// Identities resolves the current identity. The upload pipeline depends on it.
type Identities interface {
	Current() (model.Identity, bool)
}

// Session is safe for concurrent use.
type Session struct {
	creds    service.CredentialProvider
	profiles repository.ProfileRepository
	log      *zap.Logger

	mu       sync.RWMutex
	identity *model.Identity
	token    string
}

var _ Identities = (*Session)(nil)

// New returns a signed-out session.
func New(creds service.CredentialProvider, profiles repository.ProfileRepository, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{creds: creds, profiles: profiles, log: log}
}

// SignUp creates a credential and then its profile. If the profile write
// fails the credential stays; signing in later reports a missing profile.
func (s *Session) SignUp(ctx context.Context, email, password, name string) result.State[model.Identity] {
	email, name = strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(name)
	if err := validateSignUp(email, password, name); err != nil {
		return result.FromError[model.Identity](err)
	}

	id, err := s.creds.CreateCredential(ctx, email, password)
	if err != nil {
		return result.FromError[model.Identity](fmt.Errorf("create credential: %w", err))
	}
	identity := model.Identity{ID: id, Name: name, Email: email}
	if err := s.profiles.SetProfile(ctx, identity); err != nil {
		s.log.Warn("credential created without profile", zap.String("user_id", id), zap.Error(err))
		return result.FromError[model.Identity](fmt.Errorf("write profile: %w", err))
	}

	grant, err := s.creds.Authenticate(ctx, email, password)
	if err != nil {
		return result.FromError[model.Identity](fmt.Errorf("sign in after sign-up: %w", err))
	}
	s.set(identity, grant.AccessToken)
	s.log.Info("signed up", zap.String("user_id", id))
	return result.Success(identity)
}

// SignIn authenticates and loads the profile.
func (s *Session) SignIn(ctx context.Context, email, password string) result.State[model.Identity] {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return result.FromError[model.Identity](errs.Validation("email and password are required"))
	}
	grant, err := s.creds.Authenticate(ctx, email, password)
	if err != nil {
		return result.FromError[model.Identity](err)
	}
	return s.load(ctx, grant.UserID, grant.AccessToken)
}

// Restore re-establishes a session from a previously issued access token.
func (s *Session) Restore(ctx context.Context, token string) result.State[model.Identity] {
	if token == "" {
		return result.FromError[model.Identity](errs.ErrNotAuthenticated)
	}
	uid, err := s.creds.Verify(token)
	if err != nil {
		return result.FromError[model.Identity](err)
	}
	return s.load(ctx, uid, token)
}

func (s *Session) load(ctx context.Context, uid, token string) result.State[model.Identity] {
	p, err := s.profiles.GetProfile(ctx, uid)
	if errors.Is(err, errs.ErrNotFound) {
		return result.Fail[model.Identity](errs.KindNotFound, "profile not found")
	}
	if err != nil {
		return result.FromError[model.Identity](fmt.Errorf("read profile: %w", err))
	}
	s.set(*p, token)
	return result.Success(*p)
}

// SignOut forgets the local identity.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.identity, s.token = nil, ""
	s.mu.Unlock()
}

// Current reports the signed-in identity without any I/O.
func (s *Session) Current() (model.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return model.Identity{}, false
	}
	return *s.identity, true
}

// Token returns the access token of the current session, or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) set(identity model.Identity, token string) {
	s.mu.Lock()
	s.identity, s.token = &identity, token
	s.mu.Unlock()
}

func validateSignUp(email, password, name string) error {
	switch {
	case !strings.Contains(email, "@"):
		return errs.Validation("invalid email %q", email)
	case len(password) < MinPasswordLen:
		return errs.Validation("password must be at least %d characters", MinPasswordLen)
	case name == "":
		return errs.Validation("name is required")
	}
	return nil
}
