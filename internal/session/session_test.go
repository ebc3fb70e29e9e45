package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
	"github.com/and161185/market-keeper/internal/service"
)

type memCreds struct {
	mu      sync.Mutex
	byEmail map[string]model.Credential
}

var _ repository.CredentialRepository = (*memCreds)(nil)

func (m *memCreds) Create(_ context.Context, c *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[c.Email]; ok {
		return errs.ErrAlreadyExists
	}
	m.byEmail[c.Email] = *c
	return nil
}

func (m *memCreds) GetByEmail(_ context.Context, email string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &c, nil
}

type memProfiles struct {
	mu     sync.Mutex
	byID   map[string]model.Identity
	setErr error
	sets   int
}

var _ repository.ProfileRepository = (*memProfiles)(nil)

func (m *memProfiles) GetProfile(_ context.Context, id string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &p, nil
}

func (m *memProfiles) SetProfile(_ context.Context, identity model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.byID[identity.ID] = identity
	return nil
}

func newSession(t *testing.T) (*Session, *memCreds, *memProfiles) {
	t.Helper()
	creds := &memCreds{byEmail: map[string]model.Credential{}}
	profiles := &memProfiles{byID: map[string]model.Identity{}}
	provider := service.NewCredentialService(creds, []byte("test-key"), time.Hour, nil, nil)
	return New(provider, profiles, nil), creds, profiles
}

func TestSignUpThenSignIn_SameIdentity(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()

	up := s.SignUp(ctx, "ann@example.com", "secret1", "Ann")
	created, ok := up.Value()
	require.True(t, ok, up.String())
	require.Equal(t, "Ann", created.Name)

	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, created, cur)

	s.SignOut()
	_, ok = s.Current()
	require.False(t, ok)
	require.Empty(t, s.Token())

	in := s.SignIn(ctx, "ann@example.com", "secret1")
	got, ok := in.Value()
	require.True(t, ok, in.String())
	require.Equal(t, created.ID, got.ID)
	require.NotEmpty(t, s.Token())
}

func TestSignUp_ValidatesBeforeIO(t *testing.T) {
	s, creds, profiles := newSession(t)
	ctx := context.Background()

	for _, c := range []struct{ email, pw, name string }{
		{"no-at-sign", "secret1", "Ann"},
		{"ann@example.com", "short", "Ann"},
		{"ann@example.com", "secret1", "  "},
	} {
		st := s.SignUp(ctx, c.email, c.pw, c.name)
		e, ok := st.Err()
		require.True(t, ok)
		require.Equal(t, errs.KindValidation, e.Kind)
	}
	require.Empty(t, creds.byEmail)
	require.Zero(t, profiles.sets)
}

func TestSignUp_ProfileWriteFailureKeepsCredential(t *testing.T) {
	s, creds, profiles := newSession(t)
	profiles.setErr = errors.New("write timeout")

	st := s.SignUp(context.Background(), "bob@example.com", "secret1", "Bob")
	e, ok := st.Err()
	require.True(t, ok)
	require.Equal(t, errs.KindRemoteUnavailable, e.Kind)
	require.Contains(t, creds.byEmail, "bob@example.com")
	_, ok = s.Current()
	require.False(t, ok)

	profiles.setErr = nil
	in := s.SignIn(context.Background(), "bob@example.com", "secret1")
	e, ok = in.Err()
	require.True(t, ok)
	require.Equal(t, errs.KindNotFound, e.Kind)
	require.Equal(t, "profile not found", e.Message)
}

func TestSignIn_WrongPassword(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()
	require.True(t, s.SignUp(ctx, "c@example.com", "secret1", "C").IsSuccess())
	s.SignOut()

	st := s.SignIn(ctx, "c@example.com", "nope-nope")
	e, ok := st.Err()
	require.True(t, ok)
	require.Equal(t, errs.KindNotAuthenticated, e.Kind)
	_, ok = s.Current()
	require.False(t, ok)
}

func TestRestore(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()
	require.True(t, s.SignUp(ctx, "d@example.com", "secret1", "D").IsSuccess())
	token := s.Token()
	want, _ := s.Current()
	s.SignOut()

	got, ok := s.Restore(ctx, token).Value()
	require.True(t, ok)
	require.Equal(t, want, got)

	e, ok := s.Restore(ctx, "garbage").Err()
	require.True(t, ok)
	require.Equal(t, errs.KindNotAuthenticated, e.Kind)

	e, ok = s.Restore(ctx, "").Err()
	require.True(t, ok)
	require.Equal(t, errs.KindNotAuthenticated, e.Kind)
}

func TestSignUp_StoresEmailAsCredentialDoes(t *testing.T) {
	s, creds, profiles := newSession(t)
	ctx := context.Background()

	created, ok := s.SignUp(ctx, "  Ann@Example.COM ", "secret1", "Ann").Value()
	require.True(t, ok)
	require.Equal(t, "ann@example.com", created.Email)
	require.Contains(t, creds.byEmail, "ann@example.com")
	require.Equal(t, "ann@example.com", profiles.byID[created.ID].Email)

	got, ok := s.SignIn(ctx, "ANN@example.com", "secret1").Value()
	require.True(t, ok)
	require.Equal(t, created, got)
}
