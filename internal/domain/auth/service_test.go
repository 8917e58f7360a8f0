package auth

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftshop/internal/apperr"
)

// --- Mock implementations ---

type mockUserRepo struct {
	byEmail   map[string]*User
	createErr error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{byEmail: map[string]*User{}}
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byEmail[u.Email]; ok {
		return ErrEmailTaken
	}
	m.byEmail[u.Email] = u
	return nil
}

type mockProvisioner struct {
	provisioned []Identity
	err         error
}

func (m *mockProvisioner) ProvisionProfile(_ context.Context, id Identity) error {
	if m.err != nil {
		return m.err
	}
	m.provisioned = append(m.provisioned, id)
	return nil
}

// --- Helpers ---

// fastParams keeps argon2 cheap in tests.
var fastParams = PasswordParams{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

func newTestService(t *testing.T) (*Service, *mockUserRepo, *mockProvisioner) {
	t.Helper()
	tokens, err := NewTokens("test-secret", "giftshop", time.Hour)
	require.NoError(t, err)
	users := newMockUserRepo()
	prov := &mockProvisioner{}
	return NewService(users, prov, tokens, fastParams, nil), users, prov
}

func TestService_SignUpThenLogin(t *testing.T) {
	svc, _, prov := newTestService(t)
	ctx := context.Background()

	id, err := svc.SignUp(ctx, SignUpRequest{
		Email:    " Ana@Example.com ",
		Password: "correct horse",
		FullName: "Ana Novak",
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", id.Email)
	assert.NotEmpty(t, id.Token)
	require.Len(t, prov.provisioned, 1)
	assert.Equal(t, id.UserID, prov.provisioned[0].UserID)

	got, err := svc.Login(ctx, "ana@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, id.UserID, got.UserID)

	who, err := svc.Identify(ctx, got.Token)
	require.NoError(t, err)
	assert.Equal(t, "Ana Novak", who.FullName)
}

func TestService_Login_Failures(t *testing.T) {
	svc, users, _ := newTestService(t)
	ctx := context.Background()

	hash, err := HashPassword("secret-pass", fastParams)
	require.NoError(t, err)
	users.byEmail["bo@example.com"] = &User{ID: "u1", Email: "bo@example.com", PasswordHash: hash}
	users.byEmail["broken@example.com"] = &User{ID: "u2", Email: "broken@example.com", PasswordHash: "plain"}

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "bo@example.com", "nope"},
		{"unknown email", "who@example.com", "secret-pass"},
		{"empty password", "bo@example.com", ""},
		{"unreadable hash", "broken@example.com", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password)
			assert.Equal(t, apperr.CodeAuthenticationFailed, apperr.CodeOf(err))
		})
	}
}

func TestService_SignUp_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid data reports fields", func(t *testing.T) {
		svc, _, prov := newTestService(t)
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "not-an-email", Password: "short"})
		require.Error(t, err)

		e := apperr.As(err)
		require.NotNil(t, e)
		assert.Equal(t, apperr.CodeValidation, e.Code())
		assert.Equal(t, "email", e.Fields()["email"])
		assert.Equal(t, "min", e.Fields()["password"])
		assert.Equal(t, "required", e.Fields()["full_name"])
		assert.Empty(t, prov.provisioned)
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		req := SignUpRequest{Email: "a@example.com", Password: "long-enough", FullName: "A"}
		_, err := svc.SignUp(ctx, req)
		require.NoError(t, err)

		_, err = svc.SignUp(ctx, req)
		assert.Equal(t, "taken", apperr.As(err).Fields()["email"])
	})

	t.Run("profile provisioning failure", func(t *testing.T) {
		svc, _, prov := newTestService(t)
		prov.err = errors.New("profiles down")

		_, err := svc.SignUp(ctx, SignUpRequest{Email: "c@example.com", Password: "long-enough", FullName: "C"})
		assert.Equal(t, apperr.CodeProfileResolutionFailed, apperr.CodeOf(err))
		assert.ErrorIs(t, err, prov.err)
	})
}

func TestPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("p@ss", fastParams)
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$m=8192,t=1,p=1$")

	ok, err := VerifyPassword("p@ss", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("other", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("x", "$bcrypt$junk")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestTokens(t *testing.T) {
	tokens, err := NewTokens("k", "giftshop", time.Minute)
	require.NoError(t, err)

	raw, err := tokens.Issue(&User{ID: "u1", Email: "a@example.com"})
	require.NoError(t, err)

	claims, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	tokens.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = tokens.Parse(raw)
	require.Error(t, err, "expired token must be rejected")

	other, err := NewTokens("other", "giftshop", time.Minute)
	require.NoError(t, err)
	_, err = other.Parse(raw)
	require.Error(t, err)

	_, err = NewTokens("", "giftshop", time.Minute)
	require.Error(t, err)
}
