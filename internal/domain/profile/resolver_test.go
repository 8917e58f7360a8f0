package profile

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/auth"
)

// --- Mock implementations ---

type mockStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	findErr  error
	saveErr  error
	upserts  int
}

func newMockStore(ps ...*Profile) *mockStore {
	m := &mockStore{profiles: map[string]*Profile{}}
	for _, p := range ps {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *mockStore) FindByUserID(_ context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, p := range m.profiles {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStore) FindByEmail(_ context.Context, email string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, p := range m.profiles {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStore) Upsert(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.upserts++
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func TestResolver_Guest(t *testing.T) {
	ctx := context.Background()

	t.Run("matching email reuses existing profile", func(t *testing.T) {
		store := newMockStore(&Profile{ID: "p1", Email: "ana@example.com", FullName: "Ana"})
		r := NewResolver(store, nil)

		got, err := r.Resolve(ctx, Contact{Email: "ANA@example.com ", FullName: "Someone Else"})
		require.NoError(t, err)
		assert.Equal(t, "p1", got.ID)
		assert.Equal(t, "Ana", got.FullName, "existing fields are kept")
		assert.Len(t, store.profiles, 1)
		assert.Zero(t, store.upserts)
	})

	t.Run("missing fields are filled", func(t *testing.T) {
		store := newMockStore(&Profile{ID: "p1", Email: "ana@example.com"})
		r := NewResolver(store, nil)

		addr := &Address{Street: "Main 1", City: "Ljubljana", PostalCode: "1000", Country: "SI"}
		got, err := r.Resolve(ctx, Contact{Email: "ana@example.com", Phone: "+38640111222", Address: addr})
		require.NoError(t, err)
		assert.Equal(t, "+38640111222", got.Phone)
		assert.Equal(t, addr, got.DefaultShippingAddress)
		assert.Equal(t, 1, store.upserts)
	})

	t.Run("new email creates guest profile", func(t *testing.T) {
		store := newMockStore()
		got, err := NewResolver(store, nil).Resolve(ctx, Contact{Email: "new@example.com", FullName: "New"})
		require.NoError(t, err)
		assert.NotEmpty(t, got.ID)
		assert.Empty(t, got.UserID)
		assert.Len(t, store.profiles, 1)
	})
}

func TestResolver_Authenticated(t *testing.T) {
	ctx := context.Background()

	t.Run("existing profile fetched by user id", func(t *testing.T) {
		store := newMockStore(&Profile{ID: "p1", UserID: "u1", Email: "a@example.com", FullName: "A", Phone: "1"})
		got, err := NewResolver(store, nil).Resolve(ctx, Contact{UserID: "u1", Email: "a@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "p1", got.ID)
		assert.Zero(t, store.upserts)
	})

	t.Run("claims guest profile with same email", func(t *testing.T) {
		store := newMockStore(&Profile{ID: "guest", Email: "a@example.com"})
		got, err := NewResolver(store, nil).Resolve(ctx, Contact{UserID: "u1", Email: "a@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "guest", got.ID)
		assert.Equal(t, "u1", store.profiles["guest"].UserID)
	})

	t.Run("never claims another account's profile", func(t *testing.T) {
		store := newMockStore(&Profile{ID: "other", UserID: "u2", Email: "a@example.com"})
		got, err := NewResolver(store, nil).Resolve(ctx, Contact{UserID: "u1", Email: "a@example.com"})
		require.NoError(t, err)
		assert.NotEqual(t, "other", got.ID)
		assert.Equal(t, "u1", got.UserID)
		assert.Len(t, store.profiles, 2)
	})

	t.Run("resolving twice is idempotent", func(t *testing.T) {
		store := newMockStore()
		r := NewResolver(store, nil)
		c := Contact{UserID: "u1", Email: "a@example.com", FullName: "A"}

		first, err := r.Resolve(ctx, c)
		require.NoError(t, err)
		second, err := r.Resolve(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, store.profiles, 1)
	})
}

func TestResolver_Failures(t *testing.T) {
	ctx := context.Background()
	dbErr := errors.New("db down")

	tests := []struct {
		name  string
		store *mockStore
	}{
		{"lookup fails", &mockStore{profiles: map[string]*Profile{}, findErr: dbErr}},
		{"save fails", &mockStore{profiles: map[string]*Profile{}, saveErr: dbErr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.store, nil).Resolve(ctx, Contact{UserID: "u1", Email: "a@example.com"})
			require.ErrorIs(t, err, dbErr)
			assert.Equal(t, apperr.CodeProfileResolutionFailed, apperr.CodeOf(err))
		})
	}
}

func TestResolver_ProvisionProfile(t *testing.T) {
	store := newMockStore()
	r := NewResolver(store, nil)

	err := r.ProvisionProfile(context.Background(), auth.Identity{UserID: "u1", Email: "a@example.com", FullName: "A"})
	require.NoError(t, err)

	p, err := store.FindByUserID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "A", p.FullName)
}
