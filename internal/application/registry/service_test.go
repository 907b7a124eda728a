package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-qr-relay/internal/domain"
	"github.com/go-qr-relay/internal/tmpstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory tmpstore.Store with a controllable clock.
type fakeStore struct {
	entries map[string]fakeEntry
	now     time.Time
	failPut bool
}

type fakeEntry struct {
	value     []byte
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[string]fakeEntry{}, now: time.Now()}
}

func (f *fakeStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if f.failPut {
		return tmpstore.ErrNotFound
	}
	f.entries[key] = fakeEntry{value: value, expiresAt: f.now.Add(ttl)}
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := f.entries[key]
	if !ok || !e.expiresAt.After(f.now) {
		return nil, tmpstore.ErrNotFound
	}
	return e.value, nil
}

func (f *fakeStore) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if e, ok := f.entries[key]; ok && e.expiresAt.After(f.now) {
		return tmpstore.ErrExists
	}
	return f.Put(context.Background(), key, value, ttl)
}

func newSvc(store tmpstore.Store) Service {
	return New(store, 610*time.Second, "sha256")
}

func TestCreateSession(t *testing.T) {
	svc := newSvc(newFakeStore())
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "login-form-qr")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(session, "-login-form-qr"))
}

func TestCreateSession_InvalidTag(t *testing.T) {
	svc := newSvc(newFakeStore())

	for _, tag := range []string{"", "bad tag", "no/slash", "a;b"} {
		_, err := svc.CreateSession(context.Background(), tag)
		assert.ErrorIs(t, err, domain.ErrBadRequest, tag)
	}
}

func TestSessionVars_RoundTrip(t *testing.T) {
	svc := newSvc(newFakeStore())
	ctx := context.Background()

	require.NoError(t, svc.SetSessionVar(ctx, "tok", "user_id", "alice@example.com"))
	require.NoError(t, svc.SetSessionVar(ctx, "tok", "qr_expires", float64(1700000000)))

	v, err := svc.SessionVar(ctx, "tok", "user_id")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", v)

	// The earlier variable must survive the second write.
	v, err = svc.SessionVar(ctx, "tok", "qr_expires")
	require.NoError(t, err)
	assert.Equal(t, float64(1700000000), v)
}

func TestSessionVar_AbsentIsNotFound(t *testing.T) {
	svc := newSvc(newFakeStore())
	ctx := context.Background()

	_, err := svc.SessionVar(ctx, "tok", "user_id")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.SetSessionVar(ctx, "tok", "other", 1))
	_, err = svc.SessionVar(ctx, "tok", "user_id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionVar_ExpiredSessionReadsAsAbsent(t *testing.T) {
	store := newFakeStore()
	svc := newSvc(store)
	ctx := context.Background()

	require.NoError(t, svc.SetSessionVar(ctx, "tok", "user_id", "alice"))

	// Advance the clock past the session TTL without deleting anything.
	store.now = store.now.Add(611 * time.Second)

	_, err := svc.SessionVar(ctx, "tok", "user_id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetSessionVar_StoreFailureIsHardError(t *testing.T) {
	store := newFakeStore()
	store.failPut = true
	svc := newSvc(store)

	err := svc.SetSessionVar(context.Background(), "tok", "k", "v")
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestPayloadChannel(t *testing.T) {
	store := newFakeStore()
	svc := newSvc(store)
	ctx := context.Background()

	require.NoError(t, svc.StorePayload(ctx, "tok", map[string]interface{}{"email": "a@b.co"}))
	raw, err := svc.FetchPayload(ctx, "tok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"a@b.co"}`, string(raw))

	// Short TTL: gone after the delivery window.
	store.now = store.now.Add(31 * time.Second)
	_, err = svc.FetchPayload(ctx, "tok")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdentityChannel(t *testing.T) {
	svc := newSvc(newFakeStore())
	ctx := context.Background()

	require.NoError(t, svc.StoreIdentity(ctx, "tok", []byte(`{"user":"cw1"}`)))
	raw, err := svc.FetchIdentity(ctx, "tok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":"cw1"}`, string(raw))

	_, err = svc.FetchIdentity(ctx, "other")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignupRegistration_Lifecycle(t *testing.T) {
	store := newFakeStore()
	svc := newSvc(store)
	ctx := context.Background()

	public, err := svc.CreateSignupRegistration(ctx, "tok", "reg-tag-1", 120*time.Second)
	require.NoError(t, err)
	assert.Empty(t, public.Registration, "browser copy must not carry the registration tag")
	assert.Len(t, public.CWUser, 8)
	assert.Len(t, public.Secret, 64)
	assert.Equal(t, "sha256", public.HashMethod)

	full, err := svc.SignupRegistration(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "reg-tag-1", full.Registration)
	assert.Equal(t, public.CWUser, full.CWUser)

	// Completion window elapses: record unreadable.
	store.now = store.now.Add(121 * time.Second)
	_, err = svc.SignupRegistration(ctx, "tok")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsumeNonce_ReplayFails(t *testing.T) {
	svc := newSvc(newFakeStore())
	ctx := context.Background()

	require.NoError(t, svc.ConsumeNonce(ctx, "cw1", "n1", time.Hour))
	assert.ErrorIs(t, svc.ConsumeNonce(ctx, "cw1", "n1", time.Hour), domain.ErrUnauthorized)

	// Different pair is independent.
	assert.NoError(t, svc.ConsumeNonce(ctx, "cw2", "n1", time.Hour))
	assert.NoError(t, svc.ConsumeNonce(ctx, "cw1", "n2", time.Hour))
}
