// Package registry manages the lifecycle of QR scanning sessions on top of
// the expiring key-value store: issuance, scoped variables, the payload and
// identity delivery channels, and the signup registration sub-resource.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-qr-relay/internal/domain"
	"github.com/go-qr-relay/internal/pkg/cqrauth"
	"github.com/go-qr-relay/internal/pkg/token"
	"github.com/go-qr-relay/internal/tmpstore"
)

// Short-term channels live just long enough for the next poll to pick them up.
const deliveryTTL = 30 * time.Second

// Store key prefixes, one namespace per record kind.
const (
	keySession   = "CW_SESSION_%s"    // session variable map
	keyUserData  = "CW_USER_DATA_%s"  // payload channel
	keyUserIdent = "CW_USERIDENT_%s"  // identity channel
	keySignupReg = "CW_SIGNUP_REG_%s" // signup registration record
	keyNonce     = "CQR_NONCE_%s_%s"  // user + nonce
)

type Service interface {
	// CreateSession validates the tag and mints a new session token.
	CreateSession(ctx context.Context, tag string) (string, error)

	// SessionVar returns a named session variable, or domain.ErrNotFound
	// when the variable or the whole session is absent or expired.
	SessionVar(ctx context.Context, session, name string) (interface{}, error)
	// SetSessionVar stores a named variable and refreshes the session TTL.
	//
	// This is a read-modify-write over the backing store and is NOT
	// serialized: two concurrent writers to the same session can lose one
	// update. Callers must keep at most one writer per session variable in
	// normal operation; this is a documented limitation of the design, not
	// an oversight.
	SetSessionVar(ctx context.Context, session, name string, value interface{}) error

	// Payload channel: data from the mobile device awaiting the next poll.
	StorePayload(ctx context.Context, session string, payload interface{}) error
	FetchPayload(ctx context.Context, session string) (json.RawMessage, error)

	// Identity channel: the signed login claim awaiting the next poll.
	StoreIdentity(ctx context.Context, session string, ident []byte) error
	FetchIdentity(ctx context.Context, session string) ([]byte, error)

	// CreateSignupRegistration generates a fresh credential set scoped to
	// one signup attempt, stored under the completion window TTL. The
	// returned copy has the registration tag stripped for the browser.
	CreateSignupRegistration(ctx context.Context, session, regTag string, window time.Duration) (domain.Credential, error)
	// SignupRegistration retrieves the full record, registration tag included.
	SignupRegistration(ctx context.Context, session string) (domain.Credential, error)

	// ConsumeNonce records a (user, nonce) pair; the second consume of the
	// same pair fails. Backed by the store's atomic insert-or-fail.
	ConsumeNonce(ctx context.Context, user, nonce string, ttl time.Duration) error
}

type service struct {
	store      tmpstore.Store
	sessionTTL time.Duration
	hashMethod string
}

func New(store tmpstore.Store, sessionTTL time.Duration, hashMethod string) Service {
	return &service{store: store, sessionTTL: sessionTTL, hashMethod: cqrauth.AcceptedHashMethod(hashMethod)}
}

func (s *service) CreateSession(_ context.Context, tag string) (string, error) {
	if !token.ValidTag(tag) {
		return "", fmt.Errorf("invalid QR tag %q: %w", tag, domain.ErrBadRequest)
	}
	return token.NewSession(tag), nil
}

func (s *service) SessionVar(ctx context.Context, session, name string) (interface{}, error) {
	vars, err := s.loadVars(ctx, session)
	if err != nil {
		return nil, err
	}
	v, ok := vars[name]
	if !ok {
		return nil, fmt.Errorf("session variable %s: %w", name, domain.ErrNotFound)
	}
	return v, nil
}

func (s *service) SetSessionVar(ctx context.Context, session, name string, value interface{}) error {
	vars, err := s.loadVars(ctx, session)
	if err != nil {
		vars = map[string]interface{}{}
	}
	vars[name] = value
	raw, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal session vars: %w", err)
	}
	if err := s.store.Put(ctx, fmt.Sprintf(keySession, session), raw, s.sessionTTL); err != nil {
		return fmt.Errorf("save session vars: %w", domain.ErrStorage)
	}
	return nil
}

func (s *service) loadVars(ctx context.Context, session string) (map[string]interface{}, error) {
	raw, err := s.store.Get(ctx, fmt.Sprintf(keySession, session))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", session, domain.ErrNotFound)
	}
	var vars map[string]interface{}
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, fmt.Errorf("decode session vars: %w", domain.ErrStorage)
	}
	return vars, nil
}

func (s *service) StorePayload(ctx context.Context, session string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := s.store.Put(ctx, fmt.Sprintf(keyUserData, session), raw, deliveryTTL); err != nil {
		return fmt.Errorf("store payload: %w", domain.ErrStorage)
	}
	return nil
}

func (s *service) FetchPayload(ctx context.Context, session string) (json.RawMessage, error) {
	raw, err := s.store.Get(ctx, fmt.Sprintf(keyUserData, session))
	if err != nil {
		return nil, fmt.Errorf("payload: %w", domain.ErrNotFound)
	}
	return raw, nil
}

func (s *service) StoreIdentity(ctx context.Context, session string, ident []byte) error {
	if err := s.store.Put(ctx, fmt.Sprintf(keyUserIdent, session), ident, deliveryTTL); err != nil {
		return fmt.Errorf("store identity: %w", domain.ErrStorage)
	}
	return nil
}

func (s *service) FetchIdentity(ctx context.Context, session string) ([]byte, error) {
	raw, err := s.store.Get(ctx, fmt.Sprintf(keyUserIdent, session))
	if err != nil {
		return nil, fmt.Errorf("identity: %w", domain.ErrNotFound)
	}
	return raw, nil
}

func (s *service) CreateSignupRegistration(ctx context.Context, session, regTag string, window time.Duration) (domain.Credential, error) {
	cred := domain.Credential{
		Registration: regTag,
		CWUser:       token.Random(8),
		Secret:       token.Random(64),
		HashMethod:   s.hashMethod,
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("marshal registration: %w", err)
	}
	if err := s.store.Put(ctx, fmt.Sprintf(keySignupReg, session), raw, window); err != nil {
		return domain.Credential{}, fmt.Errorf("store registration: %w", domain.ErrStorage)
	}
	return cred.Public(), nil
}

func (s *service) SignupRegistration(ctx context.Context, session string) (domain.Credential, error) {
	raw, err := s.store.Get(ctx, fmt.Sprintf(keySignupReg, session))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("signup registration: %w", domain.ErrNotFound)
	}
	var cred domain.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return domain.Credential{}, fmt.Errorf("decode registration: %w", domain.ErrStorage)
	}
	return cred, nil
}

func (s *service) ConsumeNonce(ctx context.Context, user, nonce string, ttl time.Duration) error {
	err := s.store.PutIfAbsent(ctx, fmt.Sprintf(keyNonce, user, nonce), []byte("."), ttl)
	if err != nil {
		return fmt.Errorf("nonce %s: %w", nonce, domain.ErrUnauthorized)
	}
	return nil
}
