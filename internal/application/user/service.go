// Package user implements the sample user store the relay ships with: a
// create-user endpoint for the demo signup form and the login authorizer
// that resolves polled QR logins into a session grant.
package user

import (
	"context"
	"fmt"
	"time"

	"github.com/go-qr-relay/internal/domain"
	"github.com/go-qr-relay/internal/pkg/validate"
	"golang.org/x/crypto/bcrypt"
)

type Repository interface {
	Put(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	Delete(ctx context.Context, userID string) error
}

// CredentialRevoker disables QR login for a user by dropping their stored
// provider credentials.
type CredentialRevoker interface {
	Remove(ctx context.Context, userID string) error
}

// TokenSigner mints the bearer token attached to a resolved QR login.
// Optional; without one the grant carries only the user's profile fields.
type TokenSigner interface {
	Sign(userID, firstname string) (string, error)
}

type Service interface {
	Create(ctx context.Context, req domain.CreateUserRequest) (map[string]interface{}, error)
	AuthorizeQRLogin(ctx context.Context, userID string) (map[string]interface{}, error)
}

type service struct {
	repo   Repository
	creds  CredentialRevoker
	signer TokenSigner
}

func NewService(repo Repository, creds CredentialRevoker, signer TokenSigner) Service {
	return &service{repo: repo, creds: creds, signer: signer}
}

func (s *service) Create(ctx context.Context, req domain.CreateUserRequest) (map[string]interface{}, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	// Re-submitting the form replaces the record wholesale. The replaced
	// account must not keep QR logins bound to its predecessor.
	if err := s.repo.Delete(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("replace user: %w", domain.ErrStorage)
	}
	if s.creds != nil {
		if err := s.creds.Remove(ctx, req.UserID); err != nil {
			return nil, fmt.Errorf("revoke credentials: %w", domain.ErrStorage)
		}
	}
	u := &domain.User{
		UserID:       req.UserID,
		Firstname:    req.Firstname,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Put(ctx, u); err != nil {
		return nil, fmt.Errorf("save user: %w", domain.ErrStorage)
	}
	return map[string]interface{}{
		"email":     u.UserID,
		"firstname": u.Firstname,
	}, nil
}

func (s *service) AuthorizeQRLogin(ctx context.Context, userID string) (map[string]interface{}, error) {
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	grant := map[string]interface{}{
		"email":     u.UserID,
		"firstname": u.Firstname,
	}
	if s.signer != nil {
		bearer, err := s.signer.Sign(u.UserID, u.Firstname)
		if err != nil {
			return nil, fmt.Errorf("sign bearer: %w", err)
		}
		grant["bearer"] = bearer
	}
	return grant, nil
}
