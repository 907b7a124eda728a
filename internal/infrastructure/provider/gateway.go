// Package provider talks to the QR identity provider: it signs outbound API
// calls (QR mint, registration confirm), verifies inbound signed callbacks
// and authorizes signed identity claims.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-qr-relay/internal/config"
	"github.com/go-qr-relay/internal/domain"
	"github.com/go-qr-relay/internal/pkg/cqrauth"
)

// Doer is the subset of http.Client the gateway needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NonceStore consumes a (user, nonce) pair atomically; a second consume of
// the same pair must fail.
type NonceStore interface {
	ConsumeNonce(ctx context.Context, user, nonce string, ttl time.Duration) error
}

// CredentialSource resolves a provider-issued user id to the stored
// credential record (with the secret already decrypted).
type CredentialSource interface {
	GetByCWID(ctx context.Context, cwID string) (*domain.LoginCredential, error)
}

const nonceTTL = time.Hour

// Gateway is the single client for the provider API.
type Gateway struct {
	http       Doer
	baseURL    string
	customerID string
	secret     string
	hashMethod string
	creds      CredentialSource
	nonces     NonceStore
	now        func() time.Time
}

func NewGateway(cfg *config.Config, creds CredentialSource, nonces NonceStore) *Gateway {
	return &Gateway{
		http:       &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		customerID: cfg.CustomerID,
		secret:     cfg.APISecret,
		hashMethod: cfg.HashMethod,
		creds:      creds,
		nonces:     nonces,
		now:        time.Now,
	}
}

// MintQR asks the provider to render the QR image for a new session.
// Returns the PNG bytes; a non-200 answer surfaces as *domain.UpstreamError.
func (g *Gateway) MintQR(ctx context.Context, tag, session string, rq domain.QRRequest) ([]byte, error) {
	resource := fmt.Sprintf("/%s/%s.png", tag, session)

	params := url.Values{}
	if rq.QRTTL > 0 {
		params.Set("ttl", strconv.Itoa(int(rq.QRTTL/time.Second)))
	}
	if rq.CallbackURL != "" {
		params.Set("push_url", rq.CallbackURL)
	}
	// The display message only applies where the user picks data to send.
	if rq.Operation != domain.OpLogin && rq.Operation != domain.OpRegistration {
		if msg, ok := rq.Display.Resolve(); ok {
			params.Set("display", renderMessage(msg))
		}
	}

	body, err := g.call(ctx, http.MethodPost, resource, params)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// ConfirmRegistration tells the provider a device registration went through.
func (g *Gateway) ConfirmRegistration(ctx context.Context, regTag string) error {
	_, err := g.call(ctx, http.MethodPut, "/reg/"+url.PathEscape(regTag), nil)
	return err
}

func (g *Gateway) call(ctx context.Context, method, resource string, params url.Values) ([]byte, error) {
	encoded := ""
	if params != nil {
		encoded = params.Encode()
	}
	hdrs, err := cqrauth.Headers(g.customerID, g.secret, method, resource, params, g.hashMethod)
	if err != nil {
		return nil, fmt.Errorf("sign provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+resource, strings.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Status: http.StatusInternalServerError, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Status: http.StatusInternalServerError, Reason: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Reason: resp.Status}
	}
	return body, nil
}

// VerifyRequest validates an inbound callback signed with our own
// credentials. Any failure reads as invalid, never as a process error.
func (g *Gateway) VerifyRequest(method, path string, xheaders map[string]string, body, authorization string) bool {
	return cqrauth.Verify(g.customerID, g.secret, method, path, xheaders, body, authorization, g.hashMethod, g.now())
}

// AuthorizeClaim validates a signed identity claim: timestamp drift, nonce
// replay (consumed atomically), then the per-user signature. On success it
// returns the real user id the claim's credentials are bound to.
func (g *Gateway) AuthorizeClaim(ctx context.Context, claim domain.IdentityClaim) (string, error) {
	if !cqrauth.TimestampValid(claim.Timestamp, g.now()) {
		return "", fmt.Errorf("claim timestamp drifted: %w", domain.ErrUnauthorized)
	}
	if err := g.nonces.ConsumeNonce(ctx, claim.User, claim.Nonce, nonceTTL); err != nil {
		return "", fmt.Errorf("nonce already used: %w", domain.ErrUnauthorized)
	}
	cred, err := g.creds.GetByCWID(ctx, claim.User)
	if err != nil {
		return "", fmt.Errorf("unknown claim user: %w", domain.ErrUnauthorized)
	}
	if !cqrauth.VerifyClaim(claim.User, claim.Timestamp, claim.Nonce, claim.Signature, cred.Secret, cred.HashMethod) {
		return "", fmt.Errorf("claim signature mismatch: %w", domain.ErrUnauthorized)
	}
	return cred.UserID, nil
}

// renderMessage flattens a resolved display message to the form value the
// provider expects: strings pass through, structured objects go as JSON.
func renderMessage(msg interface{}) string {
	if s, ok := msg.(string); ok {
		return s
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return ""
	}
	return string(b)
}
