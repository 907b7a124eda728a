package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-qr-relay/internal/config"
	"github.com/go-qr-relay/internal/domain"
	"github.com/go-qr-relay/internal/pkg/cqrauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreds struct {
	byCWID map[string]*domain.LoginCredential
}

func (f *fakeCreds) GetByCWID(_ context.Context, cwID string) (*domain.LoginCredential, error) {
	cred, ok := f.byCWID[cwID]
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return cred, nil
}

type fakeNonces struct {
	seen map[string]bool
}

func (f *fakeNonces) ConsumeNonce(_ context.Context, user, nonce string, _ time.Duration) error {
	key := user + "/" + nonce
	if f.seen[key] {
		return domain.ErrUnauthorized
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	f.seen[key] = true
	return nil
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *fakeCreds, *fakeNonces) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds := &fakeCreds{byCWID: map[string]*domain.LoginCredential{}}
	nonces := &fakeNonces{}
	g := NewGateway(&config.Config{
		APIURL:     srv.URL,
		CustomerID: "cust-1",
		APISecret:  "api-secret",
		HashMethod: "sha256",
	}, creds, nonces)
	return g, creds, nonces
}

func TestMintQR_SignsAndReturnsImage(t *testing.T) {
	var gotPath, gotBody, gotAuth string
	var gotHeaders map[string]string
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotAuth = r.Header.Get("Authorization")
		gotHeaders = map[string]string{
			cqrauth.HeaderDate:  r.Header.Get(cqrauth.HeaderDate),
			cqrauth.HeaderNonce: r.Header.Get(cqrauth.HeaderNonce),
		}
		_, _ = w.Write([]byte("png-bytes"))
	})

	png, err := g.MintQR(context.Background(), "signup-form-qr", "tok-signup-form-qr", domain.QRRequest{
		Operation: domain.OpSignup,
		QRTTL:     120 * time.Second,
		Display:   domain.Message{Value: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), png)
	assert.Equal(t, "/signup-form-qr/tok-signup-form-qr.png", gotPath)

	params, err := url.ParseQuery(gotBody)
	require.NoError(t, err)
	assert.Equal(t, "120", params.Get("ttl"))
	assert.Equal(t, "hello", params.Get("display"))

	// The request must verify against the same credentials.
	assert.True(t, cqrauth.Verify("cust-1", "api-secret", http.MethodPost, gotPath,
		gotHeaders, gotBody, gotAuth, "sha256", time.Now()))
}

func TestMintQR_NoDisplayOnLogin(t *testing.T) {
	var gotBody string
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte("png"))
	})

	_, err := g.MintQR(context.Background(), "login-form-qr", "tok-login-form-qr", domain.QRRequest{
		Operation: domain.OpLogin,
		Display:   domain.Message{Value: "should not be sent"},
	})
	require.NoError(t, err)
	params, err := url.ParseQuery(gotBody)
	require.NoError(t, err)
	assert.Empty(t, params.Get("display"))
}

func TestMintQR_UpstreamFailure(t *testing.T) {
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := g.MintQR(context.Background(), "login-form-qr", "tok", domain.QRRequest{Operation: domain.OpLogin})
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadGateway, upstream.Status)
}

func TestConfirmRegistration(t *testing.T) {
	var gotMethod, gotPath string
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, g.ConfirmRegistration(context.Background(), "reg-tag-1"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/reg/reg-tag-1", gotPath)
}

func signedClaim(t *testing.T, user, secret string, ts int64, nonce string) domain.IdentityClaim {
	t.Helper()
	sig, err := cqrauth.SignClaim(user, ts, nonce, secret, "sha256")
	require.NoError(t, err)
	return domain.IdentityClaim{User: user, Timestamp: ts, Nonce: nonce, Signature: sig}
}

func TestAuthorizeClaim(t *testing.T) {
	g, creds, _ := newTestGateway(t, nil)
	creds.byCWID["cwuser01"] = &domain.LoginCredential{
		UserID: "alice@example.com", CWID: "cwuser01", Secret: "user-secret", HashMethod: "sha256",
	}

	claim := signedClaim(t, "cwuser01", "user-secret", time.Now().Unix(), "n-1")
	userID, err := g.AuthorizeClaim(context.Background(), claim)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", userID)
}

func TestAuthorizeClaim_Failures(t *testing.T) {
	g, creds, _ := newTestGateway(t, nil)
	creds.byCWID["cwuser01"] = &domain.LoginCredential{
		UserID: "alice@example.com", CWID: "cwuser01", Secret: "user-secret", HashMethod: "sha256",
	}
	now := time.Now().Unix()

	cases := map[string]domain.IdentityClaim{
		"drifted timestamp": signedClaim(t, "cwuser01", "user-secret", now-7200, "n-2"),
		"unknown user":      signedClaim(t, "ghost", "user-secret", now, "n-3"),
		"wrong secret":      signedClaim(t, "cwuser01", "not-the-secret", now, "n-4"),
	}
	for name, claim := range cases {
		_, err := g.AuthorizeClaim(context.Background(), claim)
		assert.ErrorIs(t, err, domain.ErrUnauthorized, name)
	}
}

func TestAuthorizeClaim_NonceReplay(t *testing.T) {
	g, creds, _ := newTestGateway(t, nil)
	creds.byCWID["cwuser01"] = &domain.LoginCredential{
		UserID: "alice@example.com", CWID: "cwuser01", Secret: "user-secret", HashMethod: "sha256",
	}

	claim := signedClaim(t, "cwuser01", "user-secret", time.Now().Unix(), "n-once")
	_, err := g.AuthorizeClaim(context.Background(), claim)
	require.NoError(t, err)

	_, err = g.AuthorizeClaim(context.Background(), claim)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyRequest_RoundTrip(t *testing.T) {
	g, _, _ := newTestGateway(t, nil)

	params := url.Values{"session": {"tok-login-form-qr"}}
	hdrs, err := cqrauth.Headers("cust-1", "api-secret", http.MethodPost, "/cipherwallet/login", params, "sha256")
	require.NoError(t, err)

	auth := hdrs["Authorization"]
	delete(hdrs, "Authorization")
	assert.True(t, g.VerifyRequest(http.MethodPost, "/cipherwallet/login", hdrs, params.Encode(), auth))
	assert.False(t, g.VerifyRequest(http.MethodPost, "/cipherwallet/login", hdrs, "tampered=1", auth))
	assert.False(t, g.VerifyRequest(http.MethodPost, "/cipherwallet/login", hdrs, params.Encode(), fmt.Sprintf("CQR cust-1:%s", "deadbeef")))
}
