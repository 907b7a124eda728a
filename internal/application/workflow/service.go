// Package workflow drives the per-operation state machines that tie a
// minted QR code, the asynchronous provider push and the polling browser
// together through the session registry.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-qr-relay/internal/application/registry"
	"github.com/go-qr-relay/internal/domain"
	"github.com/go-qr-relay/internal/pkg/cqrauth"
	"github.com/go-qr-relay/internal/pkg/token"
)

// fallbackPNG is a 1x1 transparent pixel served when the provider cannot
// render the QR image; the page still gets a 200 and keeps polling.
var fallbackPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
	0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41, 0x54,
	0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00, 0x05, 0x00, 0x01,
	0x0d, 0x0a, 0x2d, 0xb4,
	0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44,
	0xae, 0x42, 0x60, 0x82,
}

// CallbackRequest is the JSON body the mobile app posts to a data callback.
type CallbackRequest struct {
	Session  string      `json:"session"`
	RegMeta  *RegMeta    `json:"reg_meta"`
	UserData interface{} `json:"user_data"`
}

type RegMeta struct {
	Tag           string `json:"tag"`
	CompleteTimer int    `json:"complete_timer"`
}

// MintResult is what a QR mint hands back to the transport layer.
type MintResult struct {
	PNG     []byte
	Session string
}

type gateway interface {
	MintQR(ctx context.Context, tag, session string, rq domain.QRRequest) ([]byte, error)
	ConfirmRegistration(ctx context.Context, regTag string) error
	AuthorizeClaim(ctx context.Context, claim domain.IdentityClaim) (string, error)
}

type credentialStore interface {
	Save(ctx context.Context, userID string, cred domain.Credential) error
}

// loginAuthorizer is the external user-store collaborator that turns a
// verified user id into whatever the web application wants the browser to
// receive. domain.ErrNotFound means the user has no account.
type loginAuthorizer interface {
	AuthorizeQRLogin(ctx context.Context, userID string) (map[string]interface{}, error)
}

type Service interface {
	// MintQR starts a session for the tag and fetches the QR image.
	// currentUserID carries the logged-in user for registration QR codes
	// and is empty otherwise.
	MintQR(ctx context.Context, tag, currentUserID string) (*MintResult, error)
	// Poll implements the delivery bridge: payload or resolved login
	// authorization when delivered, domain.ErrPending after the poll delay
	// when not, domain.ErrExpired when the session is gone.
	Poll(ctx context.Context, session string) (interface{}, error)
	// DataCallback ingests a payload pushed by the mobile app.
	DataCallback(ctx context.Context, op domain.Operation, req CallbackRequest) (map[string]interface{}, error)
	// LoginCallback stashes a signed identity claim for the next poll.
	LoginCallback(ctx context.Context, fields map[string]string) error
	// ConfirmSignup consumes the signup registration record once the web
	// app's own signup form has been submitted.
	ConfirmSignup(ctx context.Context, session, userID string) (domain.Credential, error)
}

type service struct {
	registry   registry.Service
	gateway    gateway
	creds      credentialStore
	authorizer loginAuthorizer
	qrRequests map[string]domain.QRRequest
	hashMethod string
	pollDelay  time.Duration
	now        func() time.Time
	sleep      func(time.Duration)
}

type ServiceDeps struct {
	Registry    registry.Service
	Gateway     gateway
	Credentials credentialStore
	Authorizer  loginAuthorizer
	QRRequests  map[string]domain.QRRequest
	HashMethod  string
	PollDelay   time.Duration
}

func NewService(deps ServiceDeps) Service {
	return &service{
		registry:   deps.Registry,
		gateway:    deps.Gateway,
		creds:      deps.Credentials,
		authorizer: deps.Authorizer,
		qrRequests: deps.QRRequests,
		hashMethod: cqrauth.AcceptedHashMethod(deps.HashMethod),
		pollDelay:  deps.PollDelay,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

func (s *service) MintQR(ctx context.Context, tag, currentUserID string) (*MintResult, error) {
	rq, configured := s.qrRequests[tag]

	session, err := s.registry.CreateSession(ctx, tag)
	if err != nil {
		return nil, err
	}
	if !configured {
		return nil, fmt.Errorf("no descriptor for QR tag %q: %w", tag, domain.ErrNotImplemented)
	}

	ttl := rq.TTL()
	// One second of slack so a scan right at the TTL edge still lands.
	expires := s.now().Add(ttl).Unix() + 1
	if err := s.registry.SetSessionVar(ctx, session, "qr_expires", expires); err != nil {
		return nil, err
	}

	if rq.Operation == domain.OpRegistration {
		if currentUserID == "" {
			return nil, fmt.Errorf("registration QR needs a logged-in user: %w", domain.ErrUnauthorized)
		}
		if err := s.registry.SetSessionVar(ctx, session, "user_id", currentUserID); err != nil {
			return nil, err
		}
	}

	png, err := s.gateway.MintQR(ctx, tag, session, rq)
	if err != nil {
		// The session is live and pollable; serve the fallback pixel
		// rather than failing the page.
		slog.Warn("QR mint failed, serving fallback pixel", "tag", tag, "err", err)
		png = fallbackPNG
	}
	return &MintResult{PNG: png, Session: session}, nil
}

func (s *service) Poll(ctx context.Context, session string) (interface{}, error) {
	if session == "" {
		return nil, fmt.Errorf("no session cookie: %w", domain.ErrExpired)
	}
	expires, err := s.sessionExpiry(ctx, session)
	if err != nil || expires < s.now().Unix() {
		return nil, fmt.Errorf("session %s: %w", session, domain.ErrExpired)
	}

	if payload, err := s.registry.FetchPayload(ctx, session); err == nil {
		return payload, nil
	}

	if raw, err := s.registry.FetchIdentity(ctx, session); err == nil {
		claim, err := parseClaim(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed identity claim: %w", domain.ErrUnauthorized)
		}
		// Re-verified on every poll; the resolved authorization is never
		// cached.
		userID, err := s.gateway.AuthorizeClaim(ctx, claim)
		if err != nil {
			return nil, err
		}
		authz, err := s.authorizer.AuthorizeQRLogin(ctx, userID)
		if err != nil {
			return map[string]interface{}{"error": "User not registered"}, nil
		}
		return authz, nil
	}

	// Nothing yet: throttle the caller, then tell them to come back.
	s.sleep(s.pollDelay)
	return nil, domain.ErrPending
}

func (s *service) DataCallback(ctx context.Context, op domain.Operation, req CallbackRequest) (map[string]interface{}, error) {
	if req.Session == "" {
		return nil, fmt.Errorf("missing session: %w", domain.ErrBadRequest)
	}

	rp := map[string]interface{}{}

	switch op {
	case domain.OpRegistration:
		cred, err := s.confirmRegistration(ctx, req)
		if err != nil {
			return nil, err
		}
		rp["cw_user"] = cred.CWUser
		rp["secret"] = cred.Secret
		rp["hash_method"] = cred.HashMethod

	case domain.OpSignup:
		if req.RegMeta == nil || req.RegMeta.Tag == "" {
			return nil, fmt.Errorf("signup callback without reg_meta: %w", domain.ErrBadRequest)
		}
		window := time.Duration(req.RegMeta.CompleteTimer) * time.Second
		creds, err := s.registry.CreateSignupRegistration(ctx, req.Session, req.RegMeta.Tag, window)
		if err != nil {
			return nil, err
		}
		rp["credentials"] = creds
	}

	if op != domain.OpRegistration {
		// The raw device payload is what the next poll hands to the form.
		if err := s.registry.StorePayload(ctx, req.Session, req.UserData); err != nil {
			return nil, err
		}
	}

	s.attachConfirm(req.Session, rp)
	return rp, nil
}

// confirmRegistration handles the registration variant of a data callback:
// confirm with the provider, persist durable credentials, and signal the
// outcome through the payload channel so the browser poll resolves there.
func (s *service) confirmRegistration(ctx context.Context, req CallbackRequest) (domain.Credential, error) {
	uidVar, err := s.registry.SessionVar(ctx, req.Session, "user_id")
	if err != nil {
		return domain.Credential{}, fmt.Errorf("registration session: %w", domain.ErrExpired)
	}
	userID, _ := uidVar.(string)
	if userID == "" {
		return domain.Credential{}, fmt.Errorf("registration session: %w", domain.ErrExpired)
	}
	if req.RegMeta == nil || req.RegMeta.Tag == "" {
		return domain.Credential{}, fmt.Errorf("registration callback without reg_meta: %w", domain.ErrBadRequest)
	}

	if err := s.gateway.ConfirmRegistration(ctx, req.RegMeta.Tag); err != nil {
		s.signalRegistration(ctx, req.Session, false)
		return domain.Credential{}, err
	}

	cred := domain.Credential{
		Registration: req.RegMeta.Tag,
		CWUser:       token.Random(8),
		Secret:       token.Random(64),
		HashMethod:   s.hashMethod,
	}
	if err := s.creds.Save(ctx, userID, cred); err != nil {
		s.signalRegistration(ctx, req.Session, false)
		return domain.Credential{}, fmt.Errorf("persist credentials: %w", domain.ErrStorage)
	}
	s.signalRegistration(ctx, req.Session, true)
	return cred.Public(), nil
}

func (s *service) signalRegistration(ctx context.Context, session string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "success"
	}
	if err := s.registry.StorePayload(ctx, session, map[string]interface{}{"registration": outcome}); err != nil {
		slog.Warn("could not signal registration outcome", "session", session, "err", err)
	}
}

func (s *service) LoginCallback(ctx context.Context, fields map[string]string) error {
	session, ok := fields["session"]
	if !ok || session == "" {
		return fmt.Errorf("login callback without session: %w", domain.ErrBadRequest)
	}
	// The session field is consumed; the residual fields are the claim,
	// authenticated only when the browser poll picks them up.
	ident := make(map[string]string, len(fields)-1)
	for k, v := range fields {
		if k != "session" {
			ident[k] = v
		}
	}
	raw, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	return s.registry.StoreIdentity(ctx, session, raw)
}

func (s *service) ConfirmSignup(ctx context.Context, session, userID string) (domain.Credential, error) {
	if session == "" {
		return domain.Credential{}, fmt.Errorf("no session cookie: %w", domain.ErrExpired)
	}
	if userID == "" {
		return domain.Credential{}, fmt.Errorf("missing user_id: %w", domain.ErrBadRequest)
	}
	cred, err := s.registry.SignupRegistration(ctx, session)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("signup registration: %w", domain.ErrExpired)
	}
	if err := s.gateway.ConfirmRegistration(ctx, cred.Registration); err != nil {
		// Best guess, same as a vanished session: the offer is gone.
		return domain.Credential{}, fmt.Errorf("provider rejected confirmation: %w", domain.ErrExpired)
	}
	if err := s.creds.Save(ctx, userID, cred); err != nil {
		return domain.Credential{}, fmt.Errorf("persist credentials: %w", domain.ErrStorage)
	}
	return cred.Public(), nil
}

func (s *service) sessionExpiry(ctx context.Context, session string) (int64, error) {
	v, err := s.registry.SessionVar(ctx, session, "qr_expires")
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return 0, fmt.Errorf("qr_expires has unexpected type %T", v)
}

// attachConfirm adds the operation's confirmation message when one is
// configured. Any failure to resolve it simply omits the field.
func (s *service) attachConfirm(session string, rp map[string]interface{}) {
	tag, ok := token.Tag(session)
	if !ok {
		return
	}
	rq, ok := s.qrRequests[tag]
	if !ok {
		return
	}
	if msg, ok := rq.Confirm.Resolve(); ok {
		rp["confirm"] = msg
	}
}

// parseClaim decodes the stored identity fields. Timestamps arrive as form
// strings; tolerate numbers too.
func parseClaim(raw []byte) (domain.IdentityClaim, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.IdentityClaim{}, err
	}
	claim := domain.IdentityClaim{
		User:      stringField(fields, "user"),
		Nonce:     stringField(fields, "nonce"),
		Signature: stringField(fields, "signature"),
	}
	switch ts := fields["timestamp"].(type) {
	case string:
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return domain.IdentityClaim{}, fmt.Errorf("bad timestamp %q", ts)
		}
		claim.Timestamp = n
	case float64:
		claim.Timestamp = int64(ts)
	default:
		return domain.IdentityClaim{}, fmt.Errorf("missing timestamp")
	}
	if claim.User == "" || claim.Nonce == "" || claim.Signature == "" {
		return domain.IdentityClaim{}, fmt.Errorf("incomplete claim")
	}
	return claim, nil
}

func stringField(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}
