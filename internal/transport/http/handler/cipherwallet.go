package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-qr-relay/internal/application/workflow"
	"github.com/go-qr-relay/internal/domain"
)

// CallbackVerifier checks the HMAC signature on inbound provider callbacks.
type CallbackVerifier interface {
	VerifyRequest(method, path string, xheaders map[string]string, body, authorization string) bool
}

// CurrentUserFunc is the embedding application's hook for resolving the
// logged-in user of a request; registration QR codes require one.
type CurrentUserFunc func(r *http.Request) string

// CipherwalletHandler serves the QR relay endpoints: QR image, browser
// polling, signup confirmation and the provider's push callbacks.
type CipherwalletHandler struct {
	workflow     workflow.Service
	verifier     CallbackVerifier
	cookiePrefix string
	cookieTTL    time.Duration
	currentUser  CurrentUserFunc
}

func NewCipherwalletHandler(svc workflow.Service, verifier CallbackVerifier, cookiePrefix string, cookieTTL time.Duration, currentUser CurrentUserFunc) *CipherwalletHandler {
	return &CipherwalletHandler{
		workflow:     svc,
		verifier:     verifier,
		cookiePrefix: cookiePrefix,
		cookieTTL:    cookieTTL,
		currentUser:  currentUser,
	}
}

// QR mints a fresh session for the tag and serves its QR image. The session
// token travels back in a per-tag cookie that the poll endpoint reads.
func (h *CipherwalletHandler) QR(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	uid := ""
	if h.currentUser != nil {
		uid = h.currentUser(r)
	}

	res, err := h.workflow.MintQR(r.Context(), tag, uid)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:    h.cookieName(tag),
		Value:   res.Session,
		Path:    "/",
		Expires: time.Now().Add(h.cookieTTL),
	})
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.PNG)
}

// Poll answers the browser's long-poll loop: 200 with the payload once
// delivered, 202 while pending, 410 once the session is gone.
func (h *CipherwalletHandler) Poll(w http.ResponseWriter, r *http.Request) {
	session := h.sessionCookie(r, chi.URLParam(r, "tag"))

	result, err := h.workflow.Poll(r.Context(), session)
	if err != nil {
		if errors.Is(err, domain.ErrPending) {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ConfirmSignup is hit by the web app's own signup form submit; it binds the
// pending QR credentials to the freshly created user.
func (h *CipherwalletHandler) ConfirmSignup(w http.ResponseWriter, r *http.Request) {
	session := h.sessionCookie(r, chi.URLParam(r, "tag"))
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	cred, err := h.workflow.ConfirmSignup(r.Context(), session, r.PostFormValue("user_id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

// DataCallback ingests a payload the provider pushes on the user's behalf.
// The operation is pinned by the route, never by the body.
func (h *CipherwalletHandler) DataCallback(w http.ResponseWriter, r *http.Request) {
	op := domain.Operation(chi.URLParam(r, "operation"))

	var req workflow.CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rp, err := h.workflow.DataCallback(r.Context(), op, req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rp)
}

// LoginCallback receives the signed identity claim pushed after a login
// scan. The transport signature gates the push; the claim itself is only
// authenticated when a poll picks it up.
func (h *CipherwalletHandler) LoginCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !h.verifier.VerifyRequest(r.Method, r.URL.Path, xHeaders(r), string(body), r.Header.Get("Authorization")) {
		writeError(w, http.StatusForbidden, "bad signature")
		return
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}

	if err := h.workflow.LoginCallback(r.Context(), fields); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CheckLogin lets the provider probe that this push URL validates its
// signatures; a signed empty GET must come back 200.
func (h *CipherwalletHandler) CheckLogin(w http.ResponseWriter, r *http.Request) {
	if !h.verifier.VerifyRequest(r.Method, r.URL.Path, xHeaders(r), "", r.Header.Get("Authorization")) {
		writeError(w, http.StatusForbidden, "bad signature")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Check is the unsigned reachability probe for the data push URLs.
func (h *CipherwalletHandler) Check(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *CipherwalletHandler) cookieName(tag string) string {
	return h.cookiePrefix + "-" + tag
}

func (h *CipherwalletHandler) sessionCookie(r *http.Request, tag string) string {
	c, err := r.Cookie(h.cookieName(tag))
	if err != nil {
		return ""
	}
	return c.Value
}

// xHeaders collects every X- header off an inbound request; the provider
// signs over all of them, not just its own X-CQR ones.
func xHeaders(r *http.Request) map[string]string {
	xh := map[string]string{}
	for k, v := range r.Header {
		if strings.HasPrefix(strings.ToLower(k), "x-") && len(v) > 0 {
			xh[k] = v[0]
		}
	}
	return xh
}
