package http

import (
	"github.com/go-qr-relay/internal/application/user"
	"github.com/go-qr-relay/internal/application/workflow"
	"github.com/go-qr-relay/internal/transport/http/handler"
)

// Deps holds the wired application services the router exposes.
type Deps struct {
	Workflow workflow.Service
	Users    user.Service
	// Verifier authenticates inbound provider callbacks.
	Verifier handler.CallbackVerifier
	// CurrentUser resolves the logged-in user for registration QR codes.
	// The embedding application supplies its own; nil means no user is
	// ever logged in and registration QRs always answer 401.
	CurrentUser handler.CurrentUserFunc
}
