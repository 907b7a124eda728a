package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-qr-relay/internal/config"
	"github.com/go-qr-relay/internal/transport/http/handler"
	appmiddleware "github.com/go-qr-relay/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10 — QR minting hits the provider API on
	// every request, so it gets the sensitive-endpoint limiter.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler()
	cwH := handler.NewCipherwalletHandler(deps.Workflow, deps.Verifier, cfg.CookiePrefix, cfg.SessionTimeout, deps.CurrentUser)
	userH := handler.NewUserHandler(deps.Users)

	r.Route("/cipherwallet", func(r chi.Router) {
		// Provider-facing callbacks.
		r.Get("/login", cwH.CheckLogin)
		r.Post("/login", cwH.LoginCallback)
		r.Get("/{operation:signup|checkout|reg}", cwH.Check)
		r.Post("/{operation:signup|checkout|reg}", cwH.DataCallback)

		// Browser-facing endpoints, keyed by QR tag.
		r.With(sensitiveRL.Limit).Get("/{tag}/qr.png", cwH.QR)
		r.Get("/{tag}", cwH.Poll)
		r.Post("/{tag}", cwH.ConfirmSignup)
	})

	r.With(sensitiveRL.Limit).Post("/user/{user_id}", userH.Create)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
	})

	return r
}
