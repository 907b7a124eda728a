package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-qr-relay/internal/application/registry"
	"github.com/go-qr-relay/internal/application/user"
	"github.com/go-qr-relay/internal/application/workflow"
	"github.com/go-qr-relay/internal/config"
	"github.com/go-qr-relay/internal/infrastructure/dynamo"
	"github.com/go-qr-relay/internal/infrastructure/filestore"
	jwtinfra "github.com/go-qr-relay/internal/infrastructure/jwt"
	"github.com/go-qr-relay/internal/infrastructure/memstore"
	"github.com/go-qr-relay/internal/infrastructure/provider"
	"github.com/go-qr-relay/internal/infrastructure/s3store"
	"github.com/go-qr-relay/internal/pkg/secretbox"
	"github.com/go-qr-relay/internal/tmpstore"
	transporthttp "github.com/go-qr-relay/internal/transport/http"
	"github.com/go-qr-relay/internal/transport/http/handler"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Expiring KV backend for session state.
	store, dynamoClient := newTmpStore(cfg)

	// Credential secrets are encrypted at rest when a key is configured.
	var box *secretbox.Box
	if cfg.SecretEncKey != "" {
		b, err := secretbox.New(cfg.SecretEncKey)
		if err != nil {
			log.Fatalf("bad CW_SECRET_ENC_KEY: %v", err)
		}
		box = b
	} else {
		log.Println("WARN: CW_SECRET_ENC_KEY not set, credential secrets stored in the clear")
	}

	if dynamoClient == nil {
		dynamoClient = dynamo.NewClient(cfg)
	}
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)
	credRepo := dynamo.NewCredentialRepo(dynamoClient, cfg.DynamoTables.Credentials, box)
	userRepo := dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users)

	// JWT provider (optional — graceful fallback if keys are missing).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available, QR logins carry no bearer: %v", err)
	}

	registrySvc := registry.New(store, cfg.SessionTimeout, cfg.HashMethod)
	gateway := provider.NewGateway(cfg, credRepo, registrySvc)

	var signer user.TokenSigner
	if jwtProvider != nil {
		signer = jwtProvider
	}
	userSvc := user.NewService(userRepo, credRepo, signer)

	workflowSvc := workflow.NewService(workflow.ServiceDeps{
		Registry:    registrySvc,
		Gateway:     gateway,
		Credentials: credRepo,
		Authorizer:  userSvc,
		QRRequests:  cfg.QRRequests,
		HashMethod:  cfg.HashMethod,
		PollDelay:   cfg.PollDelay,
	})

	deps := &transporthttp.Deps{
		Workflow: workflowSvc,
		Users:    userSvc,
		Verifier: gateway,
		// The bearer minted on a resolved QR login identifies the user for
		// registration QR codes. An embedding application swaps this hook
		// for its own session lookup.
		CurrentUser: bearerUser(jwtProvider),
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, tmpstore=%s)", cfg.AppPort, cfg.AppEnv, cfg.TmpStore)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// bearerUser resolves the logged-in user from a relay-minted bearer token.
func bearerUser(p *jwtinfra.Provider) handler.CurrentUserFunc {
	return func(r *http.Request) string {
		if p == nil {
			return ""
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			return ""
		}
		claims, err := p.Verify(token)
		if err != nil {
			return ""
		}
		return claims.UserID
	}
}

// newTmpStore builds the TMP_STORE backend. The dynamo client is returned
// when one was already built so main can reuse it for the durable tables.
func newTmpStore(cfg *config.Config) (tmpstore.Store, *dynamodb.Client) {
	switch cfg.TmpStore {
	case "file":
		s, err := filestore.New(cfg.TmpStoreDir)
		if err != nil {
			log.Fatalf("file tmpstore: %v", err)
		}
		return s, nil
	case "dynamo":
		client := dynamo.NewClient(cfg)
		return dynamo.NewTmpStore(client, cfg.DynamoTables.TmpStore), client
	case "s3":
		return s3store.NewStore(s3store.NewClient(cfg), cfg.S3BucketName), nil
	case "memory":
		return memstore.New(), nil
	default:
		log.Fatalf("unknown TMP_STORE %q (want memory, file, dynamo or s3)", cfg.TmpStore)
		return nil, nil
	}
}
