package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-qr-relay/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	// Provider credentials, as set on the provider dashboard.
	APIURL     string
	CustomerID string
	APISecret  string
	HashMethod string // md5, sha1, sha256 or sha512

	// PollDelay is slept before answering a poll that found nothing yet.
	PollDelay time.Duration
	// SessionTimeout bounds how long a QR scanning session is retained; it
	// should sit slightly above the largest QR TTL in use. It is also the
	// lifetime of the session cookie.
	SessionTimeout time.Duration
	CookiePrefix   string

	// TmpStore selects the expiring key-value backend: memory, file, dynamo or s3.
	TmpStore     string
	TmpStoreDir  string
	SecretEncKey string // 32-byte hex key for credential secrets at rest

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	AllowedOrigins []string // CORS allowed origins

	// QRRequests maps each QR tag to its operation descriptor. Load seeds
	// the sample descriptors; the embedding application replaces them with
	// its own before building the router.
	QRRequests map[string]domain.QRRequest
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	TmpStore    string
	Credentials string
	Users       string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		APIURL:     getEnv("CQR_API_URL", "http://api.cqr.io"),
		CustomerID: getEnv("CQR_CUSTOMER_ID", ""),
		APISecret:  getEnv("CQR_API_SECRET", ""),
		HashMethod: getEnv("CQR_HASH_METHOD", "sha256"),

		PollDelay:      time.Duration(getEnvInt("CQR_POLL_DELAY_SECONDS", 2)) * time.Second,
		SessionTimeout: time.Duration(getEnvInt("CQR_SESSION_TIMEOUT_SECONDS", 610)) * time.Second,
		CookiePrefix:   getEnv("CQR_COOKIE_PREFIX", "cwsession"),

		TmpStore:     getEnv("TMP_STORE", "memory"),
		TmpStoreDir:  getEnv("TMPSTORE_DIR", "/tmp/qr-relay-sessions"),
		SecretEncKey: getEnv("CW_SECRET_ENC_KEY", ""),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			TmpStore:    getEnv("DYNAMO_TABLE_TMPSTORE", "qr_tmpstore"),
			Credentials: getEnv("DYNAMO_TABLE_CREDENTIALS", "cw_logins"),
			Users:       getEnv("DYNAMO_TABLE_USERS", "users"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "qr-relay-sessions"),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_DAYS", 7)) * 24 * time.Hour,

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),

		QRRequests: sampleQRRequests(),
	}
}

// sampleQRRequests mirrors the provider's sample dashboard setup: one QR
// descriptor per supported operation. Commented values show the defaults
// the provider applies when a field is left unset.
func sampleQRRequests() map[string]domain.QRRequest {
	return map[string]domain.QRRequest{
		"signup-form-qr": {
			Operation: domain.OpSignup,
			QRTTL:     300 * time.Second,
			Display:   domain.Message{Value: "Simulate you are signing up for a new account at\\your.website.com"},
			Confirm:   domain.Message{Value: "Your signup data has been submitted."},
		},
		"login-form-qr": {
			Operation: domain.OpLogin,
			// QRTTL: 60s default
		},
		"checkout-form-qr": {
			Operation: domain.OpCheckout,
			Confirm:   domain.Message{Value: "Thank you for your purchase."},
		},
		"reg-qr": {
			Operation: domain.OpRegistration,
			Confirm: domain.Message{Value: map[string]interface{}{
				"title":   "QR login registration",
				"message": "Thank you. You may now scan to log in to this website.",
			}},
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
