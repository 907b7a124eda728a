package domain

import "time"

// Credential is a generated cipherwallet-style id/secret pair scoped to one
// registration attempt. Registration is the provider-assigned tag; it is
// stripped before the credentials are handed to the browser.
type Credential struct {
	Registration string `json:"registration,omitempty"`
	CWUser       string `json:"cw_user"`
	Secret       string `json:"secret"`
	HashMethod   string `json:"hash_method"`
}

// Public returns a copy with the internal registration tag removed.
func (c Credential) Public() Credential {
	c.Registration = ""
	return c
}

// LoginCredential is the durable record binding a real user to their
// provider-issued credentials. At most one active record per user; a new
// registration supersedes the previous one.
type LoginCredential struct {
	UserID     string    `json:"user_id" dynamodbav:"user_id"`
	CWID       string    `json:"cw_id" dynamodbav:"cw_id"`
	Secret     string    `json:"-" dynamodbav:"secret"` // encrypted at rest
	RegTag     string    `json:"reg_tag" dynamodbav:"reg_tag"`
	HashMethod string    `json:"hash_method" dynamodbav:"hash_method"`
	CreatedAt  time.Time `json:"created" dynamodbav:"created_at"`
}

// IdentityClaim is the signed identity assertion delivered on the login
// callback and re-verified on every poll.
type IdentityClaim struct {
	User      string `json:"user"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}
