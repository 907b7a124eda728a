package domain

import "time"

// User is a record in the embedding application's own user store. The relay
// only reads it to resolve polled QR logins and writes it on the sample
// create-user endpoint.
type User struct {
	UserID       string    `json:"user_id" dynamodbav:"user_id"` // the user's email address
	Firstname    string    `json:"firstname" dynamodbav:"firstname"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
}

// CreateUserRequest is the form body of the sample signup submission.
type CreateUserRequest struct {
	UserID    string `validate:"required,min=5,max=64"`
	Firstname string `validate:"required,min=1,max=64"`
	Password  string `validate:"required,min=5,max=64"`
}
