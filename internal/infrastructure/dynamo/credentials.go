package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-qr-relay/internal/domain"
	"github.com/go-qr-relay/internal/pkg/secretbox"
)

// CredentialRepo persists durable QR-login credentials (the cw_logins
// records). PK: user_id; GSI cw_id-index for login-time lookups.
// Secrets are encrypted before they hit the table.
type CredentialRepo struct {
	client    *dynamodb.Client
	tableName string
	box       *secretbox.Box
}

func NewCredentialRepo(client *dynamodb.Client, tableName string, box *secretbox.Box) *CredentialRepo {
	return &CredentialRepo{client: client, tableName: tableName, box: box}
}

// Save binds a credential set to a user. At most one active record per
// user: any previous registration is deleted first.
func (r *CredentialRepo) Save(ctx context.Context, userID string, cred domain.Credential) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("user_id", userID),
	})
	if err != nil {
		return fmt.Errorf("delete previous credential for %s: %w", userID, err)
	}
	encrypted, err := r.box.Encrypt(cred.Secret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	rec := domain.LoginCredential{
		UserID:     userID,
		CWID:       cred.CWUser,
		Secret:     encrypted,
		RegTag:     cred.Registration,
		HashMethod: cred.HashMethod,
		CreatedAt:  time.Now().UTC(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put credential for %s: %w", userID, err)
	}
	return nil
}

// GetByCWID resolves a provider-issued user id to the real user, their
// decrypted secret and hash method.
func (r *CredentialRepo) GetByCWID(ctx context.Context, cwID string) (*domain.LoginCredential, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("cw_id-index"),
		KeyConditionExpression: aws.String("cw_id = :cwid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cwid": &types.AttributeValueMemberS{Value: cwID},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("credential not found: %w", domain.ErrUnauthorized)
	}
	var rec domain.LoginCredential
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, err
	}
	secret, err := r.box.Decrypt(rec.Secret)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret for %s: %w", cwID, err)
	}
	rec.Secret = secret
	return &rec, nil
}

// Remove disables QR login for a user by deleting their credential record.
func (r *CredentialRepo) Remove(ctx context.Context, userID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("user_id", userID),
	})
	return err
}
