package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-qr-relay/internal/tmpstore"
)

// TmpStore is the distributed backend of the expiring key-value store, one
// item per key with an expires_at attribute. DynamoDB native TTL reclaims
// stale items eventually; Get re-checks expires_at itself so reads never
// depend on that sweep.
type TmpStore struct {
	client    *dynamodb.Client
	tableName string
	now       func() time.Time
}

func NewTmpStore(client *dynamodb.Client, tableName string) *TmpStore {
	return &TmpStore{client: client, tableName: tableName, now: time.Now}
}

func (s *TmpStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.item(key, value, ttl),
	})
	if err != nil {
		return fmt.Errorf("tmpstore put %s: %w", key, err)
	}
	return nil
}

func (s *TmpStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       strKey("k", key),
	})
	if err != nil {
		// Backend I/O failure reads as absent, per the store contract.
		return nil, tmpstore.ErrNotFound
	}
	if out.Item == nil {
		return nil, tmpstore.ErrNotFound
	}
	expAttr, ok := out.Item["expires_at"].(*types.AttributeValueMemberN)
	if !ok {
		return nil, tmpstore.ErrNotFound
	}
	exp, err := strconv.ParseInt(expAttr.Value, 10, 64)
	if err != nil || exp <= s.now().Unix() {
		return nil, tmpstore.ErrNotFound
	}
	valAttr, ok := out.Item["v"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, tmpstore.ErrNotFound
	}
	return valAttr.Value, nil
}

// PutIfAbsent is a conditional put: it succeeds when the key is missing or
// its previous entry has expired. DynamoDB evaluates the condition
// atomically, which is what makes the nonce replay guard sound across
// processes.
func (s *TmpStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                s.item(key, value, ttl),
		ConditionExpression: aws.String("attribute_not_exists(k) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return tmpstore.ErrExists
		}
		return fmt.Errorf("tmpstore put-if-absent %s: %w", key, err)
	}
	return nil
}

func (s *TmpStore) item(key string, value []byte, ttl time.Duration) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"k":          &types.AttributeValueMemberS{Value: key},
		"v":          &types.AttributeValueMemberB{Value: value},
		"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(ttl).Unix(), 10)},
	}
}
