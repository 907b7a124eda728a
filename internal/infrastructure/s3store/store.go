// Package s3store is an object-storage backend of the expiring key-value
// store: one object per key, with the expiry instant carried in object
// metadata and re-checked on every read.
//
// Inserts go through S3 conditional writes (If-None-Match), so PutIfAbsent
// is a true insert-or-fail across processes. Stale objects linger until a
// bucket lifecycle rule removes them; only the overwrite of an expired
// entry is a delete-and-retry best effort.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/go-qr-relay/internal/config"
	"github.com/go-qr-relay/internal/tmpstore"
)

const metaExpiresAt = "expires-at"

type Store struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

// NewClient creates an S3 client. When cfg.AWSEndpointURL is set (LocalStack),
// it overrides the endpoint and enables path-style addressing.
func NewClient(cfg *config.Config) *s3.Client {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}

	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		panic("failed to load AWS config for S3: " + err.Error())
	}

	clientOpts := []func(*s3.Options){}
	if cfg.AWSEndpointURL != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...)
}

func NewStore(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket, now: time.Now}
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(value),
		Metadata: map[string]string{
			metaExpiresAt: strconv.FormatInt(s.now().Add(ttl).Unix(), 10),
		},
	})
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// Missing key and I/O failure both read as absent.
		return nil, tmpstore.ErrNotFound
	}
	defer out.Body.Close()

	exp, err := strconv.ParseInt(out.Metadata[metaExpiresAt], 10, 64)
	if err != nil || exp <= s.now().Unix() {
		return nil, tmpstore.ErrNotFound
	}
	value, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, tmpstore.ErrNotFound
	}
	return value, nil
}

// PutIfAbsent inserts with If-None-Match "*", so S3 itself rejects the
// write when the object already exists; two racing inserts cannot both
// succeed. An expired entry is removed and the insert retried once.
func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.putIfNoneMatch(ctx, key, value, ttl)
	if !isPreconditionFailed(err) {
		return err
	}

	head, herr := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if herr == nil {
		if exp, perr := strconv.ParseInt(head.Metadata[metaExpiresAt], 10, 64); perr == nil && exp > s.now().Unix() {
			return tmpstore.ErrExists
		}
	}
	_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	err = s.putIfNoneMatch(ctx, key, value, ttl)
	if isPreconditionFailed(err) {
		// Someone else recreated it between the delete and the retry.
		return tmpstore.ErrExists
	}
	return err
}

func (s *Store) putIfNoneMatch(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(value),
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			metaExpiresAt: strconv.FormatInt(s.now().Add(ttl).Unix(), 10),
		},
	})
	return err
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}
