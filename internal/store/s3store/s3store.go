// Package s3store keeps the Document as one JSON object in an S3-compatible
// bucket (AWS S3, MinIO).
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/models"
)

// ObjectAPI is the subset of *s3.Client the backend needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Backend implements store.Backend over a single S3 object.
type Backend struct {
	client ObjectAPI
	bucket string
	key    string
}

// New wraps an existing client.
func New(client ObjectAPI, bucket, key string) *Backend {
	return &Backend{client: client, bucket: bucket, key: key}
}

// Open builds an S3 client from cfg. Static credentials are used when an
// access key is configured, otherwise the default AWS credential chain.
func Open(ctx context.Context, cfg config.S3Config) (*Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &common.StorageError{Backend: "s3", Op: "open", Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, cfg.Bucket, cfg.Key), nil
}

func (b *Backend) Name() string { return "s3" }

func (b *Backend) Read(ctx context.Context) (*models.Document, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, common.ErrNotFound
		}
		return nil, &common.StorageError{Backend: b.Name(), Op: "read", Err: err}
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &common.StorageError{Backend: b.Name(), Op: "read", Err: err}
	}
	if len(raw) == 0 {
		return nil, common.ErrNotFound
	}

	doc := &models.Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, &common.StorageError{Backend: b.Name(), Op: "decode", Err: err}
	}
	return doc, nil
}

func (b *Backend) Write(ctx context.Context, doc *models.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return &common.StorageError{Backend: b.Name(), Op: "encode", Err: err}
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key),
		Body:          bytes.NewReader(raw),
		ContentLength: aws.Int64(int64(len(raw))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return &common.StorageError{Backend: b.Name(), Op: "write", Err: err}
	}
	return nil
}

func (b *Backend) Close() error { return nil }
