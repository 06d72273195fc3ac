// Package s3store stores photos in an S3-compatible bucket (AWS S3, MinIO).
package s3store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/sipico/checklist-bff/internal/filestore"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Object metadata keys recording where an upload belongs.
const (
	metaOwnerKey = "owner-key"
	metaBatchID  = "batch-id"
	metaItemID   = "item-id"
)

// Config holds bucket settings. Empty AccessKey falls back to the default
// AWS credential chain.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store is a filestore.Store backed by S3.
type Store struct {
	client objectAPI
	bucket string
	prefix string
	logger *slog.Logger
	newKey func() string
}

var _ filestore.Store = (*Store)(nil)

// New builds a Store from cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3store: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: failed to load AWS config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and most self-hosted endpoints need path-style addressing.
			o.UsePathStyle = true
		}
	})
	return newStore(client, cfg, logger), nil
}

func newStore(client objectAPI, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger,
		newKey: func() string { return uuid.New().String() },
	}
}

// Put uploads u under a fresh random key and returns the key.
func (s *Store) Put(ctx context.Context, u filestore.Upload) (string, error) {
	key := s.prefix + s.newKey()

	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        u.Body,
		ContentType: aws.String(u.MimeType),
		Metadata: map[string]string{
			metaOwnerKey: u.OwnerKey,
			metaBatchID:  u.BatchID,
			metaItemID:   u.ItemID,
		},
	}
	if u.Size >= 0 {
		in.ContentLength = aws.Int64(u.Size)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("s3store: put %s: %w", key, err)
	}
	s.logger.Debug("s3 upload complete", "key", key, "mime_type", u.MimeType)
	return key, nil
}

// Open streams the object stored under id.
func (s *Store) Open(ctx context.Context, id string) (*filestore.Object, error) {
	if s.prefix != "" && !strings.HasPrefix(id, s.prefix) {
		return nil, fmt.Errorf("%w: %s", filestore.ErrNotFound, id)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", filestore.ErrNotFound, id)
		}
		return nil, fmt.Errorf("s3store: get %s: %w", id, err)
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &filestore.Object{Body: out.Body, ContentType: contentType, Size: size}, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
