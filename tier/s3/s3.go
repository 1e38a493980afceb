// Package s3 is a shared tier backed by an S3 (or S3-compatible) bucket.
//
// S3 has no per-object TTL; the coordinator's envelope carries the expiry and
// expired objects are removed lazily on read. Use a bucket lifecycle rule to
// reclaim objects that are never read again.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/unkn0wn-root/tiercache/tier"
)

// maxDeleteBatch is the DeleteObjects per-request limit.
const maxDeleteBatch = 1000

// API is the subset of *s3.Client the tier uses.
type API interface {
	GetObject(ctx context.Context, in *s3v2.GetObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3v2.PutObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3v2.DeleteObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3v2.DeleteObjectsInput, optFns ...func(*s3v2.Options)) (*s3v2.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3v2.ListObjectsV2Input, optFns ...func(*s3v2.Options)) (*s3v2.ListObjectsV2Output, error)
}

var ErrNoBucket = errors.New("s3 tier: bucket is required")

type Config struct {
	Client API
	Bucket string
	Prefix string // object key prefix, e.g. "tiercache/"
}

type S3 struct {
	client API
	bucket string
	prefix string

	// mu makes DeletePrefix atomic w.r.t. this process's Get/Set/Del.
	mu sync.RWMutex
}

var _ tier.Tier = (*S3)(nil)

func New(cfg Config) (*S3, error) {
	if cfg.Client == nil {
		return nil, errors.New("s3 tier: client is required")
	}
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	return &S3{client: cfg.Client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ClientOptions control NewClient. Zero values inherit the shell's AWS setup
// (AWS_PROFILE, shared config, env, IMDS).
type ClientOptions struct {
	Profile  string
	Region   string
	Endpoint string // custom endpoint for S3-compatible stores; enables path-style addressing
}

// NewClient loads the AWS default config chain and builds an S3 client.
func NewClient(ctx context.Context, o ClientOptions) (*s3v2.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if o.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(o.Profile))
	}
	if o.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3v2.NewFromConfig(cfg, func(so *s3v2.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	}), nil
}

func (s *S3) objectKey(key string) string { return s.prefix + key }

func (s *S3) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := s.client.GetObject(ctx, &s3v2.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *S3) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.client.PutObject(ctx, &s3v2.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
	})
	return err
}

func (s *S3) Del(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.client.DeleteObject(ctx, &s3v2.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// DeletePrefix lists every object under the tier prefix + prefix and deletes
// them in batches.
func (s *S3) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s3v2.NewListObjectsV2Paginator(s.client, &s3v2.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	batch := make([]types.ObjectIdentifier, 0, maxDeleteBatch)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == maxDeleteBatch {
				if err := s.deleteBatch(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
	}
	if len(batch) > 0 {
		return s.deleteBatch(ctx, batch)
	}
	return nil
}

func (s *S3) deleteBatch(ctx context.Context, ids []types.ObjectIdentifier) error {
	out, err := s.client.DeleteObjects(ctx, &s3v2.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return err
	}
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		return fmt.Errorf("s3 tier: delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *S3) Close(context.Context) error { return nil }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
