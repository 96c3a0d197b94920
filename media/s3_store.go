package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/camden-git/visionledger/clock"
)

// S3API is the subset of *s3.Client the store uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures the client built by NewS3Client
type S3Options struct {
	Region          string
	Endpoint        string // empty for AWS, set for R2 / MinIO
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client from static credentials, falling back to
// the default credential chain when no key is configured.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

// S3Storage implements Store on an S3 compatible bucket. Keys follow the
// same naming as LocalStorage, with the asset type's prefix in place of a
// directory.
type S3Storage struct {
	client   S3API
	bucket   string
	prefixes map[AssetType]string
	clock    clock.Clock
}

func NewS3Storage(client S3API, bucket string, prefixes map[AssetType]string, clk clock.Clock) *S3Storage {
	log.Printf("media.store: Initialized S3Storage for bucket %s", bucket)
	return &S3Storage{client: client, bucket: bucket, prefixes: prefixes, clock: clk}
}

// Save uploads with If-None-Match so an existing key is never replaced.
func (s *S3Storage) Save(ctx context.Context, assetType AssetType, logicalName string, data []byte) (Reference, error) {
	prefix, ok := s.prefixes[assetType]
	if !ok {
		return Reference{}, fmt.Errorf("%w: asset type '%s' is not configured", ErrStorage, assetType)
	}

	now := s.clock.Now()
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		key := path.Join(prefix, artifactName(now, logicalName, attempt > 0))

		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(http.DetectContentType(data)),
			IfNoneMatch:   aws.String("*"),
		})
		if isPreconditionFailed(err) {
			log.Printf("media.store: key %s already exists, retrying with a unique suffix", key)
			continue
		}
		if err != nil {
			return Reference{}, fmt.Errorf("%w: failed to upload '%s': %v", ErrStorage, key, err)
		}

		log.Printf("media.store: Uploaded asset to s3://%s/%s", s.bucket, key)
		return Reference{Path: key, Size: int64(len(data))}, nil
	}

	return Reference{}, fmt.Errorf("%w: could not find a free key for '%s'", ErrStorage, logicalName)
}

func (s *S3Storage) Read(ctx context.Context, ref Reference) ([]byte, error) {
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref.Path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: '%s'", ErrArtifactNotFound, ref.Path)
		}
		return nil, fmt.Errorf("failed to get object '%s': %w", ref.Path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", ref.Path, err)
	}
	return data, nil
}

func (s *S3Storage) Exists(ctx context.Context, ref Reference) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref.Path),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object '%s': %w", ref.Path, err)
	}
	return true, nil
}

// Delete removes an object. S3 reports success for missing keys as well.
func (s *S3Storage) Delete(ctx context.Context, ref Reference) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref.Path),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object '%s': %w", ref.Path, err)
	}
	log.Printf("media.store: Deleted s3://%s/%s", s.bucket, ref.Path)
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "PreconditionFailed" || apiErr.ErrorCode() == "ConditionalRequestConflict")
}
