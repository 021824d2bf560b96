package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// S3Config holds bucket mirror configuration
type S3Config struct {
	Bucket          string
	Prefix          string // key prefix inside the bucket
	Region          string
	Endpoint        string // S3-compatible endpoint; empty means AWS
	AccessKeyID     string // empty means the default credential chain
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Fetcher reads assets from an S3 bucket laid out like the remote host
type S3Fetcher struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Fetcher creates a fetcher over cfg.Bucket
func NewS3Fetcher(ctx context.Context, cfg *S3Config) (*S3Fetcher, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", util.ErrInvalidConfig)
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			)),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Fetcher{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (f *S3Fetcher) objectKey(key string) string {
	if f.prefix == "" {
		return key
	}
	return path.Join(f.prefix, key)
}

// Location returns the s3:// URI for key
func (f *S3Fetcher) Location(key string) string {
	return "s3://" + f.bucket + "/" + f.objectKey(key)
}

// Fetch streams the object body for key
func (f *S3Fetcher) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.objectKey(key)),
	})
	if err == nil {
		return object.Body, nil
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return nil, fmt.Errorf("%s: %w", f.Location(key), ErrNotFound)
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", f.Location(key), ErrNotFound)
		}
		return nil, &StatusError{StatusCode: respErr.HTTPStatusCode(), URL: f.Location(key)}
	}

	return nil, fmt.Errorf("failed to get %s: %w", f.Location(key), err)
}
