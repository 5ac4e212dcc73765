// Package s3 implements the blob sink on an S3 compatible bucket, either AWS
// or a MinIO style endpoint.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"gridstore/internal/blob/core"
)

const defaultRegion = "us-east-1"

// Config selects the bucket. Static credentials are optional; without them
// the default AWS credential chain applies.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// ConfigFromEnv reads GRIDSTORE_BLOB_S3_BUCKET, GRIDSTORE_BLOB_S3_REGION,
// GRIDSTORE_BLOB_S3_ENDPOINT and GRIDSTORE_BLOB_S3_PATH_STYLE.
func ConfigFromEnv() Config {
	return Config{
		Bucket:    os.Getenv("GRIDSTORE_BLOB_S3_BUCKET"),
		Region:    os.Getenv("GRIDSTORE_BLOB_S3_REGION"),
		Endpoint:  os.Getenv("GRIDSTORE_BLOB_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("GRIDSTORE_BLOB_S3_PATH_STYLE"), "true"),
	}
}

// Store implements core.Store on one bucket.
type Store struct {
	client *s3.Client
	bucket string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newStore(awsCfg, cfg), nil
}

func loadOptions(cfg Config) []func(*config.LoadOptions) error {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	return opts
}

func newStore(awsCfg aws.Config, cfg Config, extra ...func(*s3.Options)) *Store {
	client := s3.NewFromConfig(awsCfg, append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, extra...)...)
	return &Store{client: client, bucket: cfg.Bucket}
}

func (s *Store) Driver() core.Driver { return core.DriverS3 }

// Put buffers the body so the request carries a length and a seekable
// payload; table files are small enough for that.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("read %s: %w", k, err)
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return core.Info{}, fmt.Errorf("put %s: %w", k, err)
	}
	return core.Info{
		Key:          k,
		Size:         int64(len(body)),
		ContentType:  opts.ContentType,
		ETag:         etag(out.ETag),
		Metadata:     maps.Clone(opts.Metadata),
		LastModified: time.Now().UTC(),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)})
	if err != nil {
		return core.Info{}, nil, notFound(k, err)
	}
	return objectInfo{
		size: out.ContentLength, contentType: out.ContentType, etag: out.ETag,
		metadata: out.Metadata, modified: out.LastModified,
	}.info(k), out.Body, nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)})
	if err != nil {
		return core.Info{}, notFound(k, err)
	}
	return objectInfo{
		size: out.ContentLength, contentType: out.ContentType, etag: out.ETag,
		metadata: out.Metadata, modified: out.LastModified,
	}.info(k), nil
}

// Delete checks the key first because DeleteObject succeeds on absent keys.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	info, err := s.Head(ctx, key)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(info.Key)}); err != nil {
		return false, fmt.Errorf("delete %s: %w", info.Key, err)
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket), Prefix: aws.String(prefix)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		infos = slices.Grow(infos, len(page.Contents))
		for _, obj := range page.Contents {
			infos = append(infos, listed(obj))
		}
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

func listed(obj types.Object) core.Info {
	return objectInfo{size: obj.Size, etag: obj.ETag, modified: obj.LastModified}.info(aws.ToString(obj.Key))
}

// objectInfo gathers the response fields shared by GetObject, HeadObject and
// listings.
type objectInfo struct {
	size        *int64
	contentType *string
	etag        *string
	metadata    map[string]string
	modified    *time.Time
}

func (o objectInfo) info(key string) core.Info {
	info := core.Info{
		Key:         key,
		Size:        aws.ToInt64(o.size),
		ContentType: aws.ToString(o.contentType),
		ETag:        etag(o.etag),
		Metadata:    o.metadata,
	}
	if o.modified != nil {
		info.LastModified = o.modified.UTC()
	}
	return info
}

func etag(v *string) string { return strings.Trim(aws.ToString(v), `"`) }

// notFound folds 404 responses into core.ErrNotFound.
func notFound(key string, err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return core.NotFound(key)
	}
	return fmt.Errorf("s3 %s: %w", key, err)
}
