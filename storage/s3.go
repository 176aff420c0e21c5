// Package storage mirrors run artifacts to S3 or an S3-compatible store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config contains minimal configuration for creating an S3 client.
// Values are optional and will fall back to the standard AWS config/credential chain.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key; a trailing slash is added if missing.
	Prefix string
	// Region to use for requests, e.g. "us-east-1". If empty, AWS defaults apply.
	Region string
	// Profile selects a named shared config/credentials profile.
	Profile string
	// Endpoint overrides the service endpoint, e.g. a local MinIO.
	Endpoint string
	// UsePathStyle forces path-style addressing (useful for some S3-compatible providers).
	UsePathStyle bool
}

// ObjectAPI is the subset of the S3 client the mirror uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3 wraps an S3 client bound to one bucket and key prefix.
type S3 struct {
	client ObjectAPI
	bucket string
	prefix string
}

// NewS3 creates a client using the default AWS configuration chain,
// with optional overrides from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3WithClient(c, cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient binds an existing client to bucket and prefix.
func NewS3WithClient(client ObjectAPI, bucket, prefix string) *S3 {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Bucket returns the bucket objects are written to.
func (s *S3) Bucket() string { return s.bucket }

// Key returns the full object key for a name relative to the prefix.
func (s *S3) Key(name string) string { return s.prefix + name }

// PutFile uploads the local file at localPath under name.
func (s *S3) PutFile(ctx context.Context, name, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.Key(name)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", localPath, s.bucket, s.Key(name), err)
	}
	return nil
}

// Get fetches an object and returns its streaming body. Caller must Close it.
func (s *S3) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(name)),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Download copies an object to localPath. The file is written next to its
// destination and renamed into place, so a failed download leaves any existing
// file untouched.
func (s *S3) Download(ctx context.Context, name, localPath string) error {
	body, err := s.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to fetch s3://%s/%s: %w", s.bucket, s.Key(name), err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, s.Key(name), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), localPath)
}

// Exists returns true if the object exists (HTTP 200 from HeadObject); false if 404/NotFound.
func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(name)),
	})
	if err == nil {
		return true, nil
	}

	var respErr *http.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return false, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return false, nil
	}
	return false, err
}

// Artifact is a local file produced by a run.
type Artifact struct {
	Path        string
	ContentType string
}

// LatestKey is the name MirrorRun gives the newest copy of a file.
func LatestKey(file string) string { return path.Join("dedup", "latest", file) }

// MirrorRun uploads each artifact twice: under dedup/<runID>/ and under dedup/latest/.
// It stops at the first failure and returns the keys written so far.
func (s *S3) MirrorRun(ctx context.Context, runID string, artifacts []Artifact) ([]string, error) {
	var keys []string
	for _, dir := range []string{path.Join("dedup", runID), path.Join("dedup", "latest")} {
		for _, a := range artifacts {
			name := path.Join(dir, filepath.Base(a.Path))
			if err := s.PutFile(ctx, name, a.Path, a.ContentType); err != nil {
				return keys, err
			}
			keys = append(keys, s.Key(name))
		}
	}
	return keys, nil
}
