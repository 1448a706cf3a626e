// Package objectstore is the object store adapter: download, upload, move,
// tag, and delete the original and optimized PDF variants behind an
// S3-compatible endpoint (MinIO in development, any S3-compatible bucket in
// production).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Store wraps an S3 client scoped to a single bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// Config describes the S3-compatible endpoint to connect to.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// New builds a Store against an S3-compatible endpoint, using path-style
// addressing since MinIO (the development target) does not support virtual
// hosted buckets by default.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// DownloadToFile streams object key to a local path.
func (s *Store) DownloadToFile(ctx context.Context, key, localPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("write %q: %w", localPath, err)
	}
	return nil
}

// UploadFromFile uploads a local path to object key.
func (s *Store) UploadFromFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %q: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// Move copies srcKey to dstKey then removes srcKey. Used by the move
// handler to relocate both the original and the optimized variant.
func (s *Store) Move(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + escapeKey(srcKey)),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return fmt.Errorf("copy %q to %q: %w", srcKey, dstKey, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(srcKey),
	}); err != nil {
		return fmt.Errorf("delete source %q after copy: %w", srcKey, err)
	}
	return nil
}

// escapeKey percent-encodes a key for use in a CopySource header, preserving
// path separators so keys with spaces or other reserved characters (user
// filenames are not restricted to a safe charset) still resolve correctly.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// SetPublicTag applies (or clears) the is_public tag mirroring the inode
// flag, used by the share handler.
func (s *Store) SetPublicTag(ctx context.Context, key string, public bool) error {
	_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Tagging: &types.Tagging{
			TagSet: []types.Tag{
				{Key: aws.String("is_public"), Value: aws.String(fmt.Sprintf("%t", public))},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("tag %q: %w", key, err)
	}
	return nil
}

// DeleteMany removes a set of keys, used by the delete handler for the
// original and optimized variants together. Per-key failures are returned
// joined, not aborted early, matching the best-effort cleanup contract.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	var objs []types.ObjectIdentifier
	for _, k := range keys {
		objs = append(objs, types.ObjectIdentifier{Key: aws.String(k)})
	}
	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: objs},
	})
	if err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	var errs []error
	for _, e := range out.Errors {
		errs = append(errs, fmt.Errorf("delete %q: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
	}
	return errors.Join(errs...)
}
