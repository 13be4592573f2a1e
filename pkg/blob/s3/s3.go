// Package s3 implements the content archive on Amazon S3 or any
// S3-compatible object store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/clipvault/clipvault/pkg/blob"
)

// Archive stores blobs as objects keyed by the sharded hash, optionally
// below a key prefix. Object storage has no rename, so Store uploads and
// relies on the hash-derived key for idempotency: two uploads of the same
// hash write identical bytes to the same key.
type Archive struct {
	client    *awss3.Client
	bucket    string
	keyPrefix string
}

// Config contains configuration for the S3 archive.
type Config struct {
	// Client is the configured S3 client
	Client *awss3.Client

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	KeyPrefix string
}

// NewArchive verifies bucket access and returns the archive.
func NewArchive(ctx context.Context, cfg Config) (*Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Archive{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (a *Archive) objectKey(hash string) string {
	return a.keyPrefix + blob.ArchiveKey(hash)
}

// Store implements blob.Archive. The local source file is removed after a
// successful upload (or when the object already exists).
func (a *Archive) Store(ctx context.Context, hash string, src string) (string, error) {
	key := blob.ArchiveKey(hash)

	exists, err := a.Exists(ctx, hash)
	if err != nil {
		return "", err
	}
	if !exists {
		f, err := os.Open(src)
		if err != nil {
			return "", fmt.Errorf("failed to open upload %s: %w", src, err)
		}
		defer f.Close()

		_, err = a.client.PutObject(ctx, &awss3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.objectKey(hash)),
			Body:   f,
		})
		if err != nil {
			return "", fmt.Errorf("failed to archive %s: %w", hash, err)
		}
	}

	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to remove uploaded source: %w", err)
	}
	return key, nil
}

// Exists implements blob.Archive.
func (a *Archive) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(hash)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", hash, err)
	}
	return true, nil
}

// LinkInto implements blob.Archive by materializing a local copy: object
// stores cannot be symlinked into, so the mirror gets real bytes. The
// download lands in a temp file first and is renamed into place so readers
// never observe a partial file.
func (a *Archive) LinkInto(ctx context.Context, hash string, dst string) error {
	result, err := a.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(hash)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return fmt.Errorf("cannot link unarchived content %s: %w", hash, err)
		}
		return fmt.Errorf("failed to fetch %s: %w", hash, err)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create link parent: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, result.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download %s: %w", hash, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
