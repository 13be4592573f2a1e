package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/pkg/blob"
	blobFs "github.com/clipvault/clipvault/pkg/blob/fs"
	blobMemory "github.com/clipvault/clipvault/pkg/blob/memory"
	blobS3 "github.com/clipvault/clipvault/pkg/blob/s3"
	"github.com/clipvault/clipvault/pkg/catalog"
	catalogBadger "github.com/clipvault/clipvault/pkg/catalog/badger"
	catalogMemory "github.com/clipvault/clipvault/pkg/catalog/memory"
)

// CreateCatalog creates a catalog store based on configuration.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/catalog/memory (in-memory storage, ephemeral)
//   - "badger": Uses pkg/catalog/badger (BadgerDB storage, persistent)
func CreateCatalog(ctx context.Context, cfg *CatalogConfig) (catalog.Catalog, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return catalogMemory.NewStore(), nil
	case "badger":
		return createBadgerCatalog(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown catalog type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createBadgerCatalog creates a BadgerDB-backed persistent catalog.
func createBadgerCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type BadgerCatalogOptions struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var storeOpts BadgerCatalogOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode badger catalog options: %w", err)
	}

	if storeOpts.Path == "" && !storeOpts.InMemory {
		return nil, fmt.Errorf("badger catalog: path is required")
	}

	store, err := catalogBadger.NewStore(catalogBadger.Config{
		Path:     storeOpts.Path,
		InMemory: storeOpts.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger catalog: %w", err)
	}

	return store, nil
}

// CreateArchive creates a content archive based on configuration.
//
// Supported types:
//   - "filesystem": Uses pkg/blob/fs (local filesystem storage)
//   - "memory": Uses pkg/blob/memory (in-memory storage, ephemeral)
//   - "s3": Uses pkg/blob/s3 (Amazon S3 or compatible storage)
func CreateArchive(ctx context.Context, cfg *ArchiveConfig) (blob.Archive, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemArchive(ctx, cfg.Filesystem)
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return blobMemory.NewArchive(), nil
	case "s3":
		return createS3Archive(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown archive type: %q (supported: filesystem, memory, s3)", cfg.Type)
	}
}

// createFilesystemArchive creates a filesystem-based archive.
func createFilesystemArchive(ctx context.Context, options map[string]any) (blob.Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type FilesystemArchiveOptions struct {
		Path string `mapstructure:"path"`
	}

	var storeOpts FilesystemArchiveOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem archive options: %w", err)
	}

	if storeOpts.Path == "" {
		return nil, fmt.Errorf("filesystem archive: path is required")
	}

	store, err := blobFs.NewArchive(storeOpts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem archive: %w", err)
	}

	return store, nil
}

// createS3Archive creates an S3-based archive.
func createS3Archive(ctx context.Context, options map[string]any) (blob.Archive, error) {
	type S3ArchiveOptions struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeOpts S3ArchiveOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 archive options: %w", err)
	}

	if storeOpts.Bucket == "" {
		return nil, fmt.Errorf("S3 archive: bucket is required")
	}
	if storeOpts.Region == "" {
		return nil, fmt.Errorf("S3 archive: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(storeOpts.Region))

	// Custom endpoint support for MinIO, Localstack, etc.
	if storeOpts.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               storeOpts.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials if provided, otherwise the default credential chain.
	if storeOpts.AccessKeyID != "" && storeOpts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeOpts.AccessKeyID,
			storeOpts.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeOpts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility.
		if storeOpts.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	store, err := blobS3.NewArchive(ctx, blobS3.Config{
		Client:    client,
		Bucket:    storeOpts.Bucket,
		KeyPrefix: storeOpts.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 archive: %w", err)
	}

	logger.Info("S3 archive initialized: bucket=%s, region=%s, prefix=%s",
		storeOpts.Bucket, storeOpts.Region, storeOpts.KeyPrefix)

	return store, nil
}
