package s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
)

// API is the subset of the S3 client the storage service uses
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ API = (*s3.Client)(nil)

const (
	multipartThreshold = 32 * 1024 * 1024
	multipartChunkSize = 16 * 1024 * 1024
)

// UploadFunc stores an object through an optimized upload path
type UploadFunc func(ctx context.Context, archive cargoships3.Archive) error

// NewClient builds an S3 client and, when enabled, a CargoShip uploader
// from cfg
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*s3.Client, UploadFunc, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	if !cfg.EnableCargoShipOptimization {
		return client, nil, nil
	}

	transporter := cargoships3.NewTransporter(client, awsconfig.S3Config{
		Bucket:             cfg.Bucket,
		StorageClass:       awsconfig.StorageClassIntelligentTiering,
		MultipartThreshold: multipartThreshold,
		MultipartChunkSize: multipartChunkSize,
		Concurrency:        cfg.Concurrency,
	})
	logger.Info("CargoShip upload optimization enabled",
		"multipart_threshold", multipartThreshold,
		"chunk_size", multipartChunkSize,
		"concurrency", cfg.Concurrency)

	upload := func(ctx context.Context, archive cargoships3.Archive) error {
		result, err := transporter.Upload(ctx, archive)
		if err != nil {
			return err
		}
		logger.Debug("CargoShip upload completed",
			"key", archive.Key,
			"size", archive.Size,
			"throughput", result.Throughput,
			"duration", result.Duration)
		return nil
	}
	return client, upload, nil
}

// archiveFor describes one object upload for the transporter
func archiveFor(key string, data []byte, tier string) (cargoships3.Archive, bool) {
	class, ok := cargoStorageClass(tier)
	if !ok {
		return cargoships3.Archive{}, false
	}
	return cargoships3.Archive{
		Key:          key,
		Reader:       bytes.NewReader(data),
		Size:         int64(len(data)),
		StorageClass: class,
		Metadata: map[string]string{
			"sdmcfs-upload": "true",
			"storage-tier":  tier,
		},
	}, true
}
