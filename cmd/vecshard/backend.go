package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/vecshard"
	"github.com/hupe1980/vecshard/blobstore"
	vsminio "github.com/hupe1980/vecshard/blobstore/minio"
	vss3 "github.com/hupe1980/vecshard/blobstore/s3"
	"github.com/hupe1980/vecshard/config"
	"github.com/hupe1980/vecshard/internal/cache"
	"github.com/hupe1980/vecshard/rankstore"
	"github.com/hupe1980/vecshard/telemetry"
)

// openStore builds the blob store named by cfg. Remote stores get a block
// cache in front when cfg.BlockCacheBytes is set.
func openStore(ctx context.Context, cfg config.StoreConfig) (blobstore.BlobStore, error) {
	var store blobstore.BlobStore

	switch cfg.Type {
	case "local":
		return blobstore.NewLocalStore(cfg.Root), nil
	case "s3":
		awsCfg, err := loadAWSConfig(ctx, cfg.S3.Region)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
			}
			o.UsePathStyle = cfg.S3.UsePathStyle
		})
		store = vss3.NewStore(client, cfg.S3.Bucket, cfg.S3.Prefix, vss3.WithPartSize(cfg.S3.PartSize))
	case "minio":
		accessKey, secretKey := cfg.MinIO.Credentials()
		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		store = vsminio.NewStore(client, cfg.MinIO.Bucket, cfg.MinIO.Prefix, vsminio.WithPartSize(cfg.MinIO.PartSize))
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}

	if cfg.BlockCacheBytes > 0 {
		store = blobstore.NewCachingStore(store, cache.NewLRUBlockCache(cfg.BlockCacheBytes, nil), blobstore.DefaultBlockSize)
	}

	return store, nil
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws config: %w", err)
	}
	return awsCfg, nil
}

// openRankStore returns nil for type none.
func openRankStore(ctx context.Context, cfg config.RankStoreConfig, region string, logger *slog.Logger) (rankstore.Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "none":
		return nil, nil
	case "badger":
		return rankstore.OpenBadger(rankstore.BadgerOptions{
			Dir:       cfg.Dir,
			Namespace: cfg.Namespace,
			Logger:    logger,
		})
	case "dynamodb":
		awsCfg, err := loadAWSConfig(ctx, region)
		if err != nil {
			return nil, err
		}
		return rankstore.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.Namespace), nil
	default:
		return nil, fmt.Errorf("unknown rank store type %q", cfg.Type)
	}
}

// sinks holds the telemetry recorders opened for a run.
type sinks struct {
	recorder telemetry.Recorder
	closers  []io.Closer
	line     *telemetry.LineRecorder
}

func openTelemetry(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (*sinks, error) {
	s := &sinks{}

	var recs telemetry.Multi

	if cfg.File != "" {
		f, err := os.Create(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("telemetry file: %w", err)
		}
		s.line = telemetry.NewLineRecorder(f)
		s.closers = append(s.closers, f)
		recs = append(recs, s.line)
	}

	if cfg.DB != "" {
		db, err := telemetry.OpenSQLite(ctx, cfg.DB, telemetry.WithSQLLogger(logger))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("telemetry db: %w", err)
		}
		logger.Info("telemetry run", "run_id", db.RunID(), "db", cfg.DB)
		// flush the database before the file is closed
		s.closers = append([]io.Closer{db}, s.closers...)
		recs = append(recs, db)
	}

	if len(recs) == 0 {
		s.recorder = telemetry.Noop{}
	} else {
		s.recorder = recs
	}

	return s, nil
}

func (s *sinks) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.line != nil && first == nil {
		first = s.line.Err()
	}
	return first
}

func newLogger(cfg config.LogConfig, w io.Writer) (*vecshard.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return vecshard.NewLogger(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return vecshard.NewLogger(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
