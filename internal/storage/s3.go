package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	appconfig "docflow/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// BlobStore is the narrow document-storage contract the pipeline consumes.
type BlobStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, content io.Reader) (string, error)
	TestConnection(ctx context.Context) error
}

type blobStore struct {
	s3     *s3.Client
	bucket string
	region string
}

func NewBlobStore(cfg appconfig.S3Config) (BlobStore, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg)

	return &blobStore{
		s3:     client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Download fetches the document at the given key. A missing key surfaces
// as a storage error for the download stage to report.
func (b *blobStore) Download(ctx context.Context, path string) ([]byte, error) {
	out, err := b.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to download blob")
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	log.Debug().Str("path", path).Int("size", len(content)).Msg("Downloaded blob")
	return content, nil
}

func (b *blobStore) Upload(ctx context.Context, path string, content io.Reader) (string, error) {
	uploader := manager.NewUploader(b.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Body:   content,
	})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to upload blob")
		return "", err
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.bucket, b.region, path)
	log.Debug().Str("path", path).Msg("Uploaded blob")
	return url, nil
}

func (b *blobStore) TestConnection(ctx context.Context) error {
	_, err := b.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		MaxKeys: aws.Int32(1),
	})
	log.Err(err).Msg("S3 connection test")
	return err
}

// UploadBytes is a convenience wrapper for handlers holding raw content.
func UploadBytes(ctx context.Context, store BlobStore, path string, content []byte) (string, error) {
	return store.Upload(ctx, path, bytes.NewReader(content))
}
