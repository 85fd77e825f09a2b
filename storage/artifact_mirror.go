package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const mirrorPartSize = 10 * 1024 * 1024

// MirrorConfig selects the bucket downloaded artifacts are copied to.
type MirrorConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ArtifactMirror copies downloaded job artifacts to S3 or an S3-compatible
// object store.
type ArtifactMirror struct {
	bucket   string
	prefix   string
	uploader objectUploader
}

// NewArtifactMirror creates a new artifact mirror. It returns nil, nil when
// no bucket is configured.
func NewArtifactMirror(ctx context.Context, cfg MirrorConfig) (*ArtifactMirror, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = mirrorPartSize
	})
	return newArtifactMirror(cfg.Bucket, cfg.Prefix, uploader), nil
}

func newArtifactMirror(bucket, prefix string, uploader objectUploader) *ArtifactMirror {
	return &ArtifactMirror{
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		uploader: uploader,
	}
}

// ObjectKey returns the key a job artifact is stored under.
func (m *ArtifactMirror) ObjectKey(jobID, localPath string) string {
	return path.Join(m.prefix, jobID, filepath.Base(localPath))
}

// MirrorArtifact uploads the file at localPath and returns its s3:// URI.
func (m *ArtifactMirror) MirrorArtifact(ctx context.Context, jobID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := m.ObjectKey(jobID, localPath)
	if _, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", m.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", m.bucket, key), nil
}
