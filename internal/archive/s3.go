// Package archive copies written evidence records to object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/evidence"
)

type Archiver interface {
	ArchiveRecord(ctx context.Context, r entity.EvidenceRecord) (string, error)
}

// NopArchiver is used when no bucket is configured.
type NopArchiver struct{}

func (NopArchiver) ArchiveRecord(context.Context, entity.EvidenceRecord) (string, error) {
	return "", nil
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver writes records to s3://<bucket>/<prefix>/evidence/YYYY/MM/DD/<evidenceId>.yaml.
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader uploader
}

// NewS3Archiver picks up region and credentials from the usual AWS environment.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// ObjectKey dates the record by deploy.syncedAt, falling back to now.
func (s *S3Archiver) ObjectKey(r entity.EvidenceRecord, now time.Time) string {
	ts := evidence.Timestamp(r)
	if ts.IsZero() {
		ts = now.UTC()
	}
	year, month, day := ts.Date()
	return path.Join(s.prefix, "evidence",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		r.ID.String()+".yaml",
	)
}

func (s *S3Archiver) ArchiveRecord(ctx context.Context, r entity.EvidenceRecord) (string, error) {
	body, err := evidence.Encode(r)
	if err != nil {
		return "", fmt.Errorf("encode evidence %s: %w", r.ID, err)
	}
	key := s.ObjectKey(r, time.Now())
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/yaml"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("bucket", s.bucket).Str("key", key).Msg("archived evidence record")
	return key, nil
}
