package documents

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/Dnhatsave/alfresco-cloud-sign/pkg/storage"
)

type StorageProvider struct {
	s3     storage.S3Client
	bucket string
}

func NewStorageProvider(s3 storage.S3Client, bucket string) *StorageProvider {
	return &StorageProvider{
		s3:     s3,
		bucket: bucket,
	}
}

func (p *StorageProvider) Bucket() string {
	return p.bucket
}

func (p *StorageProvider) UploadToS3(ctx context.Context, key string, body io.Reader) error {
	return p.s3.Upload(ctx, p.bucket, key, body)
}

func (p *StorageProvider) DownloadFromS3(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if bucket == "" {
		bucket = p.bucket
	}
	return p.s3.Download(ctx, bucket, key)
}

func (p *StorageProvider) DeleteFromS3(ctx context.Context, bucket, key string) error {
	if bucket == "" {
		bucket = p.bucket
	}
	return p.s3.Delete(ctx, bucket, key)
}

func (p *StorageProvider) GenerateS3Key(nodeID uuid.UUID, version int, fileName string) string {
	return fmt.Sprintf("nodes/%s/v%d/%s", nodeID, version, fileName)
}
