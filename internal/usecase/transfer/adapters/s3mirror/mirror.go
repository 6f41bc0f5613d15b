package s3mirror

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sir_venger/file_transfer/internal/config"
	"github.com/sir_venger/file_transfer/internal/models"
)

// PutObjectAPI описывает часть S3-клиента, нужную зеркалу.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Mirror копирует опубликованные файлы в бакет под тем же публичным именем.
type Mirror struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// New создаёт зеркало поверх готового клиента.
func New(client PutObjectAPI, bucket, prefix string) *Mirror {
	return &Mirror{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// FromConfig строит S3-клиент из стандартной цепочки кредов AWS.
// Endpoint задаётся для S3-совместимых хранилищ (MinIO, localstack).
func FromConfig(ctx context.Context, cfg config.S3Mirror) (*Mirror, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, cfg.Bucket, cfg.Prefix), nil
}

// Mirror загружает файл в бакет.
func (m *Mirror) Mirror(ctx context.Context, f models.PublishedFile) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open published file: %w", err)
	}
	defer src.Close()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(m.Key(f.PublicName)),
		Body:          src,
		ContentLength: aws.Int64(f.Size),
		Metadata: map[string]string{
			"identifier": f.Identifier,
			"sha256":     f.Checksum,
		},
	}
	if f.Type != "" {
		in.ContentType = aws.String(f.Type)
	}

	if _, err := m.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", m.bucket, *in.Key, err)
	}
	return nil
}

// Key строит ключ объекта для публичного имени файла.
func (m *Mirror) Key(publicName string) string {
	if m.prefix == "" {
		return publicName
	}
	return path.Join(m.prefix, publicName)
}
