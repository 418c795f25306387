package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
)

// S3Config: параметры подключения к S3-совместимому хранилищу.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// S3: бэкенд поверх S3-совместимого хранилища (MinIO, Ceph RGW, AWS).
type S3 struct {
	client *minio.Client
	// core: низкоуровневый API для multipart-операций
	core   *minio.Core
	bucket string
}

// NewS3 создаёт S3-бэкенд. Сеть не используется до первого запроса.
func NewS3(cfg S3Config) (*S3, error) {
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания S3-клиента: %w", err)
	}
	return &S3{client: core.Client, core: core, bucket: cfg.Bucket}, nil
}

// Bucket возвращает имя бакета.
func (s *S3) Bucket() string {
	return s.bucket
}

func (s *S3) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapS3Error(err, key)
	}
	return &ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         NormalizeETag(info.ETag),
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
	}, nil
}

// Get сначала читает метаданные, проверяет условия и диапазон локально,
// затем открывает объект с If-Match на полученный ETag.
func (s *S3) Get(ctx context.Context, key string, opts GetOptions) (*Object, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkConditions(info, opts); err != nil {
		return nil, err
	}

	getOpts := minio.GetObjectOptions{}
	if err := getOpts.SetMatchETag(info.ETag); err != nil {
		return nil, fmt.Errorf("ошибка параметров чтения: %w", err)
	}
	r := resolveRange(info, opts)
	if r != nil {
		if err := getOpts.SetRange(r.Start, r.Start+r.Length-1); err != nil {
			return nil, fmt.Errorf("ошибка параметров диапазона: %w", err)
		}
	}

	body, err := s.client.GetObject(ctx, s.bucket, key, getOpts)
	if err != nil {
		return nil, mapS3Error(err, key)
	}
	return &Object{Info: *info, Body: body, Range: r}, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !errors.Is(mapS3Error(err, key), ErrNotFound) {
		return mapS3Error(err, key)
	}
	return nil
}

func (s *S3) CreateMultipart(ctx context.Context, key string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{
		ContentType: contentTypeFor(key),
	})
	if err != nil {
		return "", mapS3Error(err, key)
	}
	return uploadID, nil
}

func (s *S3) UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (Part, error) {
	part, err := s.core.PutObjectPart(ctx, s.bucket, key, uploadID, partNumber, r, size, minio.PutObjectPartOptions{})
	if err != nil {
		return Part{}, mapS3Error(err, key)
	}
	return Part{PartNumber: part.PartNumber, ETag: NormalizeETag(part.ETag)}, nil
}

func (s *S3) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (*ObjectInfo, error) {
	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: p.PartNumber, ETag: NormalizeETag(p.ETag)})
	}

	if _, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, complete, minio.PutObjectOptions{}); err != nil {
		return nil, mapS3Error(err, key)
	}
	// Ответ CompleteMultipartUpload не содержит размера
	return s.Stat(ctx, key)
}

func (s *S3) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := s.core.AbortMultipartUpload(ctx, s.bucket, key, uploadID); err != nil {
		return mapS3Error(err, key)
	}
	return nil
}

func (s *S3) PutTags(ctx context.Context, key string, values map[string]string) error {
	t, err := tags.NewTags(values, true)
	if err != nil {
		return fmt.Errorf("некорректные теги объекта %s: %w", key, err)
	}
	if err := s.client.PutObjectTagging(ctx, s.bucket, key, t, minio.PutObjectTaggingOptions{}); err != nil {
		return mapS3Error(err, key)
	}
	return nil
}

func (s *S3) RemoveTags(ctx context.Context, key string) error {
	if err := s.client.RemoveObjectTagging(ctx, s.bucket, key, minio.RemoveObjectTaggingOptions{}); err != nil {
		return mapS3Error(err, key)
	}
	return nil
}

// S3ReadinessChecker: проверка доступности бакета для /health/ready.
type S3ReadinessChecker struct {
	store *S3
}

// NewS3ReadinessChecker создаёт проверку готовности S3-бэкенда.
func NewS3ReadinessChecker(store *S3) *S3ReadinessChecker {
	return &S3ReadinessChecker{store: store}
}

// CheckReady проверяет существование бакета.
func (c *S3ReadinessChecker) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	ok, err := c.store.client.BucketExists(ctx, c.store.bucket)
	if err != nil {
		return "fail", fmt.Sprintf("S3 недоступен: %v", err)
	}
	if !ok {
		return "fail", fmt.Sprintf("бакет %s не существует", c.store.bucket)
	}
	return "ok", "бакет доступен"
}

// mapS3Error приводит ошибки S3 к ошибкам пакета.
func mapS3Error(err error, key string) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchUpload" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed ||
		resp.StatusCode == http.StatusNotModified:
		return fmt.Errorf("%w: %s", ErrPreconditionFailed, key)
	case resp.Code == "InvalidPart" || resp.Code == "InvalidPartOrder" || resp.Code == "EntityTooSmall":
		return fmt.Errorf("%w: %s", ErrInvalidPart, resp.Message)
	default:
		return fmt.Errorf("ошибка S3 для %s: %w", key, err)
	}
}
