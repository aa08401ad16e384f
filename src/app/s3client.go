package app

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

type ClientMinio interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (info minio.UploadInfo, err error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioS3Client is the BlobStore backed by an S3 compatible bucket.
type MinioS3Client struct {
	endpoint   string
	useSSL     bool
	bucketName string
	client     ClientMinio
}

const defaultContentType = "application/octet-stream"

// NewMinioS3Client creates a new MinioS3Client instance.
func NewMinioS3Client(endpoint, accessKeyID, secretAccessKey, bucketName string, useSSL bool) (*MinioS3Client, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Minio S3 client for %s: %w", endpoint, err)
	}
	return NewMinioS3ClientWith(minioClient, endpoint, bucketName, useSSL), nil
}

// NewMinioS3ClientWith wraps an existing client, tests pass a mock here.
func NewMinioS3ClientWith(client ClientMinio, endpoint, bucketName string, useSSL bool) *MinioS3Client {
	return &MinioS3Client{
		endpoint:   endpoint,
		useSSL:     useSSL,
		bucketName: bucketName,
		client:     client,
	}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s3 *MinioS3Client) EnsureBucket(ctx context.Context) error {
	exists, err := s3.client.BucketExists(ctx, s3.bucketName)
	if err != nil {
		return fmt.Errorf("can not check bucket %s: %w", s3.bucketName, err)
	}
	if exists {
		return nil
	}
	log.Ctx(ctx).Info().Str("bucket", s3.bucketName).Str("endpoint", s3.endpoint).Msg("creating bucket")
	if err := s3.client.MakeBucket(ctx, s3.bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("can not create bucket %s: %w", s3.bucketName, err)
	}
	return nil
}

// Put uploads an object to the bucket.
func (s3 *MinioS3Client) Put(ctx context.Context, key string, object io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = defaultContentType
	}
	_, err := s3.client.PutObject(ctx,
		s3.bucketName,
		key,
		object,
		size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("can not put %s: %w", key, err)
	}
	return nil
}

func (s3 *MinioS3Client) Get(ctx context.Context, key string) ([]byte, error) {
	object, err := s3.client.GetObject(ctx, s3.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3.translate(key, err)
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s3.translate(key, err)
	}
	return data, nil
}

func (s3 *MinioS3Client) Delete(ctx context.Context, key string) error {
	err := s3.client.RemoveObject(ctx, s3.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("can not remove %s/%s: %w", s3.bucketName, key, err)
	}
	return nil
}

func (s3 *MinioS3Client) translate(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return &Error{Kind: KindNotFound, Message: fmt.Sprintf("object %s not found", key), Err: err}
	}
	return fmt.Errorf("can not get %s: %w", key, err)
}
