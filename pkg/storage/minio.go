// Package storage 提供了与对象存储服务（如 MinIO）交互的功能，用于归档抽取出的文本。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"rag-sync-go/internal/config"
	"rag-sync-go/pkg/log"
)

// Archive 按 key 存取纯文本。
type Archive interface {
	Put(ctx context.Context, key, text string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ArchiveKey 返回文档抽取文本在存储桶中的对象名。
func ArchiveKey(collection, documentID string) string {
	return "extracted/" + collection + "/" + documentID + ".txt"
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	return client, nil
}

// MinioArchive 是 Archive 的 MinIO 实现。
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive 创建归档实例，存储桶需已存在。
func NewMinioArchive(client *minio.Client, bucket string) *MinioArchive {
	return &MinioArchive{client: client, bucket: bucket}
}

func (a *MinioArchive) Put(ctx context.Context, key, text string) error {
	data := []byte(text)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	return err
}

func (a *MinioArchive) Get(ctx context.Context, key string) (string, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()

	var b strings.Builder
	if _, err := io.Copy(&b, obj); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return "", err
	}
	return b.String(), nil
}

func (a *MinioArchive) Delete(ctx context.Context, key string) error {
	return a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{})
}

// PresignedURL generates a presigned URL for a given object.
func (a *MinioArchive) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucket, key, expiry, url.Values{})
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return u.String(), nil
}
