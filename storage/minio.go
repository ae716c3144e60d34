package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"AtmoMix/config"
	"AtmoMix/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignExpiry = time.Hour

// MinioSource 音频文件存放在 MinIO 存储桶中，filePath 即对象 key
type MinioSource struct {
	client     *minio.Client
	bucketName string
}

// NewMinioSource 初始化 MinIO 客户端并确认存储桶存在
func NewMinioSource(ctx context.Context, cfg *config.Config) (*MinioSource, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("存储桶 %s 不存在", cfg.MinioBucket)
	}

	logger.Info("MinIO 音频来源已就绪",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	return &MinioSource{client: client, bucketName: cfg.MinioBucket}, nil
}

func objectKey(filePath string) string {
	return strings.TrimPrefix(filePath, "/")
}

// Stat 查询对象元数据
func (m *MinioSource) Stat(ctx context.Context, filePath string) (ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.bucketName, objectKey(filePath), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, filePath)
		}
		return ObjectInfo{}, fmt.Errorf("查询对象失败: %w", err)
	}
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
	}, nil
}

// URL 生成限时下载地址
func (m *MinioSource) URL(ctx context.Context, filePath string) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucketName, objectKey(filePath), presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成预签名地址失败: %w", err)
	}
	return u.String(), nil
}
