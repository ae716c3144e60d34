package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// Lister 可以枚举音频文件的来源
type Lister interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// InventoryStats 音频文件统计信息
type InventoryStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	ByType       map[string]int64
}

// List 列出存储桶中 prefix 下的全部音频对象
func (m *MinioSource) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    objectKey(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("列出对象失败: %w", obj.Err)
		}
		if !IsAudio(obj.Key) {
			continue
		}
		contentType := obj.ContentType
		if contentType == "" {
			contentType = inferContentType(obj.Key)
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  contentType,
		})
	}
	return objects, nil
}

// List 遍历 root 下 prefix 目录中的音频文件，Key 为相对 root 的路径
func (s *LocalSource) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := s.resolve(prefix)

	var objects []ObjectInfo
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !IsAudio(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			rel = path
		}
		objects = append(objects, ObjectInfo{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
			ContentType:  inferContentType(path),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历目录失败: %w", err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// IsAudio 按扩展名判断是否为支持的音频文件
func IsAudio(name string) bool {
	return strings.HasPrefix(inferContentType(name), "audio/")
}

// Summarize 统计数量、总大小和最近修改时间
func Summarize(objects []ObjectInfo) InventoryStats {
	stats := InventoryStats{ByType: make(map[string]int64)}
	for _, obj := range objects {
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		stats.ByType[obj.ContentType]++
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
	}
	return stats
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
