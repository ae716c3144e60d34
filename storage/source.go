package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"AtmoMix/config"
)

// ErrObjectNotFound 音频文件不存在
var ErrObjectNotFound = errors.New("audio object not found")

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// AudioSource 按 filePath 定位音频文件
// 图层只在开始播放前通过它确认文件可用
type AudioSource interface {
	Stat(ctx context.Context, filePath string) (ObjectInfo, error)
	URL(ctx context.Context, filePath string) (string, error)
}

// NewAudioSource 根据配置选择本地目录或 MinIO
func NewAudioSource(ctx context.Context, cfg *config.Config) (AudioSource, error) {
	switch cfg.AudioSource {
	case "", "local":
		return NewLocalSource(cfg.AudioRoot), nil
	case "minio":
		return NewMinioSource(ctx, cfg)
	default:
		return nil, fmt.Errorf("未知的音频来源: %s", cfg.AudioSource)
	}
}

// LocalSource 本地文件系统
type LocalSource struct {
	root string
}

// NewLocalSource 创建本地来源，相对路径基于 root 解析
func NewLocalSource(root string) *LocalSource {
	return &LocalSource{root: root}
}

func (s *LocalSource) resolve(filePath string) string {
	if filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(s.root, filePath)
}

// Stat 检查文件是否存在
func (s *LocalSource) Stat(_ context.Context, filePath string) (ObjectInfo, error) {
	full := s.resolve(filePath)
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, filePath)
		}
		return ObjectInfo{}, err
	}
	if fi.IsDir() {
		return ObjectInfo{}, fmt.Errorf("%s 是目录", filePath)
	}
	return ObjectInfo{
		Key:          filePath,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
		ContentType:  inferContentType(filePath),
	}, nil
}

// URL 本地文件返回 file:// 地址
func (s *LocalSource) URL(_ context.Context, filePath string) (string, error) {
	abs, err := filepath.Abs(s.resolve(filePath))
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// inferContentType 从文件名推断内容类型
func inferContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
