package pad

import (
	"errors"
	"sort"
	"sync"
	"time"

	"AtmoMix/logger"
	"AtmoMix/model"
	"AtmoMix/storage"
)

// Factory 为音频文件创建图层
type Factory func(file model.AudioFile) Pad

// Library 图层注册表，按文件路径索引，首次引用时创建
type Library struct {
	mu     sync.RWMutex
	byPath map[string]Pad
	byID   map[int64]string

	factory Factory
}

// NewLibrary 创建使用 SoundPad + HeadlessOutput 的注册表
func NewLibrary(source storage.AudioSource, reporter StateReporter) *Library {
	return NewLibraryWithFactory(func(file model.AudioFile) Pad {
		duration := time.Duration(file.Duration * float64(time.Second))
		return NewSoundPad(file, NewHeadlessOutput(source, duration), reporter)
	})
}

// NewLibraryWithFactory 自定义图层实现
func NewLibraryWithFactory(factory Factory) *Library {
	return &Library{
		byPath:  make(map[string]Pad),
		byID:    make(map[int64]string),
		factory: factory,
	}
}

// Ensure 获取或创建文件对应的图层
func (l *Library) Ensure(file model.AudioFile) (Pad, error) {
	if file.FilePath == "" {
		return nil, errors.New("音频文件缺少路径")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.byPath[file.FilePath]; ok {
		l.byID[file.ID] = file.FilePath
		return p, nil
	}
	p := l.factory(file)
	l.byPath[file.FilePath] = p
	l.byID[file.ID] = file.FilePath

	logger.Debug("创建图层",
		logger.Int64("audioId", file.ID),
		logger.String("filePath", file.FilePath))
	return p, nil
}

// Get 按路径查找
func (l *Library) Get(filePath string) (Pad, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.byPath[filePath]
	return p, ok
}

// ByAudioID 按音频 ID 查找
func (l *Library) ByAudioID(audioID int64) (Pad, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	path, ok := l.byID[audioID]
	if !ok {
		return nil, false
	}
	p, ok := l.byPath[path]
	return p, ok
}

// Release 停止并移除图层
func (l *Library) Release(filePath string) {
	l.mu.Lock()
	p, ok := l.byPath[filePath]
	if ok {
		delete(l.byPath, filePath)
		for id, path := range l.byID {
			if path == filePath {
				delete(l.byID, id)
			}
		}
	}
	l.mu.Unlock()

	if ok {
		p.CancelFades()
		p.Stop()
		logger.Debug("释放图层", logger.String("filePath", filePath))
	}
}

// ReleaseAudio 按音频 ID 释放
func (l *Library) ReleaseAudio(audioID int64) {
	l.mu.RLock()
	path, ok := l.byID[audioID]
	l.mu.RUnlock()
	if ok {
		l.Release(path)
	}
}

// StopAll 停止所有图层（不释放）
func (l *Library) StopAll() {
	for _, p := range l.Pads() {
		p.CancelFades()
		p.Stop()
	}
}

// Pads 所有图层，按音频 ID 排序
func (l *Library) Pads() []Pad {
	l.mu.RLock()
	pads := make([]Pad, 0, len(l.byPath))
	for _, p := range l.byPath {
		pads = append(pads, p)
	}
	l.mu.RUnlock()

	sort.Slice(pads, func(i, j int) bool { return pads[i].AudioID() < pads[j].AudioID() })
	return pads
}

// Len 图层数量
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byPath)
}

// SyncDelay 实现 padstate.DelaySyncer
func (l *Library) SyncDelay(audioID int64, minSeconds, maxSeconds int) {
	p, ok := l.ByAudioID(audioID)
	if !ok {
		return
	}
	p.SetDelaySettings(minSeconds, maxSeconds)
}
