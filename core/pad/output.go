package pad

import (
	"context"
	"fmt"
	"sync"
	"time"

	"AtmoMix/storage"
)

// Output 实际发声的一端
// 服务端不解码音频，默认实现只校验文件并按时长模拟播放结束
type Output interface {
	Start(ctx context.Context, filePath string, onEnded func()) error
	Stop()
	SetGain(gain float64)
	Gain() float64
}

// HeadlessOutput 无声输出：Start 时通过 AudioSource 确认文件存在，
// 时长已知时在播放结束后回调 onEnded
type HeadlessOutput struct {
	source   storage.AudioSource
	duration time.Duration

	mu      sync.Mutex
	gain    float64
	timer   *time.Timer
	running bool
}

// NewHeadlessOutput duration 为 0 表示时长未知，不会触发结束回调
func NewHeadlessOutput(source storage.AudioSource, duration time.Duration) *HeadlessOutput {
	return &HeadlessOutput{source: source, duration: duration}
}

// Start 开始一次播放，已在播放时先结束上一次
func (o *HeadlessOutput) Start(ctx context.Context, filePath string, onEnded func()) error {
	if o.source != nil {
		if _, err := o.source.Stat(ctx, filePath); err != nil {
			return fmt.Errorf("音频文件不可用: %w", err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.running = true
	if o.duration > 0 && onEnded != nil {
		var t *time.Timer
		t = time.AfterFunc(o.duration, func() {
			o.mu.Lock()
			current := o.timer == t
			if current {
				o.timer = nil
				o.running = false
			}
			o.mu.Unlock()
			if current {
				onEnded()
			}
		})
		o.timer = t
	}
	return nil
}

// Stop 结束播放，不会触发 onEnded
func (o *HeadlessOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.running = false
}

// SetGain 设置实际增益
func (o *HeadlessOutput) SetGain(gain float64) {
	o.mu.Lock()
	o.gain = gain
	o.mu.Unlock()
}

// Gain 当前增益
func (o *HeadlessOutput) Gain() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gain
}

// Running 是否处于播放中
func (o *HeadlessOutput) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}
