package pad

import (
	"context"
	"errors"
	"time"

	"AtmoMix/model"
)

var (
	// ErrPlaybackStart 图层启动播放失败（文件不可用或输出异常）
	ErrPlaybackStart = errors.New("playback start failed")
	// ErrFadeCancelled 淡变被 CancelFades 中断
	ErrFadeCancelled = errors.New("fade cancelled")
)

// FadeOptions 淡变参数
type FadeOptions struct {
	StopWhenZero bool   // 目标为 0 时结束后停止播放
	Curve        string // linear | equal_power | exp
}

// Pad 绑定单个音频文件的播放单元
// 编排器只通过这个接口操作音频
type Pad interface {
	AudioID() int64
	FilePath() string

	Play(ctx context.Context) error
	Stop()
	SetVolume(v float64)
	SetLoop(loop bool)
	SetMute(muted bool)
	SetDelaySettings(minSeconds, maxSeconds int)

	// FadeTo 在 d 时间内把音量移动到 target，结束、取消或 ctx 结束时返回
	FadeTo(ctx context.Context, target float64, d time.Duration, opts FadeOptions) error
	CancelFades()

	State() model.PadState
}

// StateReporter 图层自己上报播放/等待状态，padstate.Store 实现了它
type StateReporter interface {
	UpdateState(audioID int64, patch model.PadStatePatch) bool
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
