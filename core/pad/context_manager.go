package pad

import (
	"context"
	"errors"
	"fmt"

	"AtmoMix/core/padstate"
	"AtmoMix/logger"
	"AtmoMix/model"
)

// ErrPadNotFound 图层或状态不存在
var ErrPadNotFound = errors.New("pad not found")

// ContextManager 处理展示上下文里对图层的操作，保持图层与状态存储一致
type ContextManager struct {
	store *padstate.Store
	lib   *Library
}

// NewContextManager 创建上下文管理器，同时把注册表挂为状态存储的间隔同步器
func NewContextManager(store *padstate.Store, lib *Library) *ContextManager {
	store.SetDelaySyncer(lib)
	return &ContextManager{store: store, lib: lib}
}

// AddPadToContext 把音频文件加入上下文，必要时创建图层和状态
func (m *ContextManager) AddPadToContext(file model.AudioFile, contextName string, initial model.PadStatePatch) (model.PadState, error) {
	p, err := m.lib.Ensure(file)
	if err != nil {
		return model.PadState{}, fmt.Errorf("创建图层失败: %w", err)
	}

	state := m.store.InitializePad(file.ID, initial)
	m.store.AddToContext(file.ID, contextName)

	p.SetDelaySettings(intValue(state.MinSeconds), intValue(state.MaxSeconds))
	p.SetLoop(state.IsLooping)
	p.SetMute(state.IsMuted)
	p.SetVolume(state.Volume)

	logger.Debug("图层加入上下文",
		logger.Int64("audioId", file.ID),
		logger.String("context", contextName))
	return state, nil
}

// RemovePadFromContext 移出上下文；没有任何上下文引用时先停止播放再删除状态
func (m *ContextManager) RemovePadFromContext(audioID int64, contextName string) {
	m.store.RemoveFromContext(audioID, contextName)
	if len(m.store.GetContexts(audioID)) > 0 {
		return
	}

	m.lib.ReleaseAudio(audioID)
	m.store.RemovePad(audioID)

	logger.Debug("图层已无引用，已释放",
		logger.Int64("audioId", audioID),
		logger.String("context", contextName))
}

// Toggle 切换播放/停止
func (m *ContextManager) Toggle(ctx context.Context, audioID int64) (model.PadState, error) {
	p, state, err := m.lookup(audioID)
	if err != nil {
		return model.PadState{}, err
	}

	playing := !state.IsPlaying
	if playing {
		if err := p.Play(ctx); err != nil {
			return state, err
		}
	} else {
		p.CancelFades()
		p.Stop()
	}

	// 自带上报的图层已经写过状态，这里只补齐差异
	if current, _ := m.store.GetState(audioID); current.IsPlaying != playing {
		m.store.UpdateState(audioID, model.PadStatePatch{IsPlaying: model.Bool(playing)})
	}
	current, _ := m.store.GetState(audioID)
	return current, nil
}

// SetVolume 设置音量
func (m *ContextManager) SetVolume(audioID int64, volume float64) (model.PadState, error) {
	p, _, err := m.lookup(audioID)
	if err != nil {
		return model.PadState{}, err
	}
	v := clamp01(volume)
	p.SetVolume(v)
	m.store.UpdateState(audioID, model.PadStatePatch{Volume: model.Float64(v)})
	current, _ := m.store.GetState(audioID)
	return current, nil
}

// ToggleLoop 切换循环，开启随机间隔的图层保持循环
func (m *ContextManager) ToggleLoop(audioID int64) (model.PadState, error) {
	p, state, err := m.lookup(audioID)
	if err != nil {
		return model.PadState{}, err
	}
	p.SetLoop(!state.IsLooping)
	m.store.UpdateState(audioID, model.PadStatePatch{IsLooping: model.Bool(p.State().IsLooping)})
	current, _ := m.store.GetState(audioID)
	return current, nil
}

// ToggleMute 切换静音
func (m *ContextManager) ToggleMute(audioID int64) (model.PadState, error) {
	p, state, err := m.lookup(audioID)
	if err != nil {
		return model.PadState{}, err
	}
	muted := !state.IsMuted
	p.SetMute(muted)
	m.store.UpdateState(audioID, model.PadStatePatch{IsMuted: model.Bool(muted)})
	current, _ := m.store.GetState(audioID)
	return current, nil
}

// SetDelay 设置随机间隔，范围 [0,60] 秒；图层通过状态存储的同步器更新
func (m *ContextManager) SetDelay(audioID int64, minSeconds, maxSeconds int) (model.PadState, error) {
	if _, _, err := m.lookup(audioID); err != nil {
		return model.PadState{}, err
	}
	minSeconds, maxSeconds = ClampDelay(minSeconds, maxSeconds)
	patch := model.PadStatePatch{
		MinSeconds: model.IntPtr(minSeconds),
		MaxSeconds: model.IntPtr(maxSeconds),
	}
	if minSeconds > 0 || maxSeconds > 0 {
		patch.IsLooping = model.Bool(true)
	}
	m.store.UpdateState(audioID, patch)
	current, _ := m.store.GetState(audioID)
	return current, nil
}

func (m *ContextManager) lookup(audioID int64) (Pad, model.PadState, error) {
	p, ok := m.lib.ByAudioID(audioID)
	if !ok {
		return nil, model.PadState{}, fmt.Errorf("%w: %d", ErrPadNotFound, audioID)
	}
	state, ok := m.store.GetState(audioID)
	if !ok {
		return nil, model.PadState{}, fmt.Errorf("%w: %d", ErrPadNotFound, audioID)
	}
	return p, state, nil
}

// ClampDelay 把随机间隔限制在 [0,60] 且 min<=max
func ClampDelay(minSeconds, maxSeconds int) (int, int) {
	minSeconds = min(max(minSeconds, 0), model.MaxDelaySeconds)
	maxSeconds = min(max(maxSeconds, 0), model.MaxDelaySeconds)
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}
	return minSeconds, maxSeconds
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
