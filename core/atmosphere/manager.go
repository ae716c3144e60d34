package atmosphere

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"AtmoMix/core/crossfade"
	"AtmoMix/logger"
	"AtmoMix/model"
)

// Backend 管理器需要的后端操作，Service 实现了它
type Backend interface {
	GetAtmosphereWithSounds(ctx context.Context, id int64) (*model.AtmosphereWithSounds, error)
	SaveAtmosphere(ctx context.Context, payload *model.AtmosphereSavePayload) (int64, error)
	DeleteAtmosphere(ctx context.Context, id int64) error
	DuplicateAtmosphere(ctx context.Context, id int64) (int64, error)
	Summaries(ctx context.Context) ([]model.AtmosphereSummary, error)
}

// Crossfader 过渡执行者，crossfade.Orchestrator 实现了它
type Crossfader interface {
	CrossfadeTo(ctx context.Context, detail *model.AtmosphereWithSounds, opts crossfade.Options) (crossfade.Result, error)
	CancelCurrent() bool
}

// Membership 成员编辑状态，membership.Manager 实现了它
type Membership interface {
	Atmosphere() (model.Atmosphere, bool)
	Clear()
}

// LoadOptions 零值使用氛围自身的默认时长和曲线
type LoadOptions struct {
	DurationMs int64  `json:"durationMs"`
	Curve      string `json:"curve"`
}

// Manager 氛围的加载、创建、删除和列表刷新
type Manager struct {
	backend Backend
	fader   Crossfader
	members Membership // 可以为 nil

	mu       sync.RWMutex
	activeID int64
}

// NewManager 创建氛围管理器
func NewManager(backend Backend, fader Crossfader, members Membership) *Manager {
	return &Manager{backend: backend, fader: fader, members: members}
}

// Load 获取氛围详情并过渡过去；被取消时不改变当前氛围
func (m *Manager) Load(ctx context.Context, id int64, opts LoadOptions) (crossfade.Result, error) {
	detail, err := m.backend.GetAtmosphereWithSounds(ctx, id)
	if err != nil {
		return crossfade.Result{}, fmt.Errorf("failed to load atmosphere %d: %w", id, err)
	}

	duration := opts.DurationMs
	if duration <= 0 {
		duration = detail.Atmosphere.DefaultCrossfadeMs
	}
	curve := opts.Curve
	if !model.IsValidFadeCurve(curve) {
		curve = detail.Atmosphere.FadeCurve
	}

	logger.Info("加载氛围",
		logger.Int64("atmosphereId", id),
		logger.String("name", detail.Atmosphere.Name),
		logger.Int64("durationMs", duration),
		logger.String("curve", curve))

	res, err := m.fader.CrossfadeTo(ctx, detail, crossfade.Options{DurationMs: duration, Curve: curve})
	if err != nil {
		return res, err
	}
	if res.Cancelled {
		logger.Info("氛围加载被取消",
			logger.Int64("atmosphereId", id),
			logger.String("transitionId", res.TransitionID))
		return res, nil
	}

	m.mu.Lock()
	m.activeID = id
	m.mu.Unlock()
	return res, nil
}

// CancelLoad 取消进行中的加载
func (m *Manager) CancelLoad() bool {
	return m.fader.CancelCurrent()
}

// CreateEmpty 创建空氛围，name 为空时使用默认名称
func (m *Manager) CreateEmpty(ctx context.Context, name string) (int64, error) {
	atmo := model.NewEmptyAtmosphere()
	if name = strings.TrimSpace(name); name != "" {
		atmo.Name = name
		atmo.Title = name
	}
	return m.backend.SaveAtmosphere(ctx, &model.AtmosphereSavePayload{Atmosphere: atmo})
}

// Delete 删除氛围；正在播放或编辑的氛围被删除时一并清空
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if m.members != nil {
		// 先清空成员编辑，避免防抖写入落到已删除的氛围上
		if current, ok := m.members.Atmosphere(); ok && current.ID == id {
			m.members.Clear()
		}
	}

	if err := m.backend.DeleteAtmosphere(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	if m.activeID == id {
		m.activeID = 0
	}
	m.mu.Unlock()
	return nil
}

// Duplicate 复制氛围
func (m *Manager) Duplicate(ctx context.Context, id int64) (int64, error) {
	return m.backend.DuplicateAtmosphere(ctx, id)
}

// Refresh 重新获取列表，附带完整性结果
func (m *Manager) Refresh(ctx context.Context) ([]model.AtmosphereSummary, error) {
	summaries, err := m.backend.Summaries(ctx)
	if err != nil {
		return nil, err
	}

	broken := 0
	for _, s := range summaries {
		if s.MissingCount > 0 {
			broken++
		}
	}
	if broken > 0 {
		logger.Warn("部分氛围引用了缺失的音频",
			logger.Int("total", len(summaries)),
			logger.Int("broken", broken))
	}
	return summaries, nil
}

// ActiveID 当前播放的氛围，0 表示没有
func (m *Manager) ActiveID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}
