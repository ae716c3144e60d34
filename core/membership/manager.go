package membership

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"AtmoMix/core/events"
	"AtmoMix/logger"
	"AtmoMix/model"
)

// DefaultDebounce 默认的持久化防抖时间
const DefaultDebounce = 600 * time.Millisecond

// ErrNoAtmosphere 没有选中的氛围
var ErrNoAtmosphere = errors.New("no atmosphere selected")

// Backend 成员持久化依赖的后端接口
type Backend interface {
	GetAtmosphereWithSounds(ctx context.Context, id int64) (*model.AtmosphereWithSounds, error)
	SaveAtmosphere(ctx context.Context, payload *model.AtmosphereSavePayload) (int64, error)
}

// ValidationError 无效的成员记录，在发送前被丢弃
type ValidationError struct {
	AudioFileID int64
	Reason      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid membership %d: %s", e.AudioFileID, e.Reason)
}

// PersistError 后端保存失败，内存中的成员保持不变
type PersistError struct {
	AtmosphereID int64
	Err          error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist atmosphere %d: %v", e.AtmosphereID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// MemberPatch 成员局部更新，nil 字段不修改
type MemberPatch struct {
	Volume     *float64 `json:"volume,omitempty"`
	IsLooping  *bool    `json:"isLooping,omitempty"`
	IsMuted    *bool    `json:"isMuted,omitempty"`
	MinSeconds *int     `json:"minSeconds,omitempty"`
	MaxSeconds *int     `json:"maxSeconds,omitempty"`
}

// Manager 当前氛围的成员列表（内存）及防抖持久化
type Manager struct {
	backend  Backend
	pub      events.Publisher
	debounce time.Duration

	mu         sync.Mutex
	atmosphere *model.Atmosphere
	members    map[int64]model.AtmosphereSound
	order      []int64
	loaded     bool
	timer      *time.Timer
	timerGen   uint64

	persistMu sync.Mutex // 同一时刻只有一次写入
}

// NewManager debounce<=0 时使用 DefaultDebounce
func NewManager(backend Backend, pub events.Publisher, debounce time.Duration) *Manager {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Manager{
		backend:  backend,
		pub:      pub,
		debounce: debounce,
		members:  make(map[int64]model.AtmosphereSound),
	}
}

// SetAtmosphere 切换到指定氛围：先取消待执行的持久化，再用后端的最新成员列表替换内存
func (m *Manager) SetAtmosphere(ctx context.Context, atmosphereID int64) error {
	m.mu.Lock()
	m.cancelTimerLocked()
	m.resetLocked()
	m.mu.Unlock()

	detail, err := m.backend.GetAtmosphereWithSounds(ctx, atmosphereID)
	if err != nil {
		return fmt.Errorf("获取氛围成员失败: %w", err)
	}
	if detail == nil {
		return fmt.Errorf("氛围 %d 不存在", atmosphereID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 获取期间可能又切换过
	m.cancelTimerLocked()
	m.resetLocked()
	atmo := detail.Atmosphere
	m.atmosphere = &atmo
	for _, s := range detail.Sounds {
		if _, dup := m.members[s.AudioFileID]; dup {
			continue
		}
		m.members[s.AudioFileID] = s
		m.order = append(m.order, s.AudioFileID)
	}
	m.loaded = true

	logger.Debug("成员列表已加载",
		logger.Int64("atmosphereId", atmo.ID),
		logger.Int("count", len(m.order)))
	return nil
}

// Clear 取消待执行的持久化并清空
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.resetLocked()
}

// AddSound 添加成员，已存在时返回 exists=true 且不做任何修改
func (m *Manager) AddSound(audioID int64) (exists bool, err error) {
	if audioID <= 0 {
		return false, &ValidationError{AudioFileID: audioID, Reason: "audio id must be positive"}
	}

	m.mu.Lock()
	if m.atmosphere == nil {
		m.mu.Unlock()
		return false, ErrNoAtmosphere
	}
	if _, ok := m.members[audioID]; ok {
		m.mu.Unlock()
		return true, nil
	}
	m.members[audioID] = model.AtmosphereSound{
		AtmosphereID: m.atmosphere.ID,
		AudioFileID:  audioID,
		Volume:       model.DefaultMemberVolume,
		CreatedAt:    time.Now(),
	}
	m.order = append(m.order, audioID)
	m.mu.Unlock()

	m.SchedulePersist(0)
	return false, nil
}

// RemoveSound 删除成员，不存在时返回 false
func (m *Manager) RemoveSound(audioID int64) bool {
	m.mu.Lock()
	if _, ok := m.members[audioID]; !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.members, audioID)
	for i, id := range m.order {
		if id == audioID {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.SchedulePersist(0)
	return true
}

// UpdateMember 合并到已有成员，不存在时返回 false
func (m *Manager) UpdateMember(audioID int64, patch MemberPatch) bool {
	m.mu.Lock()
	s, ok := m.members[audioID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if patch.Volume != nil {
		s.Volume = *patch.Volume
	}
	if patch.IsLooping != nil {
		s.IsLooping = *patch.IsLooping
	}
	if patch.IsMuted != nil {
		s.IsMuted = *patch.IsMuted
	}
	if patch.MinSeconds != nil {
		s.MinSeconds = *patch.MinSeconds
	}
	if patch.MaxSeconds != nil {
		s.MaxSeconds = *patch.MaxSeconds
	}
	m.members[audioID] = s
	m.mu.Unlock()

	m.SchedulePersist(0)
	return true
}

// UpdateDelayValues 设置随机间隔，限制在 [0,60]；任一值大于 0 时强制循环
func (m *Manager) UpdateDelayValues(audioID int64, minSeconds, maxSeconds int) bool {
	minSeconds = clampDelay(minSeconds)
	maxSeconds = clampDelay(maxSeconds)
	patch := MemberPatch{MinSeconds: &minSeconds, MaxSeconds: &maxSeconds}
	if minSeconds > 0 || maxSeconds > 0 {
		looping := true
		patch.IsLooping = &looping
	}
	return m.UpdateMember(audioID, patch)
}

// SchedulePersist 重置防抖计时器，窗口内只有最后一次调用会写入
func (m *Manager) SchedulePersist(delay time.Duration) {
	if delay <= 0 {
		delay = m.debounce
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.atmosphere == nil {
		return
	}
	m.cancelTimerLocked()
	gen := m.timerGen
	m.timer = time.AfterFunc(delay, func() { m.fire(gen) })
}

func (m *Manager) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	if err := m.PersistChanges(context.Background()); err != nil {
		logger.Warn("成员自动保存失败，等待下一次保存", logger.ErrorField(err))
	}
}

// Flush 取消计时器并立即写入，用于显式重试
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	m.cancelTimerLocked()
	m.mu.Unlock()
	return m.PersistChanges(ctx)
}

// PersistChanges 重新获取元数据，合并内存成员并校验后保存
// 失败时内存状态保持不变
func (m *Manager) PersistChanges(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if m.atmosphere == nil {
		m.mu.Unlock()
		return nil
	}
	local := *m.atmosphere
	sounds := m.membersLocked()
	m.mu.Unlock()

	meta := local
	if detail, err := m.backend.GetAtmosphereWithSounds(ctx, local.ID); err != nil {
		logger.Warn("获取氛围元数据失败，使用本地数据",
			logger.Int64("atmosphereId", local.ID),
			logger.ErrorField(err))
	} else if detail != nil {
		meta = detail.Atmosphere
	}

	payload := &model.AtmosphereSavePayload{Atmosphere: meta}
	for _, s := range sounds {
		valid, err := validate(s)
		if err != nil {
			logger.Warn("丢弃无效成员",
				logger.Int64("atmosphereId", local.ID),
				logger.ErrorField(err))
			continue
		}
		valid.AtmosphereID = meta.ID
		payload.Sounds = append(payload.Sounds, valid)
	}

	if _, err := m.backend.SaveAtmosphere(ctx, payload); err != nil {
		perr := &PersistError{AtmosphereID: local.ID, Err: err}
		logger.Error("成员保存失败",
			logger.Int64("atmosphereId", local.ID),
			logger.ErrorField(err))
		m.publish(events.Event{Kind: events.KindPersistFailed, AtmosphereID: local.ID, Message: err.Error()})
		return perr
	}

	logger.Debug("成员已保存",
		logger.Int64("atmosphereId", local.ID),
		logger.Int("count", len(payload.Sounds)))
	m.publish(events.Event{Kind: events.KindPersisted, AtmosphereID: local.ID, Count: len(payload.Sounds)})
	return nil
}

// Atmosphere 当前氛围
func (m *Manager) Atmosphere() (model.Atmosphere, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.atmosphere == nil {
		return model.Atmosphere{}, false
	}
	return *m.atmosphere, true
}

// Members 按加入顺序返回成员
func (m *Manager) Members() []model.AtmosphereSound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membersLocked()
}

// Member 单个成员
func (m *Manager) Member(audioID int64) (model.AtmosphereSound, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.members[audioID]
	return s, ok
}

// IsLoaded 成员列表是否已从后端加载
func (m *Manager) IsLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// HasPendingPersist 是否有等待中的写入
func (m *Manager) HasPendingPersist() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

func (m *Manager) membersLocked() []model.AtmosphereSound {
	out := make([]model.AtmosphereSound, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.members[id])
	}
	return out
}

// cancelTimerLocked 先停计时器再递增代数，已触发但还没拿到锁的回调也会放弃
func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

func (m *Manager) resetLocked() {
	m.atmosphere = nil
	m.members = make(map[int64]model.AtmosphereSound)
	m.order = nil
	m.loaded = false
}

func (m *Manager) publish(ev events.Event) {
	if m.pub != nil {
		m.pub.Publish(ev)
	}
}

// validate 校验并规范化成员记录
func validate(s model.AtmosphereSound) (model.AtmosphereSound, error) {
	if s.AudioFileID <= 0 {
		return s, &ValidationError{AudioFileID: s.AudioFileID, Reason: "audio id must be positive"}
	}
	if math.IsNaN(s.Volume) || math.IsInf(s.Volume, 0) {
		return s, &ValidationError{AudioFileID: s.AudioFileID, Reason: "volume is not a number"}
	}
	s.Volume = math.Min(math.Max(s.Volume, 0), 1)
	s.MinSeconds = clampDelay(s.MinSeconds)
	s.MaxSeconds = clampDelay(s.MaxSeconds)
	if s.MaxSeconds < s.MinSeconds {
		s.MaxSeconds = s.MinSeconds
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return s, nil
}

func clampDelay(v int) int {
	return min(max(v, 0), model.MaxDelaySeconds)
}
