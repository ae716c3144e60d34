package padstate

import (
	"sort"
	"sync"

	"AtmoMix/core/events"
	"AtmoMix/logger"
	"AtmoMix/model"
)

// DelaySyncer 将随机间隔设置同步到实际的播放单元
type DelaySyncer interface {
	SyncDelay(audioID int64, minSeconds, maxSeconds int)
}

// ContextPad 某个上下文中的图层及其状态
type ContextPad struct {
	AudioID int64          `json:"audioId"`
	State   model.PadState `json:"state"`
}

// Stats 状态统计
type Stats struct {
	TotalPads     int            `json:"totalPads"`
	PlayingPads   int            `json:"playingPads"`
	ContextCounts map[string]int `json:"contextCounts"`
}

// Store 图层播放状态的唯一数据源，同时维护图层与展示上下文的多对多关系
// 所有修改在返回前完成合并与通知
type Store struct {
	mu       sync.RWMutex
	pads     map[int64]model.PadState
	contexts map[string]map[int64]struct{}

	pub   events.Publisher
	delay DelaySyncer
}

// NewStore 创建状态存储
func NewStore(pub events.Publisher) *Store {
	return &Store{
		pads:     make(map[int64]model.PadState),
		contexts: make(map[string]map[int64]struct{}),
		pub:      pub,
	}
}

// SetDelaySyncer 注入随机间隔同步器（图层库创建晚于状态存储）
func (s *Store) SetDelaySyncer(d DelaySyncer) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// InitializePad 创建或合并图层状态
// 不存在时以默认状态 {停止, 不循环, 不静音, 音量 0.5} 为基础合并 initial
func (s *Store) InitializePad(audioID int64, initial model.PadStatePatch) model.PadState {
	s.mu.Lock()
	base, ok := s.pads[audioID]
	if !ok {
		base = model.DefaultPadState()
	}
	state := base.Apply(initial)
	s.pads[audioID] = state
	contexts := s.contextsLocked(audioID)
	s.mu.Unlock()

	s.notifyState(audioID, state, contexts)
	return state.Clone()
}

// GetState 获取图层状态
func (s *Store) GetState(audioID int64) (model.PadState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.pads[audioID]
	if !ok {
		return model.PadState{}, false
	}
	return state.Clone(), true
}

// UpdateState 局部更新图层状态，图层不存在时返回 false
// 修改随机间隔时额外同步到对应的播放单元
func (s *Store) UpdateState(audioID int64, patch model.PadStatePatch) bool {
	s.mu.Lock()
	current, ok := s.pads[audioID]
	if !ok {
		s.mu.Unlock()
		logger.Warn("更新不存在的图层状态", logger.Int64("audioId", audioID))
		return false
	}
	state := current.Apply(patch)
	s.pads[audioID] = state
	contexts := s.contextsLocked(audioID)
	syncer := s.delay
	s.mu.Unlock()

	s.notifyState(audioID, state, contexts)

	if patch.TouchesDelay() && syncer != nil {
		syncer.SyncDelay(audioID, intOrZero(state.MinSeconds), intOrZero(state.MaxSeconds))
	}
	return true
}

// AddToContext 将图层加入展示上下文
func (s *Store) AddToContext(audioID int64, context string) {
	s.mu.Lock()
	set, ok := s.contexts[context]
	if !ok {
		set = make(map[int64]struct{})
		s.contexts[context] = set
	}
	set[audioID] = struct{}{}
	state, hasState := s.pads[audioID]
	s.mu.Unlock()

	s.notifyContext(events.KindContextAdded, audioID, context, state, hasState)
}

// RemoveFromContext 将图层移出展示上下文（不删除状态）
func (s *Store) RemoveFromContext(audioID int64, context string) {
	s.mu.Lock()
	set, ok := s.contexts[context]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(set, audioID)
	if len(set) == 0 {
		delete(s.contexts, context)
	}
	state, hasState := s.pads[audioID]
	s.mu.Unlock()

	s.notifyContext(events.KindContextRemoved, audioID, context, state, hasState)
}

// RemovePad 从所有上下文移除并删除状态
// 调用方需要先停止播放
func (s *Store) RemovePad(audioID int64) {
	s.mu.Lock()
	var removed []string
	for name, set := range s.contexts {
		if _, ok := set[audioID]; ok {
			delete(set, audioID)
			if len(set) == 0 {
				delete(s.contexts, name)
			}
			removed = append(removed, name)
		}
	}
	state, hasState := s.pads[audioID]
	delete(s.pads, audioID)
	s.mu.Unlock()

	sort.Strings(removed)
	for _, name := range removed {
		s.notifyContext(events.KindContextRemoved, audioID, name, state, hasState)
	}
	logger.Debug("图层状态已删除", logger.Int64("audioId", audioID), logger.Strings("contexts", removed))
}

// GetContexts 图层当前所在的上下文（按名称排序）
func (s *Store) GetContexts(audioID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contextsLocked(audioID)
}

// IsInContext 图层是否在指定上下文中
func (s *Store) IsInContext(audioID int64, context string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contexts[context][audioID]
	return ok
}

// GetPadsInContext 上下文中仍有状态的图层，按 audioId 排序
func (s *Store) GetPadsInContext(context string) []ContextPad {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.contexts[context]
	result := make([]ContextPad, 0, len(set))
	for id := range set {
		if state, ok := s.pads[id]; ok {
			result = append(result, ContextPad{AudioID: id, State: state.Clone()})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AudioID < result[j].AudioID })
	return result
}

// Snapshot 所有图层状态的拷贝
func (s *Store) Snapshot() map[int64]model.PadState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]model.PadState, len(s.pads))
	for id, state := range s.pads {
		out[id] = state.Clone()
	}
	return out
}

// Stats 状态统计
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalPads: len(s.pads), ContextCounts: make(map[string]int, len(s.contexts))}
	for _, state := range s.pads {
		if state.IsPlaying {
			st.PlayingPads++
		}
	}
	for name, set := range s.contexts {
		st.ContextCounts[name] = len(set)
	}
	return st
}

// contextsLocked 调用方需持有锁
func (s *Store) contextsLocked(audioID int64) []string {
	var names []string
	for name, set := range s.contexts {
		if _, ok := set[audioID]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Store) notifyState(audioID int64, state model.PadState, contexts []string) {
	if s.pub == nil {
		return
	}
	snapshot := state.Clone()
	s.pub.Publish(events.Event{
		Kind:     events.KindStateChanged,
		AudioID:  audioID,
		Contexts: contexts,
		State:    &snapshot,
	})
}

func (s *Store) notifyContext(kind events.Kind, audioID int64, context string, state model.PadState, hasState bool) {
	if s.pub == nil {
		return
	}
	ev := events.Event{Kind: kind, AudioID: audioID, Context: context}
	if hasState {
		snapshot := state.Clone()
		ev.State = &snapshot
	}
	s.pub.Publish(ev)
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
