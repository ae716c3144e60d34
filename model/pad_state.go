package model

// PadState 某个音频图层的播放状态快照，按值在各个展示上下文之间共享
type PadState struct {
	IsPlaying         bool    `json:"isPlaying"`
	IsLooping         bool    `json:"isLooping"`
	IsMuted           bool    `json:"isMuted"`
	Volume            float64 `json:"volume"`
	MinSeconds        *int    `json:"minSeconds,omitempty"`
	MaxSeconds        *int    `json:"maxSeconds,omitempty"`
	IsWaitingForDelay bool    `json:"isWaitingForDelay,omitempty"`
}

// PadStatePatch 局部更新，nil 字段表示不修改
type PadStatePatch struct {
	IsPlaying         *bool    `json:"isPlaying,omitempty"`
	IsLooping         *bool    `json:"isLooping,omitempty"`
	IsMuted           *bool    `json:"isMuted,omitempty"`
	Volume            *float64 `json:"volume,omitempty"`
	MinSeconds        *int     `json:"minSeconds,omitempty"`
	MaxSeconds        *int     `json:"maxSeconds,omitempty"`
	IsWaitingForDelay *bool    `json:"isWaitingForDelay,omitempty"`
}

// DefaultPadState 新图层的默认状态
func DefaultPadState() PadState {
	return PadState{Volume: 0.5}
}

// Apply 将 patch 合并到状态上，返回新值
func (s PadState) Apply(p PadStatePatch) PadState {
	if p.IsPlaying != nil {
		s.IsPlaying = *p.IsPlaying
	}
	if p.IsLooping != nil {
		s.IsLooping = *p.IsLooping
	}
	if p.IsMuted != nil {
		s.IsMuted = *p.IsMuted
	}
	if p.Volume != nil {
		s.Volume = *p.Volume
	}
	if p.MinSeconds != nil {
		v := *p.MinSeconds
		s.MinSeconds = &v
	}
	if p.MaxSeconds != nil {
		v := *p.MaxSeconds
		s.MaxSeconds = &v
	}
	if p.IsWaitingForDelay != nil {
		s.IsWaitingForDelay = *p.IsWaitingForDelay
	}
	return s
}

// Clone 深拷贝（指针字段各自独立）
func (s PadState) Clone() PadState {
	if s.MinSeconds != nil {
		v := *s.MinSeconds
		s.MinSeconds = &v
	}
	if s.MaxSeconds != nil {
		v := *s.MaxSeconds
		s.MaxSeconds = &v
	}
	return s
}

// TouchesDelay 是否修改了随机间隔设置
func (p PadStatePatch) TouchesDelay() bool {
	return p.MinSeconds != nil || p.MaxSeconds != nil
}

// Bool 返回指针，便于构造 patch
func Bool(v bool) *bool { return &v }

// Float64 返回指针，便于构造 patch
func Float64(v float64) *float64 { return &v }

// IntPtr 返回指针，便于构造 patch
func IntPtr(v int) *int { return &v }
