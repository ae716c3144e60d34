package crossfade

import (
	"math"
	"sort"

	"AtmoMix/model"
)

// VolumeEpsilon 音量差不超过该值视为不变
const VolumeEpsilon = 0.01

// Target 某个图层在目标氛围中的期望状态
type Target struct {
	AudioID    int64
	File       model.AudioFile
	Volume     float64
	IsLooping  bool
	IsMuted    bool
	MinSeconds int
	MaxSeconds int
}

// VolumeChange 正在播放的图层需要调整音量
type VolumeChange struct {
	AudioID int64   `json:"audioId"`
	From    float64 `json:"from"`
	To      float64 `json:"to"`
}

// Diff 当前播放集合与目标集合的差异
type Diff struct {
	Removed       []int64        `json:"removed"`       // 播放中但不在目标里：淡出后停止
	Added         []Target       `json:"added"`         // 目标里但未播放：低音量启动后淡入
	VolumeChanged []VolumeChange `json:"volumeChanged"` // 播放中且音量差超过阈值
	Kept          []int64        `json:"kept"`          // 播放中且无需淡变，只同步参数
}

// Empty 没有任何需要执行的动作
func (d Diff) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0 && len(d.VolumeChanged) == 0
}

// BuildTargets 由氛围详情构造目标表，无效的成员（audioFileId<=0）被忽略
func BuildTargets(detail *model.AtmosphereWithSounds) map[int64]Target {
	files := make(map[int64]model.AudioFile, len(detail.AudioFiles))
	for _, f := range detail.AudioFiles {
		files[f.ID] = f
	}

	targets := make(map[int64]Target, len(detail.Sounds))
	for _, s := range detail.Sounds {
		if s.AudioFileID <= 0 {
			continue
		}
		file, ok := files[s.AudioFileID]
		if !ok {
			file = model.AudioFile{ID: s.AudioFileID}
		}
		targets[s.AudioFileID] = Target{
			AudioID:    s.AudioFileID,
			File:       file,
			Volume:     clampVolume(s.Volume),
			IsLooping:  s.IsLooping || s.MinSeconds > 0 || s.MaxSeconds > 0,
			IsMuted:    s.IsMuted,
			MinSeconds: s.MinSeconds,
			MaxSeconds: s.MaxSeconds,
		}
	}
	return targets
}

// ComputeDiff 纯计算：不读写任何共享状态
//
// 静音的目标图层不参与音量淡变；目标音量为 0 且未播放的图层不启动。
func ComputeDiff(current map[int64]model.PadState, targets map[int64]Target) Diff {
	var d Diff

	for id, st := range current {
		if !st.IsPlaying {
			continue
		}
		if _, ok := targets[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}

	for id, t := range targets {
		st, ok := current[id]
		if !ok || !st.IsPlaying {
			if t.Volume > 0 {
				d.Added = append(d.Added, t)
			}
			continue
		}
		if !t.IsMuted && math.Abs(st.Volume-t.Volume) > VolumeEpsilon {
			d.VolumeChanged = append(d.VolumeChanged, VolumeChange{AudioID: id, From: st.Volume, To: t.Volume})
			continue
		}
		d.Kept = append(d.Kept, id)
	}

	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i] < d.Removed[j] })
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].AudioID < d.Added[j].AudioID })
	sort.Slice(d.VolumeChanged, func(i, j int) bool { return d.VolumeChanged[i].AudioID < d.VolumeChanged[j].AudioID })
	sort.Slice(d.Kept, func(i, j int) bool { return d.Kept[i] < d.Kept[j] })
	return d
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
