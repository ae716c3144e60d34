package pad

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"AtmoMix/logger"
	"AtmoMix/model"
)

// 淡变步进间隔
const fadeStep = 20 * time.Millisecond

// SoundPad Pad 的默认实现
type SoundPad struct {
	file     model.AudioFile
	out      Output
	reporter StateReporter

	mu         sync.Mutex
	volume     float64
	isPlaying  bool
	isLooping  bool
	isMuted    bool
	waiting    bool
	minSeconds int
	maxSeconds int

	playGen    uint64 // 每次 Play/Stop 递增，过期的回调据此丢弃
	delayTimer *time.Timer

	fadeSeq uint64
	fades   map[uint64]chan struct{}

	randFloat func() float64
}

// NewSoundPad 创建图层，reporter 可以为 nil
func NewSoundPad(file model.AudioFile, out Output, reporter StateReporter) *SoundPad {
	p := &SoundPad{
		file:      file,
		out:       out,
		reporter:  reporter,
		volume:    model.DefaultMemberVolume,
		fades:     make(map[uint64]chan struct{}),
		randFloat: rand.Float64,
	}
	out.SetGain(p.volume)
	return p
}

func (p *SoundPad) AudioID() int64   { return p.file.ID }
func (p *SoundPad) FilePath() string { return p.file.FilePath }

// Play 开始播放；配置了随机间隔时先等待一段随机时间
func (p *SoundPad) Play(ctx context.Context) error {
	p.mu.Lock()
	if p.isPlaying {
		p.mu.Unlock()
		return nil
	}
	p.playGen++
	gen := p.playGen
	p.isPlaying = true

	if p.hasDelayLocked() {
		delay := p.randomDelayLocked()
		p.waiting = true
		p.delayTimer = time.AfterFunc(delay, func() { p.startAfterDelay(gen) })
		p.mu.Unlock()

		logger.Debug("图层延迟启动",
			logger.Int64("audioId", p.file.ID),
			logger.Duration("delay", delay))
		p.report(model.PadStatePatch{IsPlaying: model.Bool(true), IsWaitingForDelay: model.Bool(true)})
		return nil
	}
	p.out.SetGain(p.effectiveGainLocked())
	p.mu.Unlock()

	if err := p.out.Start(ctx, p.file.FilePath, p.endedHandler(gen)); err != nil {
		p.mu.Lock()
		if p.playGen == gen {
			p.isPlaying = false
		}
		p.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrPlaybackStart, p.file.FilePath, err)
	}

	p.mu.Lock()
	stale := p.playGen != gen
	p.mu.Unlock()
	if stale {
		// Start 期间被 Stop
		p.out.Stop()
		return nil
	}

	p.report(model.PadStatePatch{IsPlaying: model.Bool(true), IsWaitingForDelay: model.Bool(false)})
	return nil
}

// Stop 停止播放并取消等待中的延迟
func (p *SoundPad) Stop() {
	p.mu.Lock()
	p.playGen++
	if p.delayTimer != nil {
		p.delayTimer.Stop()
		p.delayTimer = nil
	}
	wasPlaying := p.isPlaying || p.waiting
	p.isPlaying = false
	p.waiting = false
	p.mu.Unlock()

	p.out.Stop()
	if wasPlaying {
		p.report(model.PadStatePatch{IsPlaying: model.Bool(false), IsWaitingForDelay: model.Bool(false)})
	}
}

// SetVolume 设置逻辑音量，范围 [0,1]
func (p *SoundPad) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = clamp01(v)
	gain := p.effectiveGainLocked()
	p.mu.Unlock()
	p.out.SetGain(gain)
}

// SetLoop 配置了随机间隔时始终循环
func (p *SoundPad) SetLoop(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasDelayLocked() {
		p.isLooping = true
		return
	}
	p.isLooping = loop
}

func (p *SoundPad) SetMute(muted bool) {
	p.mu.Lock()
	p.isMuted = muted
	gain := p.effectiveGainLocked()
	p.mu.Unlock()
	p.out.SetGain(gain)
}

// SetDelaySettings 设置两次播放之间的随机间隔（秒），任一值大于 0 即开启并强制循环
func (p *SoundPad) SetDelaySettings(minSeconds, maxSeconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minSeconds = max(0, minSeconds)
	p.maxSeconds = max(0, maxSeconds)
	if p.hasDelayLocked() {
		p.isLooping = true
	}
}

// FadeTo 按曲线步进增益，结束后落定逻辑音量
// 静音图层的淡入会解除静音
func (p *SoundPad) FadeTo(ctx context.Context, target float64, d time.Duration, opts FadeOptions) error {
	to := clamp01(target)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	from := p.effectiveGainLocked()
	p.fadeSeq++
	id := p.fadeSeq
	stop := make(chan struct{})
	p.fades[id] = stop
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.fades, id)
		p.mu.Unlock()
	}()

	if d > 0 {
		ticker := time.NewTicker(fadeStep)
		defer ticker.Stop()
		start := time.Now()

	loop:
		for {
			select {
			case <-ctx.Done():
				p.settleInterrupted()
				return ctx.Err()
			case <-stop:
				return ErrFadeCancelled
			case now := <-ticker.C:
				t := float64(now.Sub(start)) / float64(d)
				if t >= 1 {
					break loop
				}
				select {
				case <-stop:
					return ErrFadeCancelled
				default:
				}
				p.out.SetGain(Interpolate(opts.Curve, from, to, t))
			}
		}
	}

	select {
	case <-stop:
		return ErrFadeCancelled
	default:
	}

	p.mu.Lock()
	p.volume = to
	if p.isMuted && to > 0 {
		p.isMuted = false
	}
	gain := p.effectiveGainLocked()
	p.mu.Unlock()
	p.out.SetGain(gain)

	if opts.StopWhenZero && to == 0 {
		p.Stop()
	}
	return nil
}

// CancelFades 中断所有进行中的淡变，FadeTo 随即返回 ErrFadeCancelled
// 返回前逻辑音量已停在当前增益上
func (p *SoundPad) CancelFades() {
	p.mu.Lock()
	active := len(p.fades) > 0
	for id, ch := range p.fades {
		close(ch)
		delete(p.fades, id)
	}
	p.mu.Unlock()

	if active {
		p.settleInterrupted()
	}
}

// State 当前状态
func (p *SoundPad) State() model.PadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	minSeconds, maxSeconds := p.minSeconds, p.maxSeconds
	return model.PadState{
		IsPlaying:         p.isPlaying,
		IsLooping:         p.isLooping,
		IsMuted:           p.isMuted,
		Volume:            p.volume,
		MinSeconds:        &minSeconds,
		MaxSeconds:        &maxSeconds,
		IsWaitingForDelay: p.waiting,
	}
}

// settleInterrupted 淡变中断时把逻辑音量停在当前增益上
func (p *SoundPad) settleInterrupted() {
	gain := p.out.Gain()
	p.mu.Lock()
	if !p.isMuted {
		p.volume = clamp01(gain)
	}
	p.mu.Unlock()
}

func (p *SoundPad) endedHandler(gen uint64) func() {
	return func() { p.handleEnded(gen) }
}

// handleEnded 一次播放结束：不循环则停止，有随机间隔则等待后重播，否则立即重播
func (p *SoundPad) handleEnded(gen uint64) {
	p.mu.Lock()
	if p.playGen != gen || !p.isPlaying {
		p.mu.Unlock()
		return
	}
	if !p.isLooping {
		p.isPlaying = false
		p.waiting = false
		p.mu.Unlock()
		p.report(model.PadStatePatch{IsPlaying: model.Bool(false), IsWaitingForDelay: model.Bool(false)})
		return
	}
	if p.hasDelayLocked() {
		delay := p.randomDelayLocked()
		p.waiting = true
		p.delayTimer = time.AfterFunc(delay, func() { p.startAfterDelay(gen) })
		p.mu.Unlock()

		logger.Debug("图层播放结束，等待重播",
			logger.Int64("audioId", p.file.ID),
			logger.Duration("delay", delay))
		p.report(model.PadStatePatch{IsWaitingForDelay: model.Bool(true)})
		return
	}
	p.mu.Unlock()
	p.restart(gen)
}

func (p *SoundPad) startAfterDelay(gen uint64) {
	p.mu.Lock()
	if p.playGen != gen || !p.isPlaying {
		p.mu.Unlock()
		return
	}
	p.waiting = false
	p.delayTimer = nil
	p.out.SetGain(p.effectiveGainLocked())
	p.mu.Unlock()

	p.report(model.PadStatePatch{IsWaitingForDelay: model.Bool(false)})
	p.restart(gen)
}

func (p *SoundPad) restart(gen uint64) {
	if err := p.out.Start(context.Background(), p.file.FilePath, p.endedHandler(gen)); err != nil {
		logger.Error("图层重播失败",
			logger.Int64("audioId", p.file.ID),
			logger.String("filePath", p.file.FilePath),
			logger.ErrorField(err))

		p.mu.Lock()
		current := p.playGen == gen
		if current {
			p.isPlaying = false
			p.waiting = false
		}
		p.mu.Unlock()
		if current {
			p.report(model.PadStatePatch{IsPlaying: model.Bool(false), IsWaitingForDelay: model.Bool(false)})
		}
	}
}

func (p *SoundPad) report(patch model.PadStatePatch) {
	if p.reporter != nil {
		p.reporter.UpdateState(p.file.ID, patch)
	}
}

func (p *SoundPad) hasDelayLocked() bool {
	return p.minSeconds > 0 || p.maxSeconds > 0
}

func (p *SoundPad) randomDelayLocked() time.Duration {
	lo := float64(p.minSeconds)
	hi := float64(max(p.maxSeconds, p.minSeconds))
	seconds := lo + p.randFloat()*(hi-lo)
	return time.Duration(seconds * float64(time.Second))
}

func (p *SoundPad) effectiveGainLocked() float64 {
	if p.isMuted {
		return 0
	}
	return p.volume
}
