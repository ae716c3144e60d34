package crossfade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"AtmoMix/core/events"
	"AtmoMix/core/pad"
	"AtmoMix/logger"
	"AtmoMix/model"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// 新启动的图层先以接近 0 的音量开始，避免突然出声
	startVolume = 0.0001

	// DefaultContext 编排器启动的图层所在的展示上下文
	DefaultContext = "atmosphere"
)

// PadProvider 图层来源，pad.Library 实现了它
type PadProvider interface {
	Ensure(file model.AudioFile) (pad.Pad, error)
	ByAudioID(audioID int64) (pad.Pad, bool)
}

// StateStore 编排器对状态存储的依赖，padstate.Store 实现了它
type StateStore interface {
	Snapshot() map[int64]model.PadState
	GetState(audioID int64) (model.PadState, bool)
	InitializePad(audioID int64, initial model.PadStatePatch) model.PadState
	UpdateState(audioID int64, patch model.PadStatePatch) bool
	AddToContext(audioID int64, context string)
	RemoveFromContext(audioID int64, context string)
	IsInContext(audioID int64, context string) bool
	GetContexts(audioID int64) []string
	RemovePad(audioID int64)
}

// errLayerSuperseded 图层启动期间过渡被取代，启动已撤销
var errLayerSuperseded = errors.New("过渡已被取代")

// Config 编排器默认参数
type Config struct {
	DefaultDuration  time.Duration
	DefaultCurve     string
	ProgressInterval time.Duration
	Context          string
}

// Options 单次过渡参数，零值使用默认值
type Options struct {
	DurationMs int64
	Curve      string
}

// Result 过渡结果；被新过渡取代或调用方取消时 Cancelled 为 true，不作为错误返回
type Result struct {
	TransitionID string `json:"transitionId"`
	Cancelled    bool   `json:"cancelled"`
	Diff         Diff   `json:"diff"`
}

// token 一次过渡尝试，同一时刻只有一个是当前的
type token struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	// 淡变使用独立的 ctx：调用方取消不打断淡变，只有被新过渡取代时才中断
	fadeCtx    context.Context
	fadeCancel context.CancelFunc

	mu   sync.Mutex
	pads []pad.Pad // 本次过渡发起过淡变的图层
}

// track 记录图层，token 已取消时返回 false
func (t *token) track(p pad.Pad) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fadeCtx.Err() != nil {
		return false
	}
	t.pads = append(t.pads, p)
	return true
}

func (t *token) tracked() []pad.Pad {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]pad.Pad(nil), t.pads...)
}

func (t *token) cancelled() bool {
	return t.ctx.Err() != nil
}

// Orchestrator 交叉淡入淡出编排器
type Orchestrator struct {
	store StateStore
	pads  PadProvider
	pub   events.Publisher
	cfg   Config

	mu      sync.Mutex
	current *token

	// 同一图层的启动、回滚和状态复核互斥
	layerMu sync.Mutex
	layers  map[int64]*sync.Mutex
}

// NewOrchestrator 创建编排器，pub 可以为 nil
func NewOrchestrator(store StateStore, pads PadProvider, pub events.Publisher, cfg Config) *Orchestrator {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = model.DefaultCrossfadeMs * time.Millisecond
	}
	if !model.IsValidFadeCurve(cfg.DefaultCurve) {
		cfg.DefaultCurve = model.FadeCurveLinear
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 50 * time.Millisecond
	}
	if cfg.Context == "" {
		cfg.Context = DefaultContext
	}
	return &Orchestrator{store: store, pads: pads, pub: pub, cfg: cfg, layers: make(map[int64]*sync.Mutex)}
}

// CurrentTransition 当前过渡的 ID，空闲时返回空串
func (o *Orchestrator) CurrentTransition() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return ""
	}
	return o.current.id
}

// CancelCurrent 取消进行中的过渡，返回是否存在
func (o *Orchestrator) CancelCurrent() bool {
	o.mu.Lock()
	tok := o.current
	o.mu.Unlock()
	if tok == nil {
		return false
	}
	o.abandon(tok)
	logger.Info("过渡已取消", logger.String("transitionId", tok.id))
	return true
}

// CrossfadeTo 把当前播放集合过渡到 detail 描述的目标集合
//
// 新的调用会取消进行中的过渡；被取消的过渡返回 Result{Cancelled: true}，
// 它已经发出的淡变会被新过渡中断，结果不会写回状态存储。
func (o *Orchestrator) CrossfadeTo(ctx context.Context, detail *model.AtmosphereWithSounds, opts Options) (Result, error) {
	tok := o.install(ctx)
	defer o.release(tok)

	res := Result{TransitionID: tok.id}
	if detail == nil {
		err := errors.New("氛围详情为空")
		o.publish(events.Event{Kind: events.KindError, TransitionID: tok.id, Message: err.Error()})
		return res, err
	}

	atmosphereID := detail.Atmosphere.ID
	duration, curve := o.resolve(opts)
	o.publish(events.Event{
		Kind:         events.KindStart,
		TransitionID: tok.id,
		AtmosphereID: atmosphereID,
		DurationMs:   duration.Milliseconds(),
		Curve:        curve,
	})

	targets := BuildTargets(detail)
	diff := o.settle(ComputeDiff(o.store.Snapshot(), targets), targets)
	res.Diff = diff

	logger.Info("开始过渡",
		logger.String("transitionId", tok.id),
		logger.Int64("atmosphereId", atmosphereID),
		logger.Int("removed", len(diff.Removed)),
		logger.Int("added", len(diff.Added)),
		logger.Int("volumeChanged", len(diff.VolumeChanged)),
		logger.Duration("duration", duration),
		logger.String("curve", curve))

	if tok.cancelled() {
		res.Cancelled = true
		return res, nil
	}

	stopProgress := o.runProgress(tok, atmosphereID, duration)
	defer stopProgress()

	var g errgroup.Group
	fade := func(p pad.Pad, to float64, stopWhenZero bool) {
		if !tok.track(p) {
			return
		}
		g.Go(func() error {
			err := p.FadeTo(tok.fadeCtx, to, duration, pad.FadeOptions{StopWhenZero: stopWhenZero, Curve: curve})
			if err == nil || errors.Is(err, pad.ErrFadeCancelled) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("图层 %d 淡变失败: %w", p.AudioID(), err)
		})
	}

	for _, id := range diff.Removed {
		p, ok := o.pads.ByAudioID(id)
		if !ok {
			continue
		}
		p.CancelFades()
		fade(p, 0, true)
	}

	started := make(map[int64]bool, len(diff.Added))
	for _, t := range diff.Added {
		if tok.cancelled() {
			break
		}
		p, err := o.startLayer(tok, t)
		if errors.Is(err, errLayerSuperseded) {
			break
		}
		if err != nil {
			logger.Warn("图层启动失败，已跳过",
				logger.String("transitionId", tok.id),
				logger.Int64("audioId", t.AudioID),
				logger.ErrorField(err))
			continue
		}
		started[t.AudioID] = true
		if !t.IsMuted {
			fade(p, t.Volume, false)
		}
	}

	for _, vc := range diff.VolumeChanged {
		p, ok := o.pads.ByAudioID(vc.AudioID)
		if !ok {
			continue
		}
		t := targets[vc.AudioID]
		p.CancelFades()
		applySettings(p, t)
		fade(p, vc.To, false)
	}

	for _, id := range diff.Kept {
		p, ok := o.pads.ByAudioID(id)
		if !ok {
			continue
		}
		t := targets[id]
		applySettings(p, t)
		p.SetMute(t.IsMuted)
		if t.IsMuted {
			p.SetVolume(t.Volume)
		}
	}

	if err := g.Wait(); err != nil {
		logger.Error("过渡异常",
			logger.String("transitionId", tok.id),
			logger.Int64("atmosphereId", atmosphereID),
			logger.ErrorField(err))
		o.publish(events.Event{Kind: events.KindError, TransitionID: tok.id, AtmosphereID: atmosphereID, Message: err.Error()})
		return res, err
	}

	if tok.cancelled() {
		res.Cancelled = true
		logger.Info("过渡被取代", logger.String("transitionId", tok.id))
		return res, nil
	}

	stopProgress()
	o.commit(diff, targets, started)
	o.publish(events.Event{Kind: events.KindComplete, TransitionID: tok.id, AtmosphereID: atmosphereID})

	logger.Info("过渡完成",
		logger.String("transitionId", tok.id),
		logger.Int64("atmosphereId", atmosphereID))
	return res, nil
}

// install 取消上一个过渡并安装新的 token
func (o *Orchestrator) install(ctx context.Context) *token {
	tctx, cancel := context.WithCancel(ctx)
	fctx, fadeCancel := context.WithCancel(context.WithoutCancel(ctx))
	tok := &token{id: uuid.NewString(), ctx: tctx, cancel: cancel, fadeCtx: fctx, fadeCancel: fadeCancel}

	o.mu.Lock()
	prev := o.current
	o.current = tok
	o.mu.Unlock()

	if prev != nil {
		o.abandon(prev)
	}
	return tok
}

// abandon 取消 token 并中断它发起的淡变，把图层实际音量同步回状态存储
func (o *Orchestrator) abandon(tok *token) {
	tok.mu.Lock()
	tok.cancel()
	tok.fadeCancel()
	tok.mu.Unlock()

	for _, p := range tok.tracked() {
		p.CancelFades()
		o.store.UpdateState(p.AudioID(), model.PadStatePatch{Volume: model.Float64(p.State().Volume)})
	}
}

// release 只有 current 仍是自己时才清空
func (o *Orchestrator) release(tok *token) {
	o.mu.Lock()
	if o.current == tok {
		o.current = nil
	}
	o.mu.Unlock()
	tok.cancel()
	tok.fadeCancel()
}

func (o *Orchestrator) resolve(opts Options) (time.Duration, string) {
	duration := o.cfg.DefaultDuration
	if opts.DurationMs > 0 {
		duration = time.Duration(opts.DurationMs) * time.Millisecond
	}
	curve := o.cfg.DefaultCurve
	if model.IsValidFadeCurve(opts.Curve) {
		curve = opts.Curve
	}
	return duration, curve
}

// lockLayer 锁住单个图层，返回解锁函数
func (o *Orchestrator) lockLayer(audioID int64) func() {
	o.layerMu.Lock()
	m, ok := o.layers[audioID]
	if !ok {
		m = &sync.Mutex{}
		o.layers[audioID] = m
	}
	o.layerMu.Unlock()

	m.Lock()
	return m.Unlock
}

// settle 复核差异中按快照仍在播放的图层
// 被取代的过渡可能正在启动它们，随后又撤销了启动；这类图层改为重新启动
func (o *Orchestrator) settle(diff Diff, targets map[int64]Target) Diff {
	stopped := func(id int64) bool {
		p, ok := o.pads.ByAudioID(id)
		if !ok {
			return false
		}
		unlock := o.lockLayer(id)
		defer unlock()
		return !p.State().IsPlaying
	}

	out := Diff{Removed: diff.Removed, Added: diff.Added}
	for _, vc := range diff.VolumeChanged {
		if stopped(vc.AudioID) {
			out.Added = append(out.Added, targets[vc.AudioID])
			continue
		}
		out.VolumeChanged = append(out.VolumeChanged, vc)
	}
	for _, id := range diff.Kept {
		if t := targets[id]; t.Volume > 0 && stopped(id) {
			out.Added = append(out.Added, t)
			continue
		}
		out.Kept = append(out.Kept, id)
	}
	if len(out.Added) != len(diff.Added) {
		sort.Slice(out.Added, func(i, j int) bool { return out.Added[i].AudioID < out.Added[j].AudioID })
	}
	return out
}

// startLayer 以接近 0 的音量启动新图层，静音图层直接以目标音量静音启动
// Play 返回时 token 已被取消则撤销本次启动，返回 errLayerSuperseded
func (o *Orchestrator) startLayer(tok *token, t Target) (pad.Pad, error) {
	unlock := o.lockLayer(t.AudioID)
	defer unlock()
	if tok.cancelled() {
		return nil, errLayerSuperseded
	}

	p, ok := o.pads.ByAudioID(t.AudioID)
	if !ok {
		var err error
		if p, err = o.pads.Ensure(t.File); err != nil {
			return nil, err
		}
	}

	prev, hadState := o.store.GetState(t.AudioID)
	wasInContext := o.store.IsInContext(t.AudioID, o.cfg.Context)

	o.store.InitializePad(t.AudioID, model.PadStatePatch{
		IsLooping:  model.Bool(t.IsLooping),
		IsMuted:    model.Bool(t.IsMuted),
		MinSeconds: model.IntPtr(t.MinSeconds),
		MaxSeconds: model.IntPtr(t.MaxSeconds),
	})
	o.store.AddToContext(t.AudioID, o.cfg.Context)

	p.CancelFades()
	applySettings(p, t)
	if t.IsMuted {
		p.SetVolume(t.Volume)
		p.SetMute(true)
	} else {
		p.SetMute(false)
		p.SetVolume(startVolume)
	}

	playErr := p.Play(tok.ctx)

	// 与 abandon 在 tok.mu 上互斥：要么先写入播放状态再被取消，
	// 新过渡的快照能看到它；要么先被取消，这里撤销启动
	tok.mu.Lock()
	superseded := tok.cancelled()
	if !superseded && playErr == nil {
		o.store.UpdateState(t.AudioID, model.PadStatePatch{IsPlaying: model.Bool(true)})
	}
	tok.mu.Unlock()

	if superseded {
		o.undoStart(p, prev, hadState, wasInContext)
		logger.Info("图层启动期间过渡被取代，已撤销",
			logger.String("transitionId", tok.id),
			logger.Int64("audioId", t.AudioID))
		return nil, errLayerSuperseded
	}
	if playErr != nil {
		return nil, playErr
	}
	return p, nil
}

// undoStart 停止图层，恢复启动前的状态与上下文归属
func (o *Orchestrator) undoStart(p pad.Pad, prev model.PadState, hadState, wasInContext bool) {
	id := p.AudioID()
	p.CancelFades()
	p.Stop()

	if !hadState {
		others := 0
		for _, name := range o.store.GetContexts(id) {
			if name != o.cfg.Context {
				others++
			}
		}
		if others == 0 {
			o.store.RemovePad(id)
			return
		}
		prev = model.DefaultPadState()
	}
	if !wasInContext {
		o.store.RemoveFromContext(id, o.cfg.Context)
	}

	p.SetLoop(prev.IsLooping)
	p.SetMute(prev.IsMuted)
	p.SetVolume(prev.Volume)
	if prev.MinSeconds != nil && prev.MaxSeconds != nil {
		p.SetDelaySettings(*prev.MinSeconds, *prev.MaxSeconds)
	}
	o.store.UpdateState(id, model.PadStatePatch{
		IsPlaying:         model.Bool(false),
		IsWaitingForDelay: model.Bool(false),
		IsLooping:         model.Bool(prev.IsLooping),
		IsMuted:           model.Bool(prev.IsMuted),
		Volume:            model.Float64(prev.Volume),
		MinSeconds:        prev.MinSeconds,
		MaxSeconds:        prev.MaxSeconds,
	})
}

// commit 过渡完成后把受影响图层的最终状态写回
func (o *Orchestrator) commit(diff Diff, targets map[int64]Target, started map[int64]bool) {
	for _, id := range diff.Removed {
		o.store.UpdateState(id, model.PadStatePatch{
			IsPlaying:         model.Bool(false),
			IsWaitingForDelay: model.Bool(false),
		})
	}
	for _, t := range diff.Added {
		if !started[t.AudioID] {
			continue
		}
		o.store.UpdateState(t.AudioID, targetPatch(t, true))
	}
	for _, vc := range diff.VolumeChanged {
		o.store.UpdateState(vc.AudioID, targetPatch(targets[vc.AudioID], true))
	}
	for _, id := range diff.Kept {
		t := targets[id]
		// 未静音的保留图层音量本来就在阈值内，不写音量
		o.store.UpdateState(id, targetPatch(t, t.IsMuted))
	}
}

func targetPatch(t Target, withVolume bool) model.PadStatePatch {
	patch := model.PadStatePatch{
		IsPlaying:  model.Bool(true),
		IsLooping:  model.Bool(t.IsLooping),
		IsMuted:    model.Bool(t.IsMuted),
		MinSeconds: model.IntPtr(t.MinSeconds),
		MaxSeconds: model.IntPtr(t.MaxSeconds),
	}
	if withVolume {
		patch.Volume = model.Float64(t.Volume)
	}
	return patch
}

func applySettings(p pad.Pad, t Target) {
	p.SetDelaySettings(t.MinSeconds, t.MaxSeconds)
	p.SetLoop(t.IsLooping)
}

// runProgress 按时间估计进度，到 1 时发出 almost_complete
// 返回的函数停止上报并等待 goroutine 退出，可重复调用
func (o *Orchestrator) runProgress(tok *token, atmosphereID int64, duration time.Duration) func() {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(o.cfg.ProgressInterval)
		defer ticker.Stop()
		start := time.Now()

		for {
			select {
			case <-tok.ctx.Done():
				return
			case <-done:
				return
			case now := <-ticker.C:
				progress := 1.0
				if duration > 0 {
					progress = min(max(float64(now.Sub(start))/float64(duration), 0), 1)
				}
				o.publish(events.Event{Kind: events.KindProgress, TransitionID: tok.id, AtmosphereID: atmosphereID, Progress: progress})
				if progress >= 1 {
					o.publish(events.Event{Kind: events.KindAlmostComplete, TransitionID: tok.id, AtmosphereID: atmosphereID})
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.pub != nil {
		o.pub.Publish(ev)
	}
}
