package crossfade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"AtmoMix/core/events"
	"AtmoMix/core/pad"
	"AtmoMix/core/padstate"
	"AtmoMix/model"
)

type fadeCall struct {
	to           float64
	stopWhenZero bool
}

// fakePad 淡变按时长等待；hold 为 true 时淡入会一直挂起直到被中断
// playGate 非 nil 时 Play 先通知 playBegan，再等 playGate 关闭
type fakePad struct {
	id    int64
	store *padstate.Store

	mu        sync.Mutex
	playing   bool
	muted     bool
	looping   bool
	volume    float64
	playErr   error
	fadeErr   error
	hold      bool
	fades     []fadeCall
	cancels   chan struct{}
	fadeBegan chan struct{}
	playGate  chan struct{}
	playBegan chan struct{}
}

func newFakePad(id int64, store *padstate.Store) *fakePad {
	return &fakePad{id: id, store: store, cancels: make(chan struct{}), fadeBegan: make(chan struct{}, 8)}
}

func (p *fakePad) AudioID() int64   { return p.id }
func (p *fakePad) FilePath() string { return "" }

func (p *fakePad) Play(context.Context) error {
	p.mu.Lock()
	gate, began := p.playGate, p.playBegan
	p.mu.Unlock()
	if gate != nil {
		began <- struct{}{}
		<-gate
	}

	p.mu.Lock()
	if p.playErr != nil {
		p.mu.Unlock()
		return p.playErr
	}
	p.playing = true
	p.mu.Unlock()
	p.store.UpdateState(p.id, model.PadStatePatch{IsPlaying: model.Bool(true)})
	return nil
}

func (p *fakePad) Stop() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	p.store.UpdateState(p.id, model.PadStatePatch{IsPlaying: model.Bool(false)})
}

func (p *fakePad) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

func (p *fakePad) SetLoop(loop bool) {
	p.mu.Lock()
	p.looping = loop
	p.mu.Unlock()
}

func (p *fakePad) SetMute(m bool) {
	p.mu.Lock()
	p.muted = m
	p.mu.Unlock()
}

func (p *fakePad) SetDelaySettings(int, int) {}

func (p *fakePad) FadeTo(ctx context.Context, to float64, d time.Duration, opts pad.FadeOptions) error {
	p.mu.Lock()
	p.fades = append(p.fades, fadeCall{to: to, stopWhenZero: opts.StopWhenZero})
	hold := p.hold && to > 0
	cancels := p.cancels
	fadeErr := p.fadeErr
	p.mu.Unlock()
	p.fadeBegan <- struct{}{}
	if fadeErr != nil {
		return fadeErr
	}

	var wait <-chan time.Time
	if !hold {
		wait = time.After(d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cancels:
		return pad.ErrFadeCancelled
	case <-wait:
	}

	p.SetVolume(to)
	if opts.StopWhenZero && to == 0 {
		p.Stop()
	}
	return nil
}

func (p *fakePad) CancelFades() {
	p.mu.Lock()
	close(p.cancels)
	p.cancels = make(chan struct{})
	p.mu.Unlock()
}

func (p *fakePad) State() model.PadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.PadState{IsPlaying: p.playing, IsMuted: p.muted, IsLooping: p.looping, Volume: p.volume}
}

func (p *fakePad) fadeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fades)
}

type fakeProvider struct {
	mu   sync.Mutex
	pads map[int64]*fakePad
}

func (f *fakeProvider) Ensure(file model.AudioFile) (pad.Pad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pads[file.ID]
	if !ok {
		return nil, errors.New("unknown file")
	}
	return p, nil
}

func (f *fakeProvider) ByAudioID(id int64) (pad.Pad, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pads[id]
	if !ok {
		return nil, false
	}
	return p, true
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(ev events.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Kind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) has(kind events.Kind) bool {
	for _, k := range l.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type fixture struct {
	store *padstate.Store
	pads  *fakeProvider
	log   *eventLog
	orch  *Orchestrator
}

func newFixture(ids ...int64) *fixture {
	hub := events.NewHub()
	log := &eventLog{}
	hub.Subscribe(log.record, events.KindStart, events.KindProgress, events.KindAlmostComplete, events.KindComplete, events.KindError)

	store := padstate.NewStore(hub)
	provider := &fakeProvider{pads: make(map[int64]*fakePad)}
	for _, id := range ids {
		provider.pads[id] = newFakePad(id, store)
	}
	orch := NewOrchestrator(store, provider, hub, Config{ProgressInterval: 5 * time.Millisecond})
	return &fixture{store: store, pads: provider, log: log, orch: orch}
}

func (f *fixture) setPlaying(id int64, volume float64) {
	f.store.InitializePad(id, model.PadStatePatch{IsPlaying: model.Bool(true), Volume: model.Float64(volume)})
	p := f.pads.pads[id]
	p.playing = true
	p.volume = volume
}

func detailOf(id int64, sounds ...model.AtmosphereSound) *model.AtmosphereWithSounds {
	d := &model.AtmosphereWithSounds{Atmosphere: model.Atmosphere{ID: id}, Sounds: sounds}
	for _, s := range sounds {
		d.AudioFiles = append(d.AudioFiles, model.AudioFile{ID: s.AudioFileID, FilePath: "f.mp3"})
	}
	return d
}

func TestCrossfadeToAppliesDiff(t *testing.T) {
	f := newFixture(1, 2, 3)
	f.setPlaying(2, 0.3)
	f.setPlaying(3, 0.5)

	res, err := f.orch.CrossfadeTo(context.Background(), detailOf(10,
		model.AtmosphereSound{AudioFileID: 1, Volume: 0.6},
		model.AtmosphereSound{AudioFileID: 2, Volume: 0.3},
	), Options{DurationMs: 30})
	if err != nil {
		t.Fatalf("CrossfadeTo: %v", err)
	}
	if res.Cancelled {
		t.Fatal("unexpected cancel")
	}

	if st, _ := f.store.GetState(1); !st.IsPlaying || st.Volume != 0.6 {
		t.Fatalf("pad 1 state = %+v", st)
	}
	if !f.store.IsInContext(1, DefaultContext) {
		t.Fatal("started pad not added to atmosphere context")
	}
	if st, _ := f.store.GetState(3); st.IsPlaying {
		t.Fatalf("pad 3 still playing: %+v", st)
	}
	if n := f.pads.pads[2].fadeCount(); n != 0 {
		t.Fatalf("pad 2 faded %d times, want 0", n)
	}
	if fades := f.pads.pads[3].fades; len(fades) != 1 || fades[0].to != 0 || !fades[0].stopWhenZero {
		t.Fatalf("pad 3 fades = %+v", fades)
	}

	kinds := f.log.kinds()
	if kinds[0] != events.KindStart || kinds[len(kinds)-1] != events.KindComplete {
		t.Fatalf("event order = %v", kinds)
	}
	if f.orch.CurrentTransition() != "" {
		t.Fatal("current token not cleared")
	}
}

func TestCrossfadeToIsIdempotent(t *testing.T) {
	f := newFixture(1, 2)
	detail := detailOf(1,
		model.AtmosphereSound{AudioFileID: 1, Volume: 0.6},
		model.AtmosphereSound{AudioFileID: 2, Volume: 0.2},
	)

	if _, err := f.orch.CrossfadeTo(context.Background(), detail, Options{DurationMs: 10}); err != nil {
		t.Fatalf("first: %v", err)
	}
	before := f.pads.pads[1].fadeCount() + f.pads.pads[2].fadeCount()

	res, err := f.orch.CrossfadeTo(context.Background(), detail, Options{DurationMs: 10})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	after := f.pads.pads[1].fadeCount() + f.pads.pads[2].fadeCount()
	if after != before {
		t.Fatalf("redundant fades issued: %d -> %d", before, after)
	}
	if !res.Diff.Empty() {
		t.Fatalf("second diff = %+v, want empty", res.Diff)
	}
}

func TestCrossfadeSupersession(t *testing.T) {
	f := newFixture(1, 2)
	f.pads.pads[1].hold = true

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := f.orch.CrossfadeTo(context.Background(), detailOf(1,
			model.AtmosphereSound{AudioFileID: 1, Volume: 0.6},
		), Options{DurationMs: 1000})
		first <- outcome{res, err}
	}()

	select {
	case <-f.pads.pads[1].fadeBegan:
	case <-time.After(time.Second):
		t.Fatal("first transition never issued its fade")
	}
	t1 := f.orch.CurrentTransition()

	res2, err := f.orch.CrossfadeTo(context.Background(), detailOf(2,
		model.AtmosphereSound{AudioFileID: 2, Volume: 0.4},
	), Options{DurationMs: 20})
	if err != nil || res2.Cancelled {
		t.Fatalf("second transition: %+v err=%v", res2, err)
	}
	if res2.TransitionID == t1 {
		t.Fatal("transitions share a token")
	}

	select {
	case out := <-first:
		if out.err != nil || !out.res.Cancelled {
			t.Fatalf("first transition = %+v err=%v, want cancelled", out.res, out.err)
		}
	case <-time.After(time.Second):
		t.Fatal("first transition did not resolve")
	}

	if st, _ := f.store.GetState(2); !st.IsPlaying || st.Volume != 0.4 {
		t.Fatalf("pad 2 state = %+v", st)
	}
	if st, _ := f.store.GetState(1); st.IsPlaying || st.Volume == 0.6 {
		t.Fatalf("pad 1 reflects the cancelled transition: %+v", st)
	}
	if f.orch.CurrentTransition() != "" {
		t.Fatal("current token not cleared")
	}
}

func TestCancelCurrent(t *testing.T) {
	f := newFixture(1)
	f.pads.pads[1].hold = true

	done := make(chan Result, 1)
	go func() {
		res, _ := f.orch.CrossfadeTo(context.Background(), detailOf(1,
			model.AtmosphereSound{AudioFileID: 1, Volume: 0.6},
		), Options{DurationMs: 1000})
		done <- res
	}()
	<-f.pads.pads[1].fadeBegan

	if !f.orch.CancelCurrent() {
		t.Fatal("CancelCurrent found no transition")
	}
	select {
	case res := <-done:
		if !res.Cancelled {
			t.Fatalf("res = %+v, want cancelled", res)
		}
	case <-time.After(time.Second):
		t.Fatal("transition ignored cancel")
	}
	if f.orch.CancelCurrent() {
		t.Fatal("CancelCurrent reported a transition after it ended")
	}
	for _, k := range f.log.kinds() {
		if k == events.KindComplete {
			t.Fatal("cancelled transition emitted complete")
		}
	}
}

func TestZeroVolumeLayerNotStarted(t *testing.T) {
	f := newFixture(1)
	if _, err := f.orch.CrossfadeTo(context.Background(), detailOf(1,
		model.AtmosphereSound{AudioFileID: 1, Volume: 0},
	), Options{DurationMs: 10}); err != nil {
		t.Fatal(err)
	}
	if f.pads.pads[1].State().IsPlaying {
		t.Fatal("zero-volume layer was started")
	}
	if _, ok := f.store.GetState(1); ok {
		t.Fatal("zero-volume layer got pad state")
	}
}

func TestPlayFailureSkipsOnlyThatLayer(t *testing.T) {
	f := newFixture(1, 2)
	f.pads.pads[1].playErr = pad.ErrPlaybackStart

	res, err := f.orch.CrossfadeTo(context.Background(), detailOf(1,
		model.AtmosphereSound{AudioFileID: 1, Volume: 0.5},
		model.AtmosphereSound{AudioFileID: 2, Volume: 0.5},
	), Options{DurationMs: 10})
	if err != nil || res.Cancelled {
		t.Fatalf("res = %+v err=%v", res, err)
	}

	if st, _ := f.store.GetState(1); st.IsPlaying {
		t.Fatalf("failed layer marked playing: %+v", st)
	}
	if st, _ := f.store.GetState(2); !st.IsPlaying || st.Volume != 0.5 {
		t.Fatalf("pad 2 state = %+v", st)
	}
}

func TestMutedTargetStartedWithoutFade(t *testing.T) {
	f := newFixture(1)
	if _, err := f.orch.CrossfadeTo(context.Background(), detailOf(1,
		model.AtmosphereSound{AudioFileID: 1, Volume: 0.7, IsMuted: true},
	), Options{DurationMs: 10}); err != nil {
		t.Fatal(err)
	}
	p := f.pads.pads[1]
	if p.fadeCount() != 0 {
		t.Fatal("muted layer was faded")
	}
	if st, _ := f.store.GetState(1); !st.IsPlaying || !st.IsMuted || st.Volume != 0.7 {
		t.Fatalf("state = %+v", st)
	}
}

func TestProgressIsMonotonicAndStopsBeforeComplete(t *testing.T) {
	f := newFixture(1)
	if _, err := f.orch.CrossfadeTo(context.Background(), detailOf(1,
		model.AtmosphereSound{AudioFileID: 1, Volume: 0.5},
	), Options{DurationMs: 60, Curve: model.FadeCurveExp}); err != nil {
		t.Fatal(err)
	}

	f.log.mu.Lock()
	defer f.log.mu.Unlock()

	last := -1.0
	completeAt := -1
	for i, ev := range f.log.events {
		switch ev.Kind {
		case events.KindStart:
			if ev.Curve != model.FadeCurveExp || ev.DurationMs != 60 {
				t.Fatalf("start event = %+v", ev)
			}
		case events.KindProgress:
			if completeAt >= 0 {
				t.Fatal("progress after complete")
			}
			if ev.Progress < last || ev.Progress < 0 || ev.Progress > 1 {
				t.Fatalf("progress %v after %v", ev.Progress, last)
			}
			last = ev.Progress
		case events.KindComplete:
			completeAt = i
		}
	}
	if completeAt != len(f.log.events)-1 {
		t.Fatalf("complete is not the last event: %v", completeAt)
	}
}

// startBlocked 让图层 1 的启动挂起，期间用只含图层 2 的目标取代它，再放行启动
func startBlocked(t *testing.T, f *fixture) Result {
	t.Helper()
	p1 := f.pads.pads[1]
	p1.playGate = make(chan struct{})
	p1.playBegan = make(chan struct{}, 1)

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := f.orch.CrossfadeTo(context.Background(), detailOf(1,
			model.AtmosphereSound{AudioFileID: 1, Volume: 0.5},
		), Options{DurationMs: 1000})
		first <- outcome{res, err}
	}()

	select {
	case <-p1.playBegan:
	case <-time.After(time.Second):
		t.Fatal("first transition never started pad 1")
	}

	res2, err := f.orch.CrossfadeTo(context.Background(), detailOf(2,
		model.AtmosphereSound{AudioFileID: 2, Volume: 0.4},
	), Options{DurationMs: 20})
	if err != nil || res2.Cancelled {
		t.Fatalf("second transition: %+v err=%v", res2, err)
	}
	close(p1.playGate)

	select {
	case out := <-first:
		if out.err != nil {
			t.Fatalf("first transition err = %v", out.err)
		}
		return out.res
	case <-time.After(time.Second):
		t.Fatal("first transition did not resolve")
	}
	return Result{}
}

func TestCrossfadeToAbortPaths(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, f *fixture)
	}{
		{
			name: "fade error is published and returned",
			run: func(t *testing.T, f *fixture) {
				broken := errors.New("output closed")
				f.pads.pads[1].fadeErr = broken

				res, err := f.orch.CrossfadeTo(context.Background(), detailOf(1,
					model.AtmosphereSound{AudioFileID: 1, Volume: 0.5},
				), Options{DurationMs: 10})
				if !errors.Is(err, broken) {
					t.Fatalf("err = %v, want wrapped %v", err, broken)
				}
				if res.Cancelled {
					t.Fatal("fade failure reported as cancel")
				}
				if !f.log.has(events.KindError) || f.log.has(events.KindComplete) {
					t.Fatalf("events = %v", f.log.kinds())
				}
				if f.orch.CurrentTransition() != "" {
					t.Fatal("current token not cleared")
				}
			},
		},
		{
			name: "cancelled before fades are issued",
			run: func(t *testing.T, f *fixture) {
				f.setPlaying(2, 0.3)
				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				res, err := f.orch.CrossfadeTo(ctx, detailOf(1,
					model.AtmosphereSound{AudioFileID: 1, Volume: 0.5},
				), Options{DurationMs: 10})
				if err != nil || !res.Cancelled {
					t.Fatalf("res = %+v err=%v, want cancelled", res, err)
				}
				for id, p := range f.pads.pads {
					if n := p.fadeCount(); n != 0 {
						t.Errorf("pad %d faded %d times", id, n)
					}
				}
				if f.pads.pads[1].State().IsPlaying {
					t.Error("pad 1 started by a cancelled transition")
				}
				if st, _ := f.store.GetState(2); !st.IsPlaying || st.Volume != 0.3 {
					t.Errorf("pad 2 state = %+v", st)
				}
				if f.log.has(events.KindComplete) {
					t.Error("cancelled transition emitted complete")
				}
			},
		},
		{
			name: "superseded while starting a new layer",
			run: func(t *testing.T, f *fixture) {
				res := startBlocked(t, f)
				if !res.Cancelled {
					t.Fatalf("first transition = %+v, want cancelled", res)
				}

				p1 := f.pads.pads[1]
				if p1.State().IsPlaying {
					t.Error("pad 1 left playing")
				}
				if p1.fadeCount() != 0 {
					t.Error("pad 1 faded after being superseded")
				}
				if _, ok := f.store.GetState(1); ok {
					t.Error("pad 1 state kept after undoing its start")
				}
				if f.store.IsInContext(1, DefaultContext) {
					t.Error("pad 1 left in the atmosphere context")
				}
				if st, _ := f.store.GetState(2); !st.IsPlaying || st.Volume != 0.4 {
					t.Errorf("pad 2 state = %+v", st)
				}
			},
		},
		{
			name: "superseded start restores a layer owned by another context",
			run: func(t *testing.T, f *fixture) {
				f.store.InitializePad(1, model.PadStatePatch{Volume: model.Float64(0.8)})
				f.store.AddToContext(1, "mixer")

				if res := startBlocked(t, f); !res.Cancelled {
					t.Fatalf("first transition = %+v, want cancelled", res)
				}

				st, ok := f.store.GetState(1)
				if !ok || st.IsPlaying || st.Volume != 0.8 {
					t.Errorf("pad 1 state = %+v ok=%v", st, ok)
				}
				if !f.store.IsInContext(1, "mixer") || f.store.IsInContext(1, DefaultContext) {
					t.Errorf("pad 1 contexts = %v", f.store.GetContexts(1))
				}
				if f.pads.pads[1].State().IsPlaying {
					t.Error("pad 1 left playing")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run(t, newFixture(1, 2))
		})
	}
}

func TestSettleRestartsLayerStoppedBehindSnapshot(t *testing.T) {
	f := newFixture(1)
	f.setPlaying(1, 0.3)
	// 状态存储仍认为在播放，图层本身已经停止
	f.pads.pads[1].playing = false

	res, err := f.orch.CrossfadeTo(context.Background(), detailOf(1,
		model.AtmosphereSound{AudioFileID: 1, Volume: 0.6},
	), Options{DurationMs: 10})
	if err != nil || res.Cancelled {
		t.Fatalf("res = %+v err=%v", res, err)
	}
	if len(res.Diff.Added) != 1 || len(res.Diff.VolumeChanged) != 0 {
		t.Fatalf("diff = %+v", res.Diff)
	}
	if !f.pads.pads[1].State().IsPlaying {
		t.Fatal("stopped layer was not restarted")
	}
	if st, _ := f.store.GetState(1); !st.IsPlaying || st.Volume != 0.6 {
		t.Fatalf("state = %+v", st)
	}
}
