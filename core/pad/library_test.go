package pad

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"AtmoMix/core/padstate"
	"AtmoMix/model"
	"AtmoMix/storage"
)

// recordingPad 记录调用顺序，Stop 时检查状态是否还在
type recordingPad struct {
	mu    sync.Mutex
	file  model.AudioFile
	store *padstate.Store

	playing          bool
	looping          bool
	muted            bool
	volume           float64
	minSec, maxSec   int
	stopCalls        int
	stateAtStop      bool
	cancelFadeCalled int
}

func (p *recordingPad) AudioID() int64   { return p.file.ID }
func (p *recordingPad) FilePath() string { return p.file.FilePath }

func (p *recordingPad) Play(context.Context) error {
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
	return nil
}

func (p *recordingPad) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.stopCalls++
	if p.store != nil {
		_, p.stateAtStop = p.store.GetState(p.file.ID)
	}
}

func (p *recordingPad) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

func (p *recordingPad) SetLoop(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.looping = loop || p.minSec > 0 || p.maxSec > 0
}

func (p *recordingPad) SetMute(m bool) {
	p.mu.Lock()
	p.muted = m
	p.mu.Unlock()
}

func (p *recordingPad) SetDelaySettings(minSeconds, maxSeconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minSec, p.maxSec = minSeconds, maxSeconds
	if minSeconds > 0 || maxSeconds > 0 {
		p.looping = true
	}
}

func (p *recordingPad) FadeTo(context.Context, float64, time.Duration, FadeOptions) error {
	return nil
}

func (p *recordingPad) CancelFades() {
	p.mu.Lock()
	p.cancelFadeCalled++
	p.mu.Unlock()
}

func (p *recordingPad) State() model.PadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.PadState{IsPlaying: p.playing, IsLooping: p.looping, IsMuted: p.muted, Volume: p.volume}
}

func newRecordingLibrary(store *padstate.Store) (*Library, map[int64]*recordingPad) {
	created := make(map[int64]*recordingPad)
	lib := NewLibraryWithFactory(func(file model.AudioFile) Pad {
		p := &recordingPad{file: file, store: store}
		created[file.ID] = p
		return p
	})
	return lib, created
}

func TestLibraryEnsureIsKeyedByPath(t *testing.T) {
	lib, created := newRecordingLibrary(nil)

	a, err := lib.Ensure(model.AudioFile{ID: 1, FilePath: "a.mp3"})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	b, _ := lib.Ensure(model.AudioFile{ID: 1, FilePath: "a.mp3"})
	if a != b || len(created) != 1 {
		t.Fatal("Ensure created a second pad for the same path")
	}
	if _, err := lib.Ensure(model.AudioFile{ID: 2}); err == nil {
		t.Fatal("expected error for empty path")
	}

	if p, ok := lib.ByAudioID(1); !ok || p != a {
		t.Fatal("ByAudioID did not find pad")
	}

	lib.Release("a.mp3")
	if created[1].stopCalls != 1 || created[1].cancelFadeCalled != 1 {
		t.Fatalf("release did not stop pad: %+v", created[1])
	}
	if _, ok := lib.ByAudioID(1); ok || lib.Len() != 0 {
		t.Fatal("pad still registered after release")
	}
}

func TestLibrarySyncDelay(t *testing.T) {
	lib, created := newRecordingLibrary(nil)
	lib.Ensure(model.AudioFile{ID: 3, FilePath: "c.mp3"})

	lib.SyncDelay(3, 2, 9)
	lib.SyncDelay(99, 1, 1)

	if p := created[3]; p.minSec != 2 || p.maxSec != 9 || !p.looping {
		t.Fatalf("pad = %+v", p)
	}
}

func TestHeadlessOutputWithLocalSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "wind.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := storage.NewLocalSource(dir)

	out := NewHeadlessOutput(src, 20*time.Millisecond)
	ended := make(chan struct{})
	if err := out.Start(context.Background(), "wind.mp3", func() { close(ended) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("onEnded not called")
	}
	if out.Running() {
		t.Fatal("output still running after end")
	}

	if err := out.Start(context.Background(), "missing.mp3", nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestHeadlessOutputStopSuppressesEnd(t *testing.T) {
	out := NewHeadlessOutput(nil, 30*time.Millisecond)
	called := make(chan struct{}, 1)
	if err := out.Start(context.Background(), "x.mp3", func() { called <- struct{}{} }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out.Stop()

	select {
	case <-called:
		t.Fatal("onEnded fired after Stop")
	case <-time.After(80 * time.Millisecond):
	}
}
