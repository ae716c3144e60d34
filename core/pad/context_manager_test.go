package pad

import (
	"context"
	"errors"
	"testing"

	"AtmoMix/core/padstate"
	"AtmoMix/model"
)

func TestRemoveLastContextStopsBeforeDeletingState(t *testing.T) {
	store := padstate.NewStore(nil)
	lib, created := newRecordingLibrary(store)
	m := NewContextManager(store, lib)

	if _, err := m.AddPadToContext(model.AudioFile{ID: 7, FilePath: "seven.mp3"}, "mixer", model.PadStatePatch{}); err != nil {
		t.Fatalf("AddPadToContext: %v", err)
	}

	m.RemovePadFromContext(7, "mixer")

	p := created[7]
	if p.stopCalls != 1 {
		t.Fatalf("stop calls = %d, want 1", p.stopCalls)
	}
	if !p.stateAtStop {
		t.Fatal("state was deleted before stop")
	}
	if _, ok := store.GetState(7); ok {
		t.Fatal("state survived removal of last context")
	}
	if _, ok := lib.ByAudioID(7); ok {
		t.Fatal("pad survived removal of last context")
	}
}

func TestRemoveContextKeepsSharedPad(t *testing.T) {
	store := padstate.NewStore(nil)
	lib, created := newRecordingLibrary(store)
	m := NewContextManager(store, lib)
	file := model.AudioFile{ID: 4, FilePath: "four.mp3"}

	m.AddPadToContext(file, "mixer", model.PadStatePatch{})
	m.AddPadToContext(file, "atmosphere", model.PadStatePatch{Volume: model.Float64(0.3)})

	m.RemovePadFromContext(4, "mixer")

	if created[4].stopCalls != 0 {
		t.Fatal("pad stopped while still referenced")
	}
	st, ok := store.GetState(4)
	if !ok || st.Volume != 0.3 {
		t.Fatalf("state = %+v ok=%v", st, ok)
	}
}

func TestContextManagerControls(t *testing.T) {
	store := padstate.NewStore(nil)
	lib, created := newRecordingLibrary(store)
	m := NewContextManager(store, lib)
	m.AddPadToContext(model.AudioFile{ID: 5, FilePath: "five.mp3"}, "mixer", model.PadStatePatch{})
	ctx := context.Background()

	st, err := m.Toggle(ctx, 5)
	if err != nil || !st.IsPlaying || !created[5].playing {
		t.Fatalf("toggle on: %+v err=%v", st, err)
	}
	st, _ = m.Toggle(ctx, 5)
	if st.IsPlaying || created[5].playing {
		t.Fatalf("toggle off: %+v", st)
	}

	st, _ = m.SetVolume(5, 1.7)
	if st.Volume != 1 || created[5].volume != 1 {
		t.Fatalf("volume not clamped: %+v", st)
	}

	st, _ = m.ToggleMute(5)
	if !st.IsMuted || !created[5].muted {
		t.Fatalf("mute: %+v", st)
	}

	st, _ = m.ToggleLoop(5)
	if !st.IsLooping {
		t.Fatalf("loop: %+v", st)
	}

	if _, err := m.Toggle(ctx, 404); !errors.Is(err, ErrPadNotFound) {
		t.Fatalf("err = %v, want ErrPadNotFound", err)
	}
}

func TestSetDelayForcesLoopAndSyncsPad(t *testing.T) {
	store := padstate.NewStore(nil)
	lib, created := newRecordingLibrary(store)
	m := NewContextManager(store, lib)
	m.AddPadToContext(model.AudioFile{ID: 6, FilePath: "six.mp3"}, "mixer", model.PadStatePatch{})

	st, err := m.SetDelay(6, -3, 90)
	if err != nil {
		t.Fatalf("SetDelay: %v", err)
	}
	if *st.MinSeconds != 0 || *st.MaxSeconds != 60 || !st.IsLooping {
		t.Fatalf("state = %+v", st)
	}
	if p := created[6]; p.minSec != 0 || p.maxSec != 60 || !p.looping {
		t.Fatalf("pad not synced: %+v", p)
	}

	// 关闭随机间隔后循环可以被关掉
	m.SetDelay(6, 0, 0)
	st, _ = m.ToggleLoop(6)
	if st.IsLooping {
		t.Fatalf("loop should toggle off once delay cleared: %+v", st)
	}
}

func TestClampDelay(t *testing.T) {
	tests := []struct {
		min, max         int
		wantMin, wantMax int
	}{
		{0, 5, 0, 5},
		{-1, 70, 0, 60},
		{10, 3, 10, 10},
		{80, 90, 60, 60},
	}
	for _, tt := range tests {
		gotMin, gotMax := ClampDelay(tt.min, tt.max)
		if gotMin != tt.wantMin || gotMax != tt.wantMax {
			t.Errorf("ClampDelay(%d, %d) = (%d, %d), want (%d, %d)", tt.min, tt.max, gotMin, gotMax, tt.wantMin, tt.wantMax)
		}
	}
}
