package padstate

import (
	"testing"

	"AtmoMix/core/events"
	"AtmoMix/model"
)

type delayCall struct {
	audioID  int64
	min, max int
}

type fakeDelaySyncer struct {
	calls []delayCall
}

func (f *fakeDelaySyncer) SyncDelay(audioID int64, minSeconds, maxSeconds int) {
	f.calls = append(f.calls, delayCall{audioID, minSeconds, maxSeconds})
}

func TestInitializePadDefaultsAndMerge(t *testing.T) {
	s := NewStore(nil)

	state := s.InitializePad(1, model.PadStatePatch{})
	if state.IsPlaying || state.IsLooping || state.IsMuted || state.Volume != 0.5 {
		t.Fatalf("unexpected default state %+v", state)
	}

	state = s.InitializePad(1, model.PadStatePatch{Volume: model.Float64(0.8)})
	if state.Volume != 0.8 {
		t.Fatalf("volume = %v, want 0.8", state.Volume)
	}

	state = s.InitializePad(1, model.PadStatePatch{IsLooping: model.Bool(true)})
	if !state.IsLooping || state.Volume != 0.8 {
		t.Fatalf("merge lost fields: %+v", state)
	}
}

func TestGetStateUnknown(t *testing.T) {
	s := NewStore(nil)
	if _, ok := s.GetState(99); ok {
		t.Fatal("expected unknown pad to be absent")
	}
}

func TestUpdateStateUnknownReturnsFalse(t *testing.T) {
	hub := events.NewHub()
	notified := 0
	hub.Subscribe(func(events.Event) { notified++ })
	s := NewStore(hub)

	if s.UpdateState(5, model.PadStatePatch{IsPlaying: model.Bool(true)}) {
		t.Fatal("UpdateState on unknown id returned true")
	}
	if notified != 0 {
		t.Fatalf("notified = %d, want 0", notified)
	}
}

func TestUpdateStateNotifiesBeforeReturning(t *testing.T) {
	hub := events.NewHub()
	s := NewStore(hub)
	s.InitializePad(3, model.PadStatePatch{})
	s.AddToContext(3, "mixer")

	var seen *model.PadState
	var contexts []string
	hub.Subscribe(func(ev events.Event) {
		seen = ev.State
		contexts = ev.Contexts
	}, events.KindStateChanged)

	if !s.UpdateState(3, model.PadStatePatch{IsPlaying: model.Bool(true), Volume: model.Float64(0.2)}) {
		t.Fatal("UpdateState returned false")
	}
	if seen == nil || !seen.IsPlaying || seen.Volume != 0.2 {
		t.Fatalf("listener saw %+v", seen)
	}
	if len(contexts) != 1 || contexts[0] != "mixer" {
		t.Fatalf("contexts = %v", contexts)
	}
}

func TestUpdateStateSyncsDelayOnlyWhenTouched(t *testing.T) {
	s := NewStore(nil)
	syncer := &fakeDelaySyncer{}
	s.SetDelaySyncer(syncer)
	s.InitializePad(4, model.PadStatePatch{})

	s.UpdateState(4, model.PadStatePatch{Volume: model.Float64(0.3)})
	if len(syncer.calls) != 0 {
		t.Fatalf("unexpected delay sync %v", syncer.calls)
	}

	s.UpdateState(4, model.PadStatePatch{MaxSeconds: model.IntPtr(5)})
	if len(syncer.calls) != 1 || syncer.calls[0] != (delayCall{4, 0, 5}) {
		t.Fatalf("delay calls = %v", syncer.calls)
	}
}

func TestContextMembership(t *testing.T) {
	hub := events.NewHub()
	var kinds []events.Kind
	hub.Subscribe(func(ev events.Event) { kinds = append(kinds, ev.Kind) },
		events.KindContextAdded, events.KindContextRemoved)
	s := NewStore(hub)

	s.InitializePad(7, model.PadStatePatch{})
	s.AddToContext(7, "mixer")
	s.AddToContext(7, "atmosphere")

	got := s.GetContexts(7)
	if len(got) != 2 || got[0] != "atmosphere" || got[1] != "mixer" {
		t.Fatalf("contexts = %v", got)
	}
	if !s.IsInContext(7, "mixer") {
		t.Fatal("expected pad in mixer")
	}

	s.RemoveFromContext(7, "mixer")
	if s.IsInContext(7, "mixer") {
		t.Fatal("pad still in mixer")
	}
	if _, ok := s.GetState(7); !ok {
		t.Fatal("RemoveFromContext must not delete state")
	}
	if len(kinds) != 3 {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestRemovePadPurgesEverything(t *testing.T) {
	s := NewStore(nil)
	s.InitializePad(8, model.PadStatePatch{})
	s.AddToContext(8, "mixer")
	s.AddToContext(8, "atmosphere")

	s.RemovePad(8)

	if _, ok := s.GetState(8); ok {
		t.Fatal("state survived RemovePad")
	}
	if c := s.GetContexts(8); len(c) != 0 {
		t.Fatalf("contexts survived RemovePad: %v", c)
	}
	if st := s.Stats(); st.TotalPads != 0 || len(st.ContextCounts) != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(nil)
	s.InitializePad(1, model.PadStatePatch{MinSeconds: model.IntPtr(2)})

	snap := s.Snapshot()
	st := snap[1]
	*st.MinSeconds = 40

	fresh, _ := s.GetState(1)
	if *fresh.MinSeconds != 2 {
		t.Fatalf("snapshot aliases store: minSeconds = %d", *fresh.MinSeconds)
	}
}

func TestGetPadsInContextAndStats(t *testing.T) {
	s := NewStore(nil)
	s.InitializePad(2, model.PadStatePatch{IsPlaying: model.Bool(true)})
	s.InitializePad(1, model.PadStatePatch{})
	s.AddToContext(2, "mixer")
	s.AddToContext(1, "mixer")
	s.AddToContext(9, "mixer") // 没有状态的图层不返回

	pads := s.GetPadsInContext("mixer")
	if len(pads) != 2 || pads[0].AudioID != 1 || pads[1].AudioID != 2 {
		t.Fatalf("pads = %+v", pads)
	}

	st := s.Stats()
	if st.TotalPads != 2 || st.PlayingPads != 1 || st.ContextCounts["mixer"] != 3 {
		t.Fatalf("stats = %+v", st)
	}
}
