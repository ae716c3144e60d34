package atmosphere

import (
	"context"
	"errors"
	"testing"

	"AtmoMix/core/crossfade"
	"AtmoMix/model"
)

type fakeFader struct {
	calls     []crossfade.Options
	cancelled bool
	err       error
	cancels   int
}

func (f *fakeFader) CrossfadeTo(ctx context.Context, detail *model.AtmosphereWithSounds, opts crossfade.Options) (crossfade.Result, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return crossfade.Result{}, f.err
	}
	return crossfade.Result{TransitionID: "t", Cancelled: f.cancelled}, nil
}

func (f *fakeFader) CancelCurrent() bool {
	f.cancels++
	return true
}

type fakeMembership struct {
	current *model.Atmosphere
	cleared int
}

func (m *fakeMembership) Atmosphere() (model.Atmosphere, bool) {
	if m.current == nil {
		return model.Atmosphere{}, false
	}
	return *m.current, true
}

func (m *fakeMembership) Clear() {
	m.cleared++
	m.current = nil
}

func newTestManager() (*Manager, *Service, *fakeFader, *fakeMembership) {
	svc, _, _, _ := newTestService()
	fader := &fakeFader{}
	members := &fakeMembership{}
	return NewManager(svc, fader, members), svc, fader, members
}

func TestLoadUsesAtmosphereDefaults(t *testing.T) {
	mgr, svc, fader, _ := newTestManager()
	ctx := context.Background()

	id, _ := svc.SaveAtmosphere(ctx, &model.AtmosphereSavePayload{
		Atmosphere: model.Atmosphere{Name: "Storm", DefaultCrossfadeMs: 4000, FadeCurve: model.FadeCurveEqualPower},
	})

	if _, err := mgr.Load(ctx, id, LoadOptions{}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := fader.calls[0]; got.DurationMs != 4000 || got.Curve != model.FadeCurveEqualPower {
		t.Errorf("options = %+v", got)
	}
	if mgr.ActiveID() != id {
		t.Errorf("ActiveID = %d, want %d", mgr.ActiveID(), id)
	}

	if _, err := mgr.Load(ctx, id, LoadOptions{DurationMs: 500, Curve: model.FadeCurveExp}); err != nil {
		t.Fatal(err)
	}
	if got := fader.calls[1]; got.DurationMs != 500 || got.Curve != model.FadeCurveExp {
		t.Errorf("explicit options = %+v", got)
	}
}

func TestCancelledLoadKeepsActive(t *testing.T) {
	mgr, svc, fader, _ := newTestManager()
	ctx := context.Background()

	first, _ := svc.SaveAtmosphere(ctx, &model.AtmosphereSavePayload{Atmosphere: model.Atmosphere{Name: "A"}})
	second, _ := svc.SaveAtmosphere(ctx, &model.AtmosphereSavePayload{Atmosphere: model.Atmosphere{Name: "B"}})

	if _, err := mgr.Load(ctx, first, LoadOptions{}); err != nil {
		t.Fatal(err)
	}

	fader.cancelled = true
	res, err := mgr.Load(ctx, second, LoadOptions{})
	if err != nil {
		t.Fatalf("cancelled load returned error: %v", err)
	}
	if !res.Cancelled {
		t.Error("expected Cancelled result")
	}
	if mgr.ActiveID() != first {
		t.Errorf("ActiveID = %d, want %d", mgr.ActiveID(), first)
	}
}

func TestLoadErrors(t *testing.T) {
	mgr, svc, fader, _ := newTestManager()
	ctx := context.Background()

	if _, err := mgr.Load(ctx, 404, LoadOptions{}); err == nil {
		t.Error("expected error for missing atmosphere")
	}

	id, _ := svc.SaveAtmosphere(ctx, &model.AtmosphereSavePayload{Atmosphere: model.Atmosphere{Name: "A"}})
	fader.err = errors.New("boom")
	if _, err := mgr.Load(ctx, id, LoadOptions{}); err == nil {
		t.Error("expected transition error")
	}
	if mgr.ActiveID() != 0 {
		t.Errorf("ActiveID = %d after failure", mgr.ActiveID())
	}
}

func TestDeleteClearsActiveAndMembership(t *testing.T) {
	mgr, svc, _, members := newTestManager()
	ctx := context.Background()

	id, _ := svc.SaveAtmosphere(ctx, &model.AtmosphereSavePayload{Atmosphere: model.Atmosphere{Name: "A"}})
	if _, err := mgr.Load(ctx, id, LoadOptions{}); err != nil {
		t.Fatal(err)
	}
	members.current = &model.Atmosphere{ID: id}

	if err := mgr.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mgr.ActiveID() != 0 {
		t.Error("active id not cleared")
	}
	if members.cleared != 1 {
		t.Errorf("membership cleared %d times", members.cleared)
	}
}

func TestCreateEmptyAndRefresh(t *testing.T) {
	mgr, _, fader, _ := newTestManager()
	ctx := context.Background()

	if _, err := mgr.CreateEmpty(ctx, ""); err != nil {
		t.Fatalf("CreateEmpty: %v", err)
	}
	if _, err := mgr.CreateEmpty(ctx, "Night"); err != nil {
		t.Fatalf("CreateEmpty: %v", err)
	}

	summaries, err := mgr.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d", len(summaries))
	}
	if summaries[0].Name != "New Atmosphere" || summaries[1].Name != "Night" {
		t.Errorf("names = %q, %q", summaries[0].Name, summaries[1].Name)
	}

	if !mgr.CancelLoad() || fader.cancels != 1 {
		t.Error("CancelLoad not forwarded")
	}
}
