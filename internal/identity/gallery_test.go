package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	upserts  int
	failNext int
	loadErr  error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]Profile)}
}

func (s *fakeProfileStore) UpsertProfile(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("store offline")
	}
	s.upserts++
	s.profiles[p.Identity] = p.Clone()
	return nil
}

func (s *fakeProfileStore) LoadProfiles(context.Context) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	return out, nil
}

func newTestGallery(store Store, opts Options) *Gallery {
	clk := clock.NewFixed(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewGallery(store, clk, logging.Discard(), opts)
}

func TestGallery_EnrollCreatesThenAppends(t *testing.T) {
	store := newFakeProfileStore()
	g := newTestGallery(store, Options{})
	ctx := context.Background()

	p, err := g.Enroll(ctx, " alice ", Descriptor{0, 0})
	if err != nil {
		t.Fatalf("first enroll: %v", err)
	}
	if p.Identity != "alice" || len(p.Samples) != 1 {
		t.Errorf("unexpected profile after first enroll: %+v", p)
	}
	enrolledAt := p.EnrolledAt

	p, err = g.Enroll(ctx, "alice", Descriptor{1, 1})
	if err != nil {
		t.Fatalf("second enroll: %v", err)
	}
	if len(p.Samples) != 2 {
		t.Errorf("expected 2 samples, got %d", len(p.Samples))
	}
	if !p.EnrolledAt.Equal(enrolledAt) {
		t.Errorf("enrollment timestamp changed on append")
	}
	if g.Len() != 1 {
		t.Errorf("expected one profile, got %d", g.Len())
	}
	if got := len(store.profiles["alice"].Samples); got != 2 {
		t.Errorf("store holds %d samples, want 2", got)
	}
	if p.Samples[0].ID == p.Samples[1].ID {
		t.Error("samples share an id")
	}
}

func TestGallery_EnrollValidation(t *testing.T) {
	g := newTestGallery(newFakeProfileStore(), Options{DescriptorDim: 2})
	ctx := context.Background()

	tests := []struct {
		name       string
		identity   string
		descriptor Descriptor
	}{
		{name: "blank identity", identity: "  ", descriptor: Descriptor{0, 0}},
		{name: "empty descriptor", identity: "alice", descriptor: nil},
		{name: "wrong dimension", identity: "alice", descriptor: Descriptor{0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Enroll(ctx, tt.identity, tt.descriptor)
			if !errors.Is(err, ErrInvalidEnrollment) {
				t.Errorf("expected ErrInvalidEnrollment, got %v", err)
			}
		})
	}
	if g.Len() != 0 {
		t.Errorf("rejected enrollments must not create profiles")
	}
}

func TestGallery_Match(t *testing.T) {
	for _, useIndex := range []bool{false, true} {
		g := newTestGallery(newFakeProfileStore(), Options{UseIndex: useIndex})
		ctx := context.Background()

		if m := g.Match(Descriptor{0, 0}); m.Known() {
			t.Errorf("index=%v: expected unknown from empty gallery", useIndex)
		}
		if _, err := g.Enroll(ctx, "A", Descriptor{0, 0}); err != nil {
			t.Fatal(err)
		}
		if _, err := g.Enroll(ctx, "B", Descriptor{3, 3}); err != nil {
			t.Fatal(err)
		}

		if id, _ := g.Match(Descriptor{0.1, 0}).Identity(); id != "A" {
			t.Errorf("index=%v: expected A, got %q", useIndex, id)
		}
		if id, _ := g.Match(Descriptor{3, 2.9}).Identity(); id != "B" {
			t.Errorf("index=%v: expected B, got %q", useIndex, id)
		}
		if m := g.Match(Descriptor{1.5, 1.5}); m.Known() {
			t.Errorf("index=%v: expected unknown between profiles, got %v", useIndex, m)
		}
	}
}

func TestGallery_PersistenceFailureAndResync(t *testing.T) {
	store := newFakeProfileStore()
	store.failNext = 1
	g := newTestGallery(store, Options{})
	ctx := context.Background()

	p, err := g.Enroll(ctx, "alice", Descriptor{0, 0})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if p.Identity != "alice" {
		t.Errorf("expected profile to be returned on persistence failure")
	}
	if !g.Match(Descriptor{0, 0}).Known() {
		t.Error("unsaved profile must still be matchable")
	}
	if d := g.Dirty(); len(d) != 1 || d[0] != "alice" {
		t.Errorf("expected alice dirty, got %v", d)
	}

	n, err := g.Resync(ctx)
	if err != nil || n != 1 {
		t.Fatalf("resync = %d, %v", n, err)
	}
	if len(g.Dirty()) != 0 {
		t.Errorf("expected no dirty profiles after resync")
	}
	if _, ok := store.profiles["alice"]; !ok {
		t.Error("store missing alice after resync")
	}
}

func TestGallery_Load(t *testing.T) {
	store := newFakeProfileStore()
	store.profiles["bob"] = Profile{Identity: "bob", Samples: []Sample{{Descriptor: Descriptor{1, 1}}}}
	store.profiles["empty"] = Profile{Identity: "empty"}

	g := newTestGallery(store, Options{UseIndex: true})
	if err := g.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("expected profiles without samples to be skipped, got %d", g.Len())
	}
	if id, _ := g.Match(Descriptor{1, 1}).Identity(); id != "bob" {
		t.Errorf("expected bob after load, got %q", id)
	}

	store.loadErr = errors.New("boom")
	if err := g.Load(context.Background()); err == nil {
		t.Error("expected load error")
	}
}

func TestGallery_UnloadedGalleryRefusesEnroll(t *testing.T) {
	store := newFakeProfileStore()
	store.profiles["alice"] = Profile{Identity: "alice", Samples: []Sample{{Descriptor: Descriptor{0, 0}}}}
	store.loadErr = errors.New("i/o timeout")
	g := newTestGallery(store, Options{})
	ctx := context.Background()

	if err := g.Load(ctx); err == nil {
		t.Fatal("expected load error")
	}
	if _, err := g.Enroll(ctx, "alice", Descriptor{0, 0.1}); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if store.upserts != 0 || len(store.profiles["alice"].Samples) != 1 {
		t.Errorf("stored profile must be untouched, upserts=%d samples=%d",
			store.upserts, len(store.profiles["alice"].Samples))
	}

	store.loadErr = nil
	if _, err := g.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}
	p, err := g.Enroll(ctx, "alice", Descriptor{0, 0.1})
	if err != nil {
		t.Fatalf("enroll after reload: %v", err)
	}
	if len(p.Samples) != 2 {
		t.Errorf("expected the new sample appended to the stored one, got %d samples", len(p.Samples))
	}
}

func TestGallery_ProfilesSorted(t *testing.T) {
	g := newTestGallery(newFakeProfileStore(), Options{})
	ctx := context.Background()
	for _, name := range []string{"carol", "alice", "bob"} {
		if _, err := g.Enroll(ctx, name, Descriptor{1}); err != nil {
			t.Fatal(err)
		}
	}
	got := g.Profiles()
	if len(got) != 3 || got[0].Identity != "alice" || got[2].Identity != "carol" {
		t.Errorf("unexpected order: %v", got)
	}
}
