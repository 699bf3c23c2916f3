package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/clock"
)

var (
	// ErrInvalidEnrollment is returned for an empty identity or descriptor.
	ErrInvalidEnrollment = errors.New("invalid enrollment")

	// ErrPersistence marks a profile that is enrolled in memory but not yet stored.
	ErrPersistence = errors.New("identity profile not persisted")

	// ErrNotLoaded is returned by Enroll while the stored profiles could not be read.
	ErrNotLoaded = errors.New("identity profiles not loaded")
)

// Store is the durable side of the gallery.
type Store interface {
	// UpsertProfile creates or replaces the profile with the same identity.
	UpsertProfile(ctx context.Context, p Profile) error
	// LoadProfiles returns every enrolled profile.
	LoadProfiles(ctx context.Context) ([]Profile, error)
}

// Options tune matching.
type Options struct {
	Threshold     float64 // maximum accepted distance, DefaultThreshold when zero
	DescriptorDim int     // expected descriptor length, 0 accepts any length
	UseIndex      bool    // resolve through the HNSW index instead of a full scan
}

// Gallery owns the enrolled profiles of the session and mirrors enrollments
// to the Store.
type Gallery struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
	opts   Options

	enrollMu sync.Mutex // serializes Enroll including its store write

	mu       sync.RWMutex
	profiles map[string]*Profile
	dirty    map[string]struct{}
	index    *Index
	loadErr  error // last Load failure, nil once a Load succeeded
}

// NewGallery creates an empty gallery. Call Load to read stored profiles.
func NewGallery(store Store, clk clock.Clock, logger *slog.Logger, opts Options) *Gallery {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	g := &Gallery{
		store:    store,
		clock:    clk,
		logger:   logger,
		opts:     opts,
		profiles: make(map[string]*Profile),
		dirty:    make(map[string]struct{}),
	}
	if opts.UseIndex {
		g.index = NewIndex()
	}
	return g
}

// Load reads every stored profile. Profiles enrolled in memory but not yet
// stored are kept. After a failed Load, Enroll is refused until a Load
// succeeds.
func (g *Gallery) Load(ctx context.Context) error {
	profiles, err := g.store.LoadProfiles(ctx)
	if err != nil {
		err = fmt.Errorf("loading identity profiles: %w", err)
		g.mu.Lock()
		g.loadErr = err
		g.mu.Unlock()
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadErr = nil

	for _, p := range profiles {
		if len(p.Samples) == 0 {
			continue
		}
		if _, ok := g.dirty[p.Identity]; ok {
			continue
		}
		c := p.Clone()
		g.profiles[p.Identity] = &c
	}
	g.rebuildIndexLocked()

	g.logger.Info("identity gallery loaded", "profiles", len(g.profiles), "strategy", g.strategy())
	return nil
}

// Loaded reports whether the gallery reflects the stored profiles.
func (g *Gallery) Loaded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loadErr == nil
}

func (g *Gallery) strategy() string {
	if g.index != nil {
		return "hnsw"
	}
	return "linear"
}

// Enroll appends descriptor to identity's profile, creating the profile on
// first enrollment. The returned profile reflects the in-memory state even
// when the store write fails; the error then wraps ErrPersistence.
func (g *Gallery) Enroll(ctx context.Context, identity string, descriptor Descriptor) (Profile, error) {
	identity = NormalizeIdentity(identity)
	if identity == "" {
		return Profile{}, fmt.Errorf("%w: identity is required", ErrInvalidEnrollment)
	}
	if len(descriptor) == 0 {
		return Profile{}, fmt.Errorf("%w: descriptor is empty", ErrInvalidEnrollment)
	}
	if g.opts.DescriptorDim > 0 && len(descriptor) != g.opts.DescriptorDim {
		return Profile{}, fmt.Errorf("%w: descriptor has %d values, want %d",
			ErrInvalidEnrollment, len(descriptor), g.opts.DescriptorDim)
	}

	g.enrollMu.Lock()
	defer g.enrollMu.Unlock()

	g.mu.RLock()
	loadErr := g.loadErr
	g.mu.RUnlock()
	if loadErr != nil {
		return Profile{}, fmt.Errorf("%w: %w", ErrNotLoaded, loadErr)
	}

	now := g.clock.Now()
	sample := Sample{
		ID:         uuid.New(),
		Descriptor: append(Descriptor(nil), descriptor...),
		CapturedAt: now,
	}

	g.mu.Lock()
	p, ok := g.profiles[identity]
	if !ok {
		p = &Profile{Identity: identity, EnrolledAt: now}
		g.profiles[identity] = p
	}
	p.Samples = append(p.Samples, sample)
	if g.index != nil {
		g.index.Add(identity, sample.Descriptor)
	}
	g.dirty[identity] = struct{}{}
	snapshot := p.Clone()
	g.mu.Unlock()

	g.logger.Info("identity enrolled", "identity", identity, "samples", len(snapshot.Samples), "new", !ok)

	if err := g.persist(ctx, snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// Match resolves live against every enrolled sample.
func (g *Gallery) Match(live Descriptor) Match {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.profiles) == 0 {
		return Unknown()
	}
	if g.index != nil {
		return g.index.Resolve(live, g.opts.Threshold)
	}

	profiles := make([]Profile, 0, len(g.profiles))
	for _, p := range g.profiles {
		profiles = append(profiles, *p)
	}
	return Resolve(live, profiles, g.opts.Threshold)
}

// Get returns a copy of identity's profile.
func (g *Gallery) Get(identity string) (Profile, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.profiles[NormalizeIdentity(identity)]
	if !ok {
		return Profile{}, false
	}
	return p.Clone(), true
}

// Profiles returns copies of all profiles sorted by identity.
func (g *Gallery) Profiles() []Profile {
	g.mu.RLock()
	out := make([]Profile, 0, len(g.profiles))
	for _, p := range g.profiles {
		out = append(out, p.Clone())
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Len returns the number of enrolled identities.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.profiles)
}

// Dirty returns identities whose latest profile has not reached the store.
func (g *Gallery) Dirty() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.dirty))
	for id := range g.dirty {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resync retries the store write of every dirty profile, loading the
// gallery again first if the last Load failed.
func (g *Gallery) Resync(ctx context.Context) (int, error) {
	g.enrollMu.Lock()
	defer g.enrollMu.Unlock()

	if !g.Loaded() {
		if err := g.Load(ctx); err != nil {
			return 0, err
		}
	}

	var synced int
	var errs []error
	for _, id := range g.Dirty() {
		p, ok := g.Get(id)
		if !ok {
			continue
		}
		if err := g.persist(ctx, p); err != nil {
			errs = append(errs, err)
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

// persist writes p; the caller holds enrollMu.
func (g *Gallery) persist(ctx context.Context, p Profile) error {
	if err := g.store.UpsertProfile(ctx, p); err != nil {
		g.logger.Warn("identity profile not persisted, will retry", "identity", p.Identity, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrPersistence, p.Identity, err)
	}
	g.mu.Lock()
	delete(g.dirty, p.Identity)
	g.mu.Unlock()
	return nil
}

func (g *Gallery) rebuildIndexLocked() {
	if g.index == nil {
		return
	}
	profiles := make([]Profile, 0, len(g.profiles))
	for _, p := range g.profiles {
		profiles = append(profiles, *p)
	}
	// stable insertion order keeps the graph reproducible between restarts
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Identity < profiles[j].Identity })
	g.index.Build(profiles)
}
