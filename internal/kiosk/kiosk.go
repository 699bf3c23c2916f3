package kiosk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/identity"
)

// Detector extracts the descriptor of the first face in a frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) (identity.Descriptor, bool, error)
}

// FrameSource yields camera frames for the tick loop.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
}

// Gallery resolves and enrolls identities.
type Gallery interface {
	Match(live identity.Descriptor) identity.Match
	Enroll(ctx context.Context, name string, d identity.Descriptor) (identity.Profile, error)
}

// Ledger applies attendance actions.
type Ledger interface {
	Apply(ctx context.Context, action attendance.Action, identity string) (attendance.Result, error)
	TodayStatus(identity string) attendance.Status
}

// Kiosk glues detection, matching, enrollment and the ledger together.
type Kiosk struct {
	detector Detector
	gallery  Gallery
	ledger   Ledger
	clock    clock.Clock
	logger   *slog.Logger

	busy atomic.Bool

	mu      sync.Mutex
	session Session
}

// New creates a kiosk in the recognition view.
func New(detector Detector, gallery Gallery, ledger Ledger, clk clock.Clock, logger *slog.Logger) *Kiosk {
	k := &Kiosk{
		detector: detector,
		gallery:  gallery,
		ledger:   ledger,
		clock:    clk,
		logger:   logger,
	}
	k.session = Session{
		ID:        uuid.NewString(),
		StartedAt: clk.Now(),
		View:      ViewRecognition,
		Match:     identity.Unknown(),
	}
	return k
}

// Tick runs one detection cycle on frame. If the previous tick is still
// running it returns TickSkipped without calling the detector.
func (k *Kiosk) Tick(ctx context.Context, frame []byte) TickResult {
	if !k.busy.CompareAndSwap(false, true) {
		return TickResult{Outcome: TickSkipped, Match: identity.Unknown()}
	}
	defer k.busy.Store(false)
	return k.tick(ctx, frame)
}

// TryTick is Tick with the frame read from source while the tick slot is
// held, so a slow camera never has two reads in flight. A failed read leaves
// the session unchanged and is returned as the error.
func (k *Kiosk) TryTick(ctx context.Context, source FrameSource) (TickResult, error) {
	if !k.busy.CompareAndSwap(false, true) {
		return TickResult{Outcome: TickSkipped, Match: identity.Unknown()}, nil
	}
	defer k.busy.Store(false)

	frame, err := source.Frame(ctx)
	if err != nil {
		return TickResult{Outcome: TickSkipped, Match: identity.Unknown()}, fmt.Errorf("read camera frame: %w", err)
	}
	return k.tick(ctx, frame), nil
}

// tick runs the detection cycle; the caller holds the busy slot.
func (k *Kiosk) tick(ctx context.Context, frame []byte) TickResult {
	k.mu.Lock()
	view, generation := k.session.View, k.session.generation
	k.mu.Unlock()

	descriptor, found, err := k.detector.Detect(ctx, frame)
	if err != nil {
		k.logger.Warn("face detection failed, treating as no face", "error", err)
		found = false
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	result := TickResult{Outcome: TickNoFace, Match: identity.Unknown(), Err: err}
	if k.session.generation != generation {
		result.Outcome = TickStale
		return result
	}

	switch view {
	case ViewEnrollment:
		if found {
			k.session.captured = append(identity.Descriptor(nil), descriptor...)
			result.Outcome = TickCaptured
		} else {
			k.session.captured = nil
		}
		k.session.Captured = k.session.captured != nil

	default:
		if !found {
			k.session.clearRecognition()
			break
		}
		match := k.gallery.Match(descriptor)
		result.Match = match
		name, ok := match.Identity()
		if !ok {
			k.session.clearRecognition()
			result.Outcome = TickUnknown
			break
		}
		if prev, _ := k.session.Identity(); prev != name {
			k.logger.Info("identity recognized", "identity", name, "distance", match.Distance())
		}
		status := k.ledger.TodayStatus(name)
		k.session.Match = match
		k.session.Status = &status
		result.Outcome = TickRecognized
		result.Status = &status
	}

	k.session.LastTick = k.clock.Now()
	k.session.LastOutcome = result.Outcome
	return result
}

// Busy reports whether a tick is in progress.
func (k *Kiosk) Busy() bool {
	return k.busy.Load()
}

// Run ticks every interval with frames from source until ctx is done. Ticks
// run in their own goroutine so a slow camera or detector never delays the
// timer; a tick that fires while another is pending is skipped before the
// frame is read.
func (k *Kiosk) Run(ctx context.Context, source FrameSource, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	k.logger.Info("kiosk tick loop started", "interval", interval, "session", k.session.ID)
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("kiosk tick loop stopped")
			return nil
		case <-ticker.C:
			if k.Busy() {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := k.TryTick(ctx, source); err != nil {
					k.logger.Warn("could not read camera frame", "error", err)
				}
			}()
		}
	}
}

// SetView switches the active view. Leaving a view drops what it held: the
// recognized identity or the captured descriptor.
func (k *Kiosk) SetView(v View) error {
	if _, err := ParseView(string(v)); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.session.View == v {
		return nil
	}
	k.session.View = v
	k.session.generation++
	k.session.clearRecognition()
	k.session.captured = nil
	k.session.Captured = false
	k.logger.Debug("kiosk view changed", "view", v)
	return nil
}

// Session returns a snapshot of the session with a fresh status view.
func (k *Kiosk) Session() Session {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := k.session
	s.captured = nil
	if name, ok := s.Identity(); ok {
		status := k.ledger.TodayStatus(name)
		s.Status = &status
	}
	return s
}

// Act applies action to the recognized identity.
func (k *Kiosk) Act(ctx context.Context, action attendance.Action) (attendance.Result, error) {
	k.mu.Lock()
	view := k.session.View
	name, ok := k.session.Identity()
	k.mu.Unlock()

	if view != ViewRecognition {
		return attendance.Result{}, fmt.Errorf("%w: %s", ErrWrongView, view)
	}
	if !ok {
		return attendance.Result{}, ErrNoIdentity
	}

	res, err := k.ledger.Apply(ctx, action, name)

	k.mu.Lock()
	if current, _ := k.session.Identity(); current == name {
		status := k.ledger.TodayStatus(name)
		k.session.Status = &status
	}
	k.mu.Unlock()

	return res, err
}

// Enroll stores the captured descriptor under name and clears the buffer.
func (k *Kiosk) Enroll(ctx context.Context, name string) (identity.Profile, error) {
	k.mu.Lock()
	if k.session.View != ViewEnrollment {
		view := k.session.View
		k.mu.Unlock()
		return identity.Profile{}, fmt.Errorf("%w: %s", ErrWrongView, view)
	}
	captured := k.session.captured
	k.mu.Unlock()

	if captured == nil {
		return identity.Profile{}, ErrNoFaceCaptured
	}

	profile, err := k.gallery.Enroll(ctx, name, captured)
	if profile.Identity == "" {
		return profile, err
	}

	k.mu.Lock()
	k.session.captured = nil
	k.session.Captured = false
	k.mu.Unlock()
	return profile, err
}
