package kiosk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// stubDetector maps frame contents to descriptors.
type stubDetector struct {
	faces map[string]identity.Descriptor
	err   error
	calls atomic.Int32
}

func (d *stubDetector) Detect(_ context.Context, frame []byte) (identity.Descriptor, bool, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, false, d.err
	}
	desc, ok := d.faces[string(frame)]
	return desc, ok, nil
}

type fixture struct {
	kiosk    *Kiosk
	detector *stubDetector
	gallery  *identity.Gallery
	ledger   *attendance.Ledger
	clock    *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFixed(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := logging.Discard()
	gallery := identity.NewGallery(memory.NewProfileStore(), clk, logger, identity.Options{})
	ledger := attendance.NewLedger(memory.NewRecordStore(), clk, logger)
	det := &stubDetector{faces: map[string]identity.Descriptor{
		"alice": {0, 0},
		"bob":   {3, 3},
		"guest": {9, 9},
	}}
	if _, err := gallery.Enroll(context.Background(), "alice", identity.Descriptor{0, 0.1}); err != nil {
		t.Fatalf("enroll alice: %v", err)
	}
	return &fixture{
		kiosk:    New(det, gallery, ledger, clk, logger),
		detector: det,
		gallery:  gallery,
		ledger:   ledger,
		clock:    clk,
	}
}

func TestTick_Recognition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		frame   string
		outcome Outcome
		who     string
	}{
		{frame: "alice", outcome: TickRecognized, who: "alice"},
		{frame: "guest", outcome: TickUnknown},
		{frame: "alice", outcome: TickRecognized, who: "alice"},
		{frame: "nothing", outcome: TickNoFace},
	}
	for i, tt := range tests {
		res := f.kiosk.Tick(ctx, []byte(tt.frame))
		if res.Outcome != tt.outcome {
			t.Errorf("tick %d: outcome %s, want %s", i, res.Outcome, tt.outcome)
		}
		sess := f.kiosk.Session()
		got, ok := sess.Identity()
		if tt.who == "" && ok {
			t.Errorf("tick %d: expected no identity, got %q", i, got)
		}
		if tt.who != "" && got != tt.who {
			t.Errorf("tick %d: expected %q, got %q", i, tt.who, got)
		}
		if tt.outcome == TickRecognized && (res.Status == nil || res.Status.State != attendance.StateNoRecord) {
			t.Errorf("tick %d: expected status for fresh identity, got %+v", i, res.Status)
		}
	}
}

func TestTick_DetectorFailureIsNoFace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.kiosk.Tick(ctx, []byte("alice"))

	f.detector.err = errors.New("timeout")
	res := f.kiosk.Tick(ctx, []byte("alice"))
	if res.Outcome != TickNoFace || res.Err == nil {
		t.Errorf("expected no-face with error, got %+v", res)
	}
	sess := f.kiosk.Session()
	if _, ok := sess.Identity(); ok {
		t.Error("failed detection must clear the recognized identity")
	}
}

type blockingDetector struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDetector) Detect(context.Context, []byte) (identity.Descriptor, bool, error) {
	close(d.started)
	<-d.release
	return nil, false, nil
}

func TestTick_SkipIfBusy(t *testing.T) {
	f := newFixture(t)
	det := &blockingDetector{started: make(chan struct{}), release: make(chan struct{})}
	k := New(det, f.gallery, f.ledger, f.clock, logging.Discard())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		k.Tick(context.Background(), []byte("x"))
	}()
	<-det.started

	if res := k.Tick(context.Background(), []byte("x")); res.Outcome != TickSkipped {
		t.Errorf("expected TickSkipped while busy, got %s", res.Outcome)
	}

	close(det.release)
	wg.Wait()
	if k.Busy() {
		t.Error("kiosk still busy after tick finished")
	}
}

func TestActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.kiosk.Act(ctx, attendance.ActionCheckIn); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}

	f.kiosk.Tick(ctx, []byte("alice"))
	res, err := f.kiosk.Act(ctx, attendance.ActionCheckIn)
	if err != nil || !res.Applied {
		t.Fatalf("check-in: %+v, %v", res, err)
	}
	if st := f.kiosk.Session().Status; st == nil || st.State != attendance.StateCheckedIn {
		t.Errorf("expected checked-in status, got %+v", st)
	}

	res, err = f.kiosk.Act(ctx, attendance.ActionCheckIn)
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || !errors.Is(res.Rejected, attendance.ErrAlreadyCheckedIn) {
		t.Errorf("second check-in should be rejected, got %+v", res)
	}

	f.kiosk.Act(ctx, attendance.ActionToggleBreak)
	f.clock.Advance(90 * time.Second)
	if st := f.kiosk.Session().Status; st.BreakElapsed != "01:30" {
		t.Errorf("expected live break timer 01:30, got %q", st.BreakElapsed)
	}
}

func TestEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.kiosk.Enroll(ctx, "bob"); !errors.Is(err, ErrWrongView) {
		t.Errorf("expected ErrWrongView in recognition view, got %v", err)
	}
	if err := f.kiosk.SetView(ViewEnrollment); err != nil {
		t.Fatal(err)
	}
	if _, err := f.kiosk.Enroll(ctx, "bob"); !errors.Is(err, ErrNoFaceCaptured) {
		t.Errorf("expected ErrNoFaceCaptured, got %v", err)
	}

	if res := f.kiosk.Tick(ctx, []byte("bob")); res.Outcome != TickCaptured {
		t.Fatalf("expected capture, got %s", res.Outcome)
	}
	if !f.kiosk.Session().Captured {
		t.Error("session should report a captured face")
	}
	sess := f.kiosk.Session()
	if _, ok := sess.Identity(); ok {
		t.Error("enrollment view must not match identities")
	}

	p, err := f.kiosk.Enroll(ctx, "bob")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if p.Identity != "bob" || len(p.Samples) != 1 {
		t.Errorf("unexpected profile %+v", p)
	}
	if f.kiosk.Session().Captured {
		t.Error("capture buffer should be cleared after enrollment")
	}

	if err := f.kiosk.SetView(ViewRecognition); err != nil {
		t.Fatal(err)
	}
	if res := f.kiosk.Tick(ctx, []byte("bob")); res.Outcome != TickRecognized {
		t.Errorf("expected bob recognized after enrollment, got %s", res.Outcome)
	}
	if _, err := f.kiosk.Act(ctx, attendance.ActionCheckIn); err != nil {
		t.Errorf("check-in for bob: %v", err)
	}
}

func TestSetView(t *testing.T) {
	f := newFixture(t)
	if err := f.kiosk.SetView("settings"); !errors.Is(err, ErrUnknownView) {
		t.Errorf("expected ErrUnknownView, got %v", err)
	}
	f.kiosk.Tick(context.Background(), []byte("alice"))
	if err := f.kiosk.SetView(ViewEnrollment); err != nil {
		t.Fatal(err)
	}
	sess := f.kiosk.Session()
	if _, ok := sess.Identity(); ok {
		t.Error("switching view must drop the recognized identity")
	}
}

// slowSource blocks every read until release is closed and records the
// highest number of reads in flight.
type slowSource struct {
	release  chan struct{}
	reads    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *slowSource) Frame(ctx context.Context) ([]byte, error) {
	s.reads.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return []byte("alice"), nil
}

func TestTryTick_SlowCameraHoldsSlot(t *testing.T) {
	f := newFixture(t)
	src := &slowSource{release: make(chan struct{})}

	done := make(chan TickResult, 1)
	go func() {
		res, _ := f.kiosk.TryTick(context.Background(), src)
		done <- res
	}()
	for src.reads.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	for range 5 {
		res, err := f.kiosk.TryTick(context.Background(), src)
		if err != nil || res.Outcome != TickSkipped {
			t.Errorf("expected skip while a frame is being read, got %s, %v", res.Outcome, err)
		}
	}
	if n := src.reads.Load(); n != 1 {
		t.Errorf("expected a single frame read, got %d", n)
	}

	close(src.release)
	if res := <-done; res.Outcome != TickRecognized {
		t.Errorf("expected the pending tick to recognize alice, got %s", res.Outcome)
	}
}

func TestRun_SlowCameraReadsOneFrameAtATime(t *testing.T) {
	f := newFixture(t)
	src := &slowSource{release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.kiosk.Run(ctx, src, time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
	if m := src.maxSeen.Load(); m != 1 {
		t.Errorf("expected at most one frame read in flight, saw %d", m)
	}
}

type failingSource struct{}

func (failingSource) Frame(context.Context) ([]byte, error) {
	return nil, errors.New("camera offline")
}

func TestTryTick_FrameError(t *testing.T) {
	f := newFixture(t)
	f.kiosk.Tick(context.Background(), []byte("alice"))

	if _, err := f.kiosk.TryTick(context.Background(), failingSource{}); err == nil {
		t.Error("expected frame read error")
	}
	sess := f.kiosk.Session()
	if id, _ := sess.Identity(); id != "alice" {
		t.Errorf("a failed frame read must leave the session alone, got %q", id)
	}
	if f.kiosk.Busy() {
		t.Error("tick slot not released after frame error")
	}
}

type frameSource struct{ frame []byte }

func (s frameSource) Frame(context.Context) ([]byte, error) { return s.frame, nil }

func TestRun(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.kiosk.Run(ctx, frameSource{frame: []byte("alice")}, 5*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for f.detector.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("tick loop did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
	sess := f.kiosk.Session()
	if id, _ := sess.Identity(); id != "alice" {
		t.Errorf("expected alice recognized by the loop, got %q", id)
	}

	if err := f.kiosk.Run(context.Background(), frameSource{}, 0); err == nil {
		t.Error("expected error for zero interval")
	}
}
