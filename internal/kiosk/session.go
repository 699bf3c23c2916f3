// Package kiosk drives the attendance kiosk: periodic detection ticks,
// identity resolution, enrollment capture and user actions, all against an
// explicit session.
package kiosk

import (
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/identity"
)

var (
	// ErrNoIdentity is returned for an action while nobody is recognized.
	ErrNoIdentity = errors.New("no recognized identity")

	// ErrNoFaceCaptured is returned by Enroll when the capture buffer is empty.
	ErrNoFaceCaptured = errors.New("no face captured")

	// ErrWrongView is returned when an operation does not fit the active view.
	ErrWrongView = errors.New("operation not available in this view")

	// ErrUnknownView is returned for a view name that does not exist.
	ErrUnknownView = errors.New("unknown view")
)

// View is the active kiosk screen.
type View string

const (
	ViewRecognition View = "recognition"
	ViewEnrollment  View = "enrollment"
)

// ParseView validates a view name.
func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewRecognition, ViewEnrollment:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, s)
}

// Outcome describes what a tick did.
type Outcome int

const (
	TickSkipped    Outcome = iota // a previous tick was still running
	TickNoFace                    // no face, or the detector was unavailable
	TickRecognized                // face resolved to an enrolled identity
	TickUnknown                   // face seen but not enrolled
	TickCaptured                  // enrollment view stored the descriptor
	TickStale                     // the view changed while detecting
)

var outcomeNames = [...]string{"skipped", "no_face", "recognized", "unknown", "captured", "stale"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// TickResult reports a single tick.
type TickResult struct {
	Outcome Outcome            `json:"outcome"`
	Match   identity.Match     `json:"match"`
	Status  *attendance.Status `json:"status,omitempty"`
	Err     error              `json:"-"` // detector failure behind a TickNoFace
}

// Session is the kiosk's mutable state. The kiosk owns it; callers get copies.
type Session struct {
	ID          string             `json:"id"`
	StartedAt   time.Time          `json:"started_at"`
	View        View               `json:"view"`
	Match       identity.Match     `json:"match"`
	Status      *attendance.Status `json:"status,omitempty"`
	Captured    bool               `json:"captured"`
	LastTick    time.Time          `json:"last_tick,omitzero"`
	LastOutcome Outcome            `json:"last_outcome"`

	captured   identity.Descriptor
	generation uint64 // bumped on every view change
}

// Identity returns the currently recognized identity.
func (s *Session) Identity() (string, bool) {
	return s.Match.Identity()
}

func (s *Session) clearRecognition() {
	s.Match = identity.Unknown()
	s.Status = nil
}
