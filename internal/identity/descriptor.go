// Package identity resolves live face descriptors to enrolled identities and
// keeps the gallery of enrolled reference descriptors.
package identity

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the maximum Euclidean distance accepted as a match.
const DefaultThreshold = 0.6

// Descriptor is a fixed-length face embedding produced by the detector.
type Descriptor []float32

// EuclideanDistance returns the L2 distance between a and b. Descriptors of
// different or zero length are infinitely far apart.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Sample is one enrolled reference descriptor.
type Sample struct {
	ID         uuid.UUID  `json:"id"`
	Descriptor Descriptor `json:"descriptor"`
	CapturedAt time.Time  `json:"captured_at"`
}

// Profile is everything enrolled for one identity. Samples only grow.
type Profile struct {
	Identity   string    `json:"identity"`
	EnrolledAt time.Time `json:"enrolled_at"`
	Samples    []Sample  `json:"samples"`
}

// Clone returns a copy that shares no slices with p.
func (p Profile) Clone() Profile {
	out := p
	out.Samples = make([]Sample, len(p.Samples))
	for i, s := range p.Samples {
		s.Descriptor = append(Descriptor(nil), s.Descriptor...)
		out.Samples[i] = s
	}
	return out
}

// MergeSamples appends the samples of other whose IDs p does not have yet and
// returns the merged profile with the number of samples added. The earlier
// enrollment time wins.
func MergeSamples(p, other Profile) (Profile, int) {
	out := p.Clone()
	have := make(map[uuid.UUID]struct{}, len(out.Samples))
	for _, s := range out.Samples {
		have[s.ID] = struct{}{}
	}
	var added int
	for _, s := range other.Samples {
		if _, dup := have[s.ID]; dup {
			continue
		}
		have[s.ID] = struct{}{}
		out.Samples = append(out.Samples, Sample{
			ID:         s.ID,
			Descriptor: append(Descriptor(nil), s.Descriptor...),
			CapturedAt: s.CapturedAt,
		})
		added++
	}
	if !other.EnrolledAt.IsZero() && (out.EnrolledAt.IsZero() || other.EnrolledAt.Before(out.EnrolledAt)) {
		out.EnrolledAt = other.EnrolledAt
	}
	return out, added
}

// NormalizeIdentity trims surrounding space and converts the name to NFC so
// the same name typed on different keyboards maps to one identity.
func NormalizeIdentity(name string) string {
	name = strings.TrimFunc(name, unicode.IsSpace)
	return norm.NFC.String(name)
}
