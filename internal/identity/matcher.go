package identity

import (
	"encoding/json"
	"math"
)

// Match is the outcome of resolving one live descriptor: either a resolved
// identity or unknown. An identity literally named "unknown" is still a
// resolved identity.
type Match struct {
	identity string
	distance float64
	resolved bool
}

// Resolved builds a match for identity at distance.
func Resolved(identity string, distance float64) Match {
	return Match{identity: identity, distance: distance, resolved: true}
}

// Unknown is the match for a face that belongs to nobody enrolled.
func Unknown() Match {
	return Match{distance: math.Inf(1)}
}

// Known reports whether the match resolved to an identity.
func (m Match) Known() bool {
	return m.resolved
}

// Identity returns the resolved identity; ok is false for unknown.
func (m Match) Identity() (identity string, ok bool) {
	return m.identity, m.resolved
}

// Distance is the distance to the nearest enrolled sample, +Inf when nothing was compared.
func (m Match) Distance() float64 {
	return m.distance
}

func (m Match) String() string {
	if !m.resolved {
		return "<unknown>"
	}
	return m.identity
}

type matchJSON struct {
	Resolved bool     `json:"resolved"`
	Identity string   `json:"identity,omitempty"`
	Distance *float64 `json:"distance,omitempty"`
}

func (m Match) MarshalJSON() ([]byte, error) {
	out := matchJSON{Resolved: m.resolved, Identity: m.identity}
	if !math.IsInf(m.distance, 0) && !math.IsNaN(m.distance) {
		d := m.distance
		out.Distance = &d
	}
	return json.Marshal(out)
}

// Resolve finds the enrolled sample nearest to live across every profile and
// returns its owner when that distance is within threshold. Any single close
// sample is enough. With no profiles no distance is computed.
func Resolve(live Descriptor, profiles []Profile, threshold float64) Match {
	if len(profiles) == 0 {
		return Unknown()
	}

	best := Unknown()
	bestIdentity := ""
	for i := range profiles {
		for _, s := range profiles[i].Samples {
			d := EuclideanDistance(live, s.Descriptor)
			if d < best.distance {
				best.distance = d
				bestIdentity = profiles[i].Identity
			}
		}
	}

	if math.IsInf(best.distance, 1) || best.distance > threshold {
		return Match{distance: best.distance}
	}
	return Resolved(bestIdentity, best.distance)
}
