package identity

import (
	"github.com/coder/hnsw"
)

// HNSW parameters for face descriptors.
const (
	// indexMaxNeighbors (M) is the maximum number of neighbors per node.
	indexMaxNeighbors = 16

	// indexCandidates is how many approximate neighbors are re-ranked exactly.
	indexCandidates = 16
)

// Index is an in-memory HNSW graph over every enrolled sample. It narrows
// the search to a few candidates whose exact distance is then recomputed.
// When a candidate is accepted from a truncated search, every sample is
// scanned so the accepted identity is always the globally nearest one. A
// face whose nearest samples the graph misses entirely can still come back
// unknown. Not safe for concurrent use; Gallery guards it.
type Index struct {
	graph   *hnsw.Graph[int]
	entries []indexEntry // node key is the position in entries
	dim     int
}

type indexEntry struct {
	identity   string
	descriptor Descriptor
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{}
}

func newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index content with every sample of profiles.
func (x *Index) Build(profiles []Profile) {
	x.graph = nil
	x.entries = nil
	x.dim = 0
	for i := range profiles {
		for _, s := range profiles[i].Samples {
			x.Add(profiles[i].Identity, s.Descriptor)
		}
	}
}

// Add indexes one sample. Samples whose length differs from the first
// indexed sample are skipped; they can never match a live descriptor of the
// indexed length anyway.
func (x *Index) Add(identity string, d Descriptor) {
	if len(d) == 0 {
		return
	}
	if x.graph == nil {
		x.graph = newGraph()
		x.dim = len(d)
	}
	if len(d) != x.dim {
		return
	}

	key := len(x.entries)
	x.entries = append(x.entries, indexEntry{identity: identity, descriptor: append(Descriptor(nil), d...)})
	x.graph.Add(hnsw.MakeNode(key, []float32(d)))
}

// Len returns the number of indexed samples.
func (x *Index) Len() int {
	return len(x.entries)
}

// Resolve is the indexed counterpart of the package-level Resolve.
func (x *Index) Resolve(live Descriptor, threshold float64) Match {
	if x.graph == nil || len(x.entries) == 0 || len(live) != x.dim {
		return Unknown()
	}

	k := min(indexCandidates, len(x.entries))
	best := Unknown()
	bestIdentity := ""
	for _, n := range x.graph.Search([]float32(live), k) {
		d := EuclideanDistance(live, x.entries[n.Key].descriptor)
		if d < best.distance {
			best.distance = d
			bestIdentity = x.entries[n.Key].identity
		}
	}

	if bestIdentity == "" || best.distance > threshold {
		return Match{distance: best.distance}
	}
	if k < len(x.entries) {
		return x.scan(live, threshold)
	}
	return Resolved(bestIdentity, best.distance)
}

// scan resolves live against every indexed sample.
func (x *Index) scan(live Descriptor, threshold float64) Match {
	best := Unknown()
	bestIdentity := ""
	for _, e := range x.entries {
		if d := EuclideanDistance(live, e.descriptor); d < best.distance {
			best.distance = d
			bestIdentity = e.identity
		}
	}
	if bestIdentity == "" || best.distance > threshold {
		return Match{distance: best.distance}
	}
	return Resolved(bestIdentity, best.distance)
}
