package identity

import (
	"math/rand"
	"testing"
)

func randomDescriptor(r *rand.Rand, dim int) Descriptor {
	d := make(Descriptor, dim)
	for i := range d {
		d[i] = r.Float32()
	}
	return d
}

func TestIndex_Empty(t *testing.T) {
	x := NewIndex()
	if m := x.Resolve(Descriptor{0, 0}, DefaultThreshold); m.Known() {
		t.Errorf("expected unknown from empty index, got %v", m)
	}
}

func TestIndex_SkipsMismatchedDimensions(t *testing.T) {
	x := NewIndex()
	x.Add("A", Descriptor{0, 0, 0})
	x.Add("B", Descriptor{0, 0})
	x.Add("C", nil)
	if x.Len() != 1 {
		t.Errorf("expected 1 indexed sample, got %d", x.Len())
	}
	if m := x.Resolve(Descriptor{0, 0}, DefaultThreshold); m.Known() {
		t.Errorf("expected unknown for wrong-length live descriptor, got %v", m)
	}
}

func TestIndex_AgreesWithLinearScan(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	const dim = 16

	var profiles []Profile
	for _, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
		p := Profile{Identity: name}
		for range 3 {
			p.Samples = append(p.Samples, Sample{Descriptor: randomDescriptor(r, dim)})
		}
		profiles = append(profiles, p)
	}

	x := NewIndex()
	x.Build(profiles)
	if x.Len() != 15 {
		t.Fatalf("expected 15 indexed samples, got %d", x.Len())
	}

	// With fewer samples than the candidate count the search is exhaustive,
	// so both strategies must agree exactly.
	for i := range 50 {
		live := randomDescriptor(r, dim)
		want := Resolve(live, profiles, 1.0)
		got := x.Resolve(live, 1.0)
		wantID, wantOK := want.Identity()
		gotID, gotOK := got.Identity()
		if wantOK != gotOK || wantID != gotID {
			t.Errorf("descriptor %d: linear %v, index %v", i, want, got)
		}
	}
}

func TestIndex_AcceptedMatchIsGloballyNearest(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	const dim = 8

	var profiles []Profile
	for i := range 60 {
		p := Profile{Identity: string(rune('A'+i%26)) + string(rune('a'+i/26))}
		for range 3 {
			p.Samples = append(p.Samples, Sample{Descriptor: randomDescriptor(r, dim)})
		}
		profiles = append(profiles, p)
	}

	x := NewIndex()
	x.Build(profiles)
	if x.Len() <= indexCandidates {
		t.Fatalf("expected more samples than candidates, got %d", x.Len())
	}

	const threshold = 0.6
	var accepted int
	for i := range 200 {
		live := randomDescriptor(r, dim)
		want := Resolve(live, profiles, threshold)
		got := x.Resolve(live, threshold)
		if !got.Known() {
			continue
		}
		accepted++
		wantID, _ := want.Identity()
		gotID, _ := got.Identity()
		if !want.Known() || wantID != gotID || want.Distance() != got.Distance() {
			t.Errorf("descriptor %d: linear %v (%.4f), index %v (%.4f)",
				i, want, want.Distance(), got, got.Distance())
		}
	}
	if accepted == 0 {
		t.Fatal("expected some accepted matches")
	}
}

func TestIndex_BuildReplacesContent(t *testing.T) {
	x := NewIndex()
	x.Build([]Profile{profile("A", Descriptor{0, 0})})
	x.Build([]Profile{profile("B", Descriptor{1, 1})})

	if x.Len() != 1 {
		t.Fatalf("expected 1 sample after rebuild, got %d", x.Len())
	}
	m := x.Resolve(Descriptor{1, 1}, DefaultThreshold)
	if id, _ := m.Identity(); id != "B" {
		t.Errorf("expected B, got %v", m)
	}
}
