// Package memory provides in-process stores for attendance records and
// identity profiles. Nothing survives a restart; it backs tests, demos and
// the "memory" database driver.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/identity"
)

// RecordStore is an attendance.Store kept in a map.
type RecordStore struct {
	mu      sync.RWMutex
	records map[attendance.Key]storedRecord
	seq     int64

	// Error injection
	UpsertError error
	LoadError   error
}

type storedRecord struct {
	rec attendance.Record
	seq int64
}

// NewRecordStore creates an empty record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[attendance.Key]storedRecord)}
}

// UpsertRecord replaces the record with the same (date, identity) key. A
// replaced record keeps its original insertion position.
func (s *RecordStore) UpsertRecord(_ context.Context, rec attendance.Record) error {
	if s.UpsertError != nil {
		return s.UpsertError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	existing, ok := s.records[key]
	if !ok {
		s.seq++
		existing.seq = s.seq
	}
	existing.rec = rec.Clone()
	s.records[key] = existing
	return nil
}

// LoadRecords returns records newest date first, most recently inserted
// first within a date.
func (s *RecordStore) LoadRecords(context.Context) ([]attendance.Record, error) {
	if s.LoadError != nil {
		return nil, s.LoadError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := make([]storedRecord, 0, len(s.records))
	for _, r := range s.records {
		stored = append(stored, r)
	}
	sortStored(stored)

	out := make([]attendance.Record, len(stored))
	for i, r := range stored {
		out[i] = r.rec.Clone()
	}
	return out, nil
}

func sortStored(rs []storedRecord) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].rec.Date != rs[j].rec.Date {
			return rs[i].rec.Date > rs[j].rec.Date
		}
		return rs[i].seq > rs[j].seq
	})
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping reports whether the store accepts writes.
func (s *RecordStore) Ping(context.Context) error {
	return s.UpsertError
}

// ProfileStore is an identity.Store kept in a map.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]identity.Profile
	order    []string

	// Error injection
	UpsertError error
	LoadError   error
}

// NewProfileStore creates an empty profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]identity.Profile)}
}

// UpsertProfile replaces the profile with the same identity.
func (s *ProfileStore) UpsertProfile(_ context.Context, p identity.Profile) error {
	if s.UpsertError != nil {
		return s.UpsertError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.Identity]; !ok {
		s.order = append(s.order, p.Identity)
	}
	s.profiles[p.Identity] = p.Clone()
	return nil
}

// LoadProfiles returns profiles in enrollment order.
func (s *ProfileStore) LoadProfiles(context.Context) ([]identity.Profile, error) {
	if s.LoadError != nil {
		return nil, s.LoadError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]identity.Profile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.profiles[id].Clone())
	}
	return out, nil
}

// Len returns the number of stored profiles.
func (s *ProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
