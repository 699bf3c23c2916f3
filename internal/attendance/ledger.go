package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/clock"
)

// ErrInvalidIdentity is returned when an action names no identity.
var ErrInvalidIdentity = errors.New("identity is required")

// Store is the durable side of the ledger.
type Store interface {
	// UpsertRecord creates or replaces the record with the same (date, identity).
	UpsertRecord(ctx context.Context, rec Record) error
	// LoadRecords returns all records, newest date first and, within a date,
	// most recently inserted first.
	LoadRecords(ctx context.Context) ([]Record, error)
}

// Result describes the outcome of an action. Rejected is non-nil when the
// action did not apply; Record is then the unchanged current record.
type Result struct {
	Record   Record `json:"record"`
	Applied  bool   `json:"applied"`
	Rejected error  `json:"-"`
}

type entry struct {
	rec Record
	seq int64
}

// Ledger indexes the session's attendance records by (date, identity) and
// writes every applied transition through to the Store. Mutations of the same
// key are serialized; different keys don't block each other.
type Ledger struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.RWMutex
	records map[Key]*entry
	dirty   map[Key]struct{}
	locks   map[Key]*sync.Mutex
	nextSeq int64
	loadErr error // last Load failure, nil once a Load succeeded
}

// NewLedger creates an empty ledger. Call Load to read persisted records.
func NewLedger(store Store, clk clock.Clock, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		clock:   clk,
		logger:  logger,
		records: make(map[Key]*entry),
		dirty:   make(map[Key]struct{}),
		locks:   make(map[Key]*sync.Mutex),
	}
}

// Load reads every persisted record into memory. Unsynced in-memory records
// win over their stored versions. Until a failed Load is followed by a
// successful one, Apply refuses every action with ErrNotLoaded.
func (l *Ledger) Load(ctx context.Context) error {
	recs, err := l.store.LoadRecords(ctx)
	if err != nil {
		err = fmt.Errorf("loading attendance records: %w", err)
		l.mu.Lock()
		l.loadErr = err
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadErr = nil

	// recs[0] is the newest, so it gets the highest sequence number.
	base := l.nextSeq
	seen := make(map[Key]struct{}, len(recs))
	for i, rec := range recs {
		key := rec.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := l.dirty[key]; ok {
			continue
		}
		l.records[key] = &entry{rec: rec.Clone(), seq: base + int64(len(recs)-i)}
	}
	l.nextSeq = base + int64(len(recs)) + 1

	l.logger.Info("attendance ledger loaded", "records", len(recs))
	return nil
}

// Loaded reports whether the ledger reflects the stored records.
func (l *Ledger) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadErr == nil
}

// Today returns the date key of the current day.
func (l *Ledger) Today() string {
	return DateKey(l.clock.Now())
}

// CheckIn applies ActionCheckIn for identity today.
func (l *Ledger) CheckIn(ctx context.Context, identity string) (Result, error) {
	return l.Apply(ctx, ActionCheckIn, identity)
}

// ToggleBreak applies ActionToggleBreak for identity today.
func (l *Ledger) ToggleBreak(ctx context.Context, identity string) (Result, error) {
	return l.Apply(ctx, ActionToggleBreak, identity)
}

// CheckOut applies ActionCheckOut for identity today.
func (l *Ledger) CheckOut(ctx context.Context, identity string) (Result, error) {
	return l.Apply(ctx, ActionCheckOut, identity)
}

// Apply runs action for identity on today's record. Rejections come back in
// Result.Rejected with a nil error. When the in-memory change succeeds but
// the store write fails, the applied Result is returned together with an
// error wrapping ErrPersistence.
func (l *Ledger) Apply(ctx context.Context, action Action, identity string) (Result, error) {
	if identity == "" {
		return Result{}, ErrInvalidIdentity
	}
	transition, err := TransitionFor(action)
	if err != nil {
		return Result{}, err
	}
	l.mu.RLock()
	loadErr := l.loadErr
	l.mu.RUnlock()
	if loadErr != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNotLoaded, loadErr)
	}

	now := l.clock.Now()
	key := Key{Date: DateKey(now), Identity: identity}

	lock := l.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	current, exists := l.Get(key)
	var currentPtr *Record
	if exists {
		currentPtr = &current
	}

	next, rejection := transition(currentPtr, key, now)
	if rejection != nil {
		l.logger.Debug("attendance action rejected",
			"action", action, "identity", identity, "date", key.Date, "reason", rejection)
		return Result{Record: current, Rejected: rejection}, nil
	}

	l.commit(key, next)
	l.logger.Info("attendance action applied",
		"action", action, "identity", identity, "date", key.Date, "state", StateOf(&next))

	if err := l.persist(ctx, key, next); err != nil {
		return Result{Record: next.Clone(), Applied: true}, err
	}
	return Result{Record: next.Clone(), Applied: true}, nil
}

// Get returns a copy of the record stored under key.
func (l *Ledger) Get(key Key) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.records[key]
	if !ok {
		return Record{}, false
	}
	return e.rec.Clone(), true
}

// Status returns the read-only status view of identity on date.
func (l *Ledger) Status(identity, date string) Status {
	key := Key{Date: date, Identity: identity}

	l.mu.RLock()
	e, ok := l.records[key]
	var rec *Record
	if ok {
		c := e.rec.Clone()
		rec = &c
	}
	_, dirty := l.dirty[key]
	l.mu.RUnlock()

	st := StatusOf(rec, key, l.clock.Now())
	st.Synced = !dirty
	return st
}

// TodayStatus is Status for the current day.
func (l *Ledger) TodayStatus(identity string) Status {
	return l.Status(identity, l.Today())
}

// Records returns the records of date ("" for all dates), newest first.
func (l *Ledger) Records(date string) []Record {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.records))
	for key, e := range l.records {
		if date == "" || key.Date == date {
			entries = append(entries, e)
		}
	}
	l.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rec.Date != entries[j].rec.Date {
			return entries[i].rec.Date > entries[j].rec.Date
		}
		return entries[i].seq > entries[j].seq
	})

	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = e.rec.Clone()
	}
	return out
}

// Dirty returns the keys whose latest state has not reached the store.
func (l *Ledger) Dirty() []Key {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]Key, 0, len(l.dirty))
	for k := range l.dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Resync retries the store write of every dirty record. It returns how many
// records were synced and the joined errors of those that still failed. A
// ledger whose last Load failed is loaded again first.
func (l *Ledger) Resync(ctx context.Context) (int, error) {
	if !l.Loaded() {
		if err := l.Load(ctx); err != nil {
			return 0, err
		}
	}

	var synced int
	var errs []error

	for _, key := range l.Dirty() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		lock := l.lockFor(key)
		lock.Lock()
		rec, ok := l.Get(key)
		if !ok {
			lock.Unlock()
			continue
		}
		err := l.persist(ctx, key, rec)
		lock.Unlock()

		if err != nil {
			errs = append(errs, err)
			continue
		}
		synced++
	}

	if synced > 0 {
		l.logger.Info("attendance records resynced", "synced", synced, "failed", len(errs))
	}
	return synced, errors.Join(errs...)
}

func (l *Ledger) lockFor(key Key) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// commit stores rec in memory and marks it dirty until persisted.
func (l *Ledger) commit(key Key, rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.records[key]; ok {
		e.rec = rec.Clone()
	} else {
		l.records[key] = &entry{rec: rec.Clone(), seq: l.nextSeq}
		l.nextSeq++
	}
	l.dirty[key] = struct{}{}
}

// persist writes rec to the store; the caller holds the key lock.
func (l *Ledger) persist(ctx context.Context, key Key, rec Record) error {
	if err := l.store.UpsertRecord(ctx, rec); err != nil {
		l.logger.Warn("attendance record not persisted, will retry",
			"date", key.Date, "identity", key.Identity, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrPersistence, key, err)
	}

	l.mu.Lock()
	delete(l.dirty, key)
	l.mu.Unlock()
	return nil
}
