// Package attendance implements the per-day check-in, break and check-out
// state machine and the in-memory ledger that persists it.
package attendance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the calendar-day key format.
const DateLayout = "2006-01-02"

const minutesPerDay = 24 * 60

// DateKey returns the calendar-day key for t in t's own location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// TimeOfDay is a wall-clock minute of the day (0..1439), rendered as HH:MM.
type TimeOfDay int

// TimeOfDayOf truncates t to its minute of the day.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// ParseTimeOfDay parses an HH:MM string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q: out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Minutes returns the minute of the day.
func (t TimeOfDay) Minutes() int {
	return int(t)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding time of day: %w", err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Key is the natural key of a record.
type Key struct {
	Date     string
	Identity string
}

func (k Key) String() string {
	return k.Date + "/" + k.Identity
}

// Record is one identity's attendance for one calendar day.
// BreakStart is non-nil only while on break, and never together with CheckOut.
type Record struct {
	Date              string     `json:"date"`
	Identity          string     `json:"identity"`
	CheckIn           *TimeOfDay `json:"check_in"`
	CheckOut          *TimeOfDay `json:"check_out"`
	BreakStart        *time.Time `json:"break_start"`
	TotalBreakMinutes int        `json:"total_break_minutes"`
}

// Key returns the record's natural key.
func (r Record) Key() Key {
	return Key{Date: r.Date, Identity: r.Identity}
}

// Clone returns a deep copy so callers can't alias the ledger's pointers.
func (r Record) Clone() Record {
	out := r
	if r.CheckIn != nil {
		v := *r.CheckIn
		out.CheckIn = &v
	}
	if r.CheckOut != nil {
		v := *r.CheckOut
		out.CheckOut = &v
	}
	if r.BreakStart != nil {
		v := *r.BreakStart
		out.BreakStart = &v
	}
	return out
}

// OnBreak reports whether a break is open.
func (r Record) OnBreak() bool {
	return r.BreakStart != nil && r.CheckOut == nil
}

// State is the position of a record in the daily lifecycle.
type State int

const (
	StateNoRecord State = iota
	StateCheckedIn
	StateOnBreak
	StateCheckedOut
)

var stateNames = map[State]string{
	StateNoRecord:   "no_record",
	StateCheckedIn:  "checked_in",
	StateOnBreak:    "on_break",
	StateCheckedOut: "checked_out",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range stateNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}

// StateOf classifies a record; nil means no record exists for the day.
func StateOf(rec *Record) State {
	switch {
	case rec == nil || rec.CheckIn == nil:
		return StateNoRecord
	case rec.CheckOut != nil:
		return StateCheckedOut
	case rec.BreakStart != nil:
		return StateOnBreak
	default:
		return StateCheckedIn
	}
}
