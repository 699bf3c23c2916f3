package attendance

import (
	"fmt"
	"time"
)

// Action names a user-initiated transition.
type Action string

const (
	ActionCheckIn     Action = "check-in"
	ActionToggleBreak Action = "break"
	ActionCheckOut    Action = "check-out"
)

// ParseAction maps an action name to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCheckIn, ActionToggleBreak, ActionCheckOut:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Transition computes the next record from the current one (nil when the day
// has no record yet). It never mutates current. A non-nil error is a rejection
// wrapping ErrPreconditionRejected.
type Transition func(current *Record, key Key, now time.Time) (Record, error)

// TransitionFor returns the pure transition implementing action.
func TransitionFor(action Action) (Transition, error) {
	switch action {
	case ActionCheckIn:
		return CheckIn, nil
	case ActionToggleBreak:
		return ToggleBreak, nil
	case ActionCheckOut:
		return CheckOut, nil
	}
	return nil, fmt.Errorf("unknown action %q", action)
}

// CheckIn opens the day. A record without a check-in time (should not
// normally exist) is reset as if it were new.
func CheckIn(current *Record, key Key, now time.Time) (Record, error) {
	switch StateOf(current) {
	case StateCheckedIn, StateOnBreak:
		return Record{}, ErrAlreadyCheckedIn
	case StateCheckedOut:
		return Record{}, ErrDayClosed
	}

	in := TimeOfDayOf(now)
	return Record{
		Date:              key.Date,
		Identity:          key.Identity,
		CheckIn:           &in,
		CheckOut:          nil,
		BreakStart:        nil,
		TotalBreakMinutes: 0,
	}, nil
}

// ToggleBreak starts a break, or ends the open one and adds its whole minutes
// to the daily total.
func ToggleBreak(current *Record, key Key, now time.Time) (Record, error) {
	switch StateOf(current) {
	case StateNoRecord:
		return Record{}, ErrNotCheckedIn
	case StateCheckedOut:
		return Record{}, ErrDayClosed
	}

	next := current.Clone()
	if next.BreakStart == nil {
		start := now
		next.BreakStart = &start
		return next, nil
	}

	next.TotalBreakMinutes += ElapsedMinutes(*next.BreakStart, now)
	next.BreakStart = nil
	return next, nil
}

// CheckOut closes the day. An open break has to be ended first.
func CheckOut(current *Record, key Key, now time.Time) (Record, error) {
	switch StateOf(current) {
	case StateNoRecord:
		return Record{}, ErrNotCheckedIn
	case StateOnBreak:
		return Record{}, ErrOnBreak
	case StateCheckedOut:
		return Record{}, ErrDayClosed
	}

	next := current.Clone()
	out := TimeOfDayOf(now)
	next.CheckOut = &out
	return next, nil
}

// ElapsedMinutes returns whole minutes from start to now. A clock that moved
// backwards yields 0 so the break total never decreases.
func ElapsedMinutes(start, now time.Time) int {
	d := now.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// WorkedMinutes returns the worked duration of a closed day. A shift that
// crosses midnight wraps forward. ok is false unless both times are set.
func WorkedMinutes(rec Record) (minutes int, ok bool) {
	if rec.CheckIn == nil || rec.CheckOut == nil {
		return 0, false
	}
	raw := (rec.CheckOut.Minutes() - rec.CheckIn.Minutes()) % minutesPerDay
	if raw < 0 {
		raw += minutesPerDay
	}
	return max(0, raw-rec.TotalBreakMinutes), true
}

// FormatDuration renders minutes as "8h 0m".
func FormatDuration(minutes int) string {
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// FormatBreakTimer renders an elapsed break as MM:SS.
func FormatBreakTimer(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	mins := int(d / time.Minute)
	secs := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", mins, secs)
}

// Status is the read-only view used to render one identity's day.
type Status struct {
	Date              string     `json:"date"`
	Identity          string     `json:"identity"`
	State             State      `json:"state"`
	CheckIn           *TimeOfDay `json:"check_in"`
	CheckOut          *TimeOfDay `json:"check_out"`
	TotalBreakMinutes int        `json:"total_break_minutes"`
	BreakElapsed      string     `json:"break_elapsed,omitempty"`
	WorkedMinutes     *int       `json:"worked_minutes"`
	Worked            string     `json:"worked,omitempty"`
	CanCheckIn        bool       `json:"can_check_in"`
	CanToggleBreak    bool       `json:"can_toggle_break"`
	CanCheckOut       bool       `json:"can_check_out"`
	Synced            bool       `json:"synced"`
}

// StatusOf builds the status view for key. rec may be nil.
func StatusOf(rec *Record, key Key, now time.Time) Status {
	st := Status{
		Date:     key.Date,
		Identity: key.Identity,
		State:    StateOf(rec),
		Synced:   true,
	}
	if rec != nil {
		c := rec.Clone()
		st.CheckIn = c.CheckIn
		st.CheckOut = c.CheckOut
		st.TotalBreakMinutes = c.TotalBreakMinutes
	}

	switch st.State {
	case StateNoRecord:
		st.CanCheckIn = true
	case StateCheckedIn:
		st.CanToggleBreak = true
		st.CanCheckOut = true
	case StateOnBreak:
		st.CanToggleBreak = true
		st.BreakElapsed = FormatBreakTimer(now.Sub(*rec.BreakStart))
	case StateCheckedOut:
		if worked, ok := WorkedMinutes(*rec); ok {
			st.WorkedMinutes = &worked
			st.Worked = FormatDuration(worked)
		}
	}
	return st
}
