// Package schedule holds the clinic calendar rules: which instants may be
// booked and which slots a physician still has free. Everything here is pure
// so every node reaches the same answer from the same inputs.
package schedule

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// TimeOfDay is a wall-clock time expressed as minutes after midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM" in 24h form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) on(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, day.Location())
}

func timeOfDay(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

// WorkingHours is a physician's daily window, start inclusive, end exclusive.
type WorkingHours struct {
	Start TimeOfDay
	End   TimeOfDay
}

var ErrInvalidWorkingHours = errors.New("working hours must end after they start")

func ParseWorkingHours(start, end string) (WorkingHours, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return WorkingHours{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return WorkingHours{}, err
	}
	if e <= s {
		return WorkingHours{}, fmt.Errorf("%w: %s-%s", ErrInvalidWorkingHours, s, e)
	}
	return WorkingHours{Start: s, End: e}, nil
}

// Rules is the clinic-wide calendar policy.
type Rules struct {
	Location       *time.Location
	BusinessHours  WorkingHours
	SaturdayCutoff TimeOfDay
	AllowedMinutes []int
	Step           time.Duration
	HorizonMonths  int
}

func DefaultRules() Rules {
	return Rules{
		Location:       time.UTC,
		BusinessHours:  WorkingHours{Start: NewTimeOfDay(8, 0), End: NewTimeOfDay(18, 0)},
		SaturdayCutoff: NewTimeOfDay(12, 0),
		AllowedMinutes: []int{0, 20, 40},
		Step:           20 * time.Minute,
		HorizonMonths:  3,
	}
}

var (
	ErrSundayClosed         = errors.New("the clinic is closed on Sundays")
	ErrSaturdayAfternoon    = errors.New("on Saturdays appointments are only available in the morning")
	ErrOutsideBusinessHours = errors.New("appointment is outside business hours")
	ErrSlotGranularity      = errors.New("appointment time is not aligned to a bookable slot")
	ErrInPast               = errors.New("appointment time is in the past")
	ErrBeyondHorizon        = errors.New("appointment time is beyond the booking horizon")
	ErrOutsideWorkingHours  = errors.New("physician is not working at that time")
)

// ValidateAppointmentTime checks the day-of-week, time-of-day and slot
// granularity rules for a single start instant. Each rule fails with its own
// sentinel so callers can show the reason to the person booking.
func (r Rules) ValidateAppointmentTime(at time.Time) error {
	local := at.In(r.loc())
	tod := timeOfDay(local)
	step := r.stepMinutes()

	switch local.Weekday() {
	case time.Sunday:
		return ErrSundayClosed
	case time.Saturday:
		if tod+step > r.SaturdayCutoff {
			return fmt.Errorf("%w: last start is %s", ErrSaturdayAfternoon, r.SaturdayCutoff-step)
		}
	}

	if tod < r.BusinessHours.Start || tod+step > r.BusinessHours.End {
		return fmt.Errorf("%w: opening hours are %s to %s",
			ErrOutsideBusinessHours, r.BusinessHours.Start, r.BusinessHours.End)
	}

	if !r.aligned(local) {
		return fmt.Errorf("%w: minutes must be one of %v", ErrSlotGranularity, r.AllowedMinutes)
	}
	return nil
}

// ValidateBooking is ValidateAppointmentTime plus the window relative to now:
// no past instants and nothing past the booking horizon.
func (r Rules) ValidateBooking(at, now time.Time) error {
	if err := r.ValidateAppointmentTime(at); err != nil {
		return err
	}
	if at.Before(now) {
		return ErrInPast
	}
	if !at.Before(r.horizon(now)) {
		return fmt.Errorf("%w: bookings are open for %d months", ErrBeyondHorizon, r.HorizonMonths)
	}
	return nil
}

// Clamp narrows a physician's hours to the clinic's business hours.
func (r Rules) Clamp(wh WorkingHours) WorkingHours {
	return WorkingHours{
		Start: max(wh.Start, r.BusinessHours.Start),
		End:   min(wh.End, r.BusinessHours.End),
	}
}

// ValidateWorkingHours checks that a slot starting at at fits inside wh.
func (r Rules) ValidateWorkingHours(wh WorkingHours, at time.Time) error {
	tod := timeOfDay(at.In(r.loc()))
	if tod < wh.Start || tod+r.stepMinutes() > wh.End {
		return fmt.Errorf("%w: hours are %s to %s", ErrOutsideWorkingHours, wh.Start, wh.End)
	}
	return nil
}

func (r Rules) aligned(local time.Time) bool {
	if local.Second() != 0 || local.Nanosecond() != 0 {
		return false
	}
	if len(r.AllowedMinutes) == 0 {
		return true
	}
	return slices.Contains(r.AllowedMinutes, local.Minute())
}

// horizon is the first local midnight that is no longer bookable.
func (r Rules) horizon(now time.Time) time.Time {
	today := startOfDay(now.In(r.loc()))
	return today.AddDate(0, r.HorizonMonths, 1)
}

func (r Rules) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Rules) stepMinutes() TimeOfDay {
	if r.Step <= 0 {
		return 1
	}
	return TimeOfDay(r.Step / time.Minute)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
