package schedule

import (
	"iter"
	"time"
)

type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Calculator struct {
	rules Rules
	now   func() time.Time
}

func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules, now: time.Now}
}

// WithClock returns a copy of c that reads the current time from now.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	cp := *c
	cp.now = now
	return &cp
}

func (c *Calculator) Rules() Rules { return c.rules }

// GenerateAvailableSlots yields the free slots of one physician between the
// calendar dates of startDate and endDate, both inclusive. A slot is dropped
// when an existing appointment starts at the same instant, when it starts
// before now, or when its day is past the booking horizon. Sundays yield
// nothing and Saturdays stop at the morning cutoff.
//
// The sequence is lazy and can be ranged over any number of times; "now" is
// read once per iteration.
func (c *Calculator) GenerateAvailableSlots(wh WorkingHours, existing []time.Time, startDate, endDate time.Time) iter.Seq[Slot] {
	taken := make(map[int64]struct{}, len(existing))
	for _, at := range existing {
		taken[at.Unix()] = struct{}{}
	}

	loc := c.rules.loc()
	first := startOfDay(startDate.In(loc))
	last := startOfDay(endDate.In(loc))
	step := c.rules.Step
	if step <= 0 {
		step = 20 * time.Minute
	}

	return func(yield func(Slot) bool) {
		now := c.now().In(loc)
		end := last
		if limit := c.rules.horizon(now); !end.Before(limit) {
			end = limit.AddDate(0, 0, -1)
		}

		for day := first; !day.After(end); day = day.AddDate(0, 0, 1) {
			from, until, open := c.window(day, wh)
			if !open {
				continue
			}
			for start := from; !start.Add(step).After(until); start = start.Add(step) {
				if start.Before(now) || !c.rules.aligned(start) {
					continue
				}
				if _, busy := taken[start.Unix()]; busy {
					continue
				}
				if !yield(Slot{Start: start, End: start.Add(step)}) {
					return
				}
			}
		}
	}
}

// window is the bookable span of one day for the given working hours.
func (c *Calculator) window(day time.Time, wh WorkingHours) (from, until time.Time, open bool) {
	start, end := wh.Start, wh.End
	switch day.Weekday() {
	case time.Sunday:
		return time.Time{}, time.Time{}, false
	case time.Saturday:
		end = min(end, c.rules.SaturdayCutoff)
	}
	if end <= start {
		return time.Time{}, time.Time{}, false
	}
	return start.on(day), end.on(day), true
}
