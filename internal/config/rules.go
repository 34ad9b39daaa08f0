package config

import (
	"fmt"
	"time"

	"github.com/hackgods/appointment-replication/internal/schedule"
)

// ScheduleRules builds the clinic calendar from the CLINIC_TIMEZONE,
// WORKDAY_*, SATURDAY_CUTOFF, SLOT_STEP and BOOKING_HORIZON_MONTHS settings.
func (c Config) ScheduleRules() (schedule.Rules, error) {
	rules := schedule.DefaultRules()

	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return schedule.Rules{}, fmt.Errorf("invalid CLINIC_TIMEZONE: %w", err)
	}
	rules.Location = loc

	hours, err := schedule.ParseWorkingHours(c.WorkdayStart, c.WorkdayEnd)
	if err != nil {
		return schedule.Rules{}, fmt.Errorf("invalid WORKDAY_START/WORKDAY_END: %w", err)
	}
	rules.BusinessHours = hours

	cutoff, err := schedule.ParseTimeOfDay(c.SaturdayCutoff)
	if err != nil {
		return schedule.Rules{}, fmt.Errorf("invalid SATURDAY_CUTOFF: %w", err)
	}
	rules.SaturdayCutoff = cutoff

	if c.SlotStep > 0 {
		if c.SlotStep%time.Minute != 0 || time.Hour%c.SlotStep != 0 {
			return schedule.Rules{}, fmt.Errorf("invalid SLOT_STEP %s: must be whole minutes dividing an hour", c.SlotStep)
		}
		rules.Step = c.SlotStep
		rules.AllowedMinutes = nil
		for m := time.Duration(0); m < time.Hour; m += c.SlotStep {
			rules.AllowedMinutes = append(rules.AllowedMinutes, int(m/time.Minute))
		}
	}
	if c.BookingHorizonMonths > 0 {
		rules.HorizonMonths = c.BookingHorizonMonths
	}

	return rules, nil
}
