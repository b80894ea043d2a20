package domain

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleFrequency is how often an active rule runs.
type ScheduleFrequency string

const (
	FrequencyRealtime ScheduleFrequency = "realtime"
	FrequencyHourly   ScheduleFrequency = "hourly"
	FrequencyDaily    ScheduleFrequency = "daily"
	FrequencyWeekly   ScheduleFrequency = "weekly"
)

// Schedule describes when the external scheduler should trigger a rule.
type Schedule struct {
	Frequency ScheduleFrequency `json:"frequency"`

	// SpecificTime is HH:mm for daily and weekly schedules.
	SpecificTime string `json:"specificTime,omitempty"`

	// WeekDays uses 0 = Sunday.
	WeekDays []int `json:"weekDays,omitempty"`
}

// Validate checks frequency, time of day and weekday set.
func (s Schedule) Validate() error {
	switch s.Frequency {
	case FrequencyRealtime, FrequencyHourly, FrequencyDaily:
	case FrequencyWeekly:
		if len(s.WeekDays) == 0 {
			return errors.New("weekly schedule needs at least one weekday")
		}
	default:
		return fmt.Errorf("unknown schedule frequency %q", s.Frequency)
	}
	for _, d := range s.WeekDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("weekday %d out of range 0-6", d)
		}
	}
	if s.SpecificTime != "" {
		if _, _, err := s.clock(); err != nil {
			return err
		}
	}
	return nil
}

func (s Schedule) clock() (int, int, error) {
	if s.SpecificTime == "" {
		return 0, 0, nil
	}
	t, err := time.Parse("15:04", s.SpecificTime)
	if err != nil {
		return 0, 0, fmt.Errorf("specificTime must be HH:mm: %w", err)
	}
	return t.Hour(), t.Minute(), nil
}

// Next returns the first run time strictly after from. Realtime schedules are always due.
func (s Schedule) Next(from time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}

	switch s.Frequency {
	case FrequencyRealtime:
		return from, nil
	case FrequencyHourly:
		return from.Truncate(time.Hour).Add(time.Hour), nil
	}

	hour, minute, _ := s.clock()
	day := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
	if !day.After(from) {
		day = day.AddDate(0, 0, 1)
	}

	if s.Frequency == FrequencyDaily {
		return day, nil
	}

	allowed := make(map[time.Weekday]bool, len(s.WeekDays))
	for _, d := range s.WeekDays {
		allowed[time.Weekday(d)] = true
	}
	for i := 0; i < 7; i++ {
		if allowed[day.Weekday()] {
			return day, nil
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, errors.New("no weekday matched")
}

// Due reports whether a rule last run at last should run again at now.
func (s Schedule) Due(last *time.Time, now time.Time) bool {
	if last == nil || s.Frequency == FrequencyRealtime {
		return true
	}
	next, err := s.Next(*last)
	if err != nil {
		return false
	}
	return !next.After(now)
}
