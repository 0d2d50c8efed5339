// Package hours answers whether a location is open at a given instant.
package hours

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Source interface {
	LocationHours(ctx context.Context, locationID string) (Schedule, error)
}

// Slot is a local "HH:MM" range. A close earlier than open runs past midnight.
type Slot struct {
	Open  string `json:"open" yaml:"open"`
	Close string `json:"close" yaml:"close"`
}

// Schedule is the opening-hours document stored per location. The zero value
// is always open.
type Schedule struct {
	Timezone    string            `json:"timezone" yaml:"timezone"`
	Weekly      map[string][]Slot `json:"weekly" yaml:"weekly"`
	ClosedDates []string          `json:"closed_dates" yaml:"closed_dates"`
}

var weekdayKeys = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func Parse(raw []byte) (Schedule, error) {
	var schedule Schedule
	if len(raw) == 0 {
		return schedule, nil
	}
	if err := json.Unmarshal(raw, &schedule); err != nil {
		return Schedule{}, fmt.Errorf("parse hours: %w", err)
	}
	for day, slots := range schedule.Weekly {
		if !validDay(day) {
			return Schedule{}, fmt.Errorf("parse hours: unknown day %q", day)
		}
		for _, slot := range slots {
			if _, err := minuteOfDay(slot.Open); err != nil {
				return Schedule{}, err
			}
			if _, err := minuteOfDay(slot.Close); err != nil {
				return Schedule{}, err
			}
		}
	}
	return schedule, nil
}

func (s Schedule) Empty() bool {
	return len(s.Weekly) == 0 && len(s.ClosedDates) == 0
}

func (s Schedule) IsOpen(at time.Time) (bool, error) {
	if s.Empty() {
		return true, nil
	}
	loc := time.UTC
	if s.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(s.Timezone)
		if err != nil {
			return false, fmt.Errorf("hours timezone: %w", err)
		}
	}
	local := at.In(loc)
	if s.closedOn(local) {
		return false, nil
	}
	if len(s.Weekly) == 0 {
		return true, nil
	}
	minute := local.Hour()*60 + local.Minute()
	today := weekdayKeys[local.Weekday()]
	for _, slot := range s.Weekly[today] {
		open, _ := minuteOfDay(slot.Open)
		closing, _ := minuteOfDay(slot.Close)
		if closing > open && minute >= open && minute < closing {
			return true, nil
		}
		if closing <= open && minute >= open {
			return true, nil
		}
	}
	yesterday := weekdayKeys[(local.Weekday()+6)%7]
	for _, slot := range s.Weekly[yesterday] {
		open, _ := minuteOfDay(slot.Open)
		closing, _ := minuteOfDay(slot.Close)
		if closing <= open && minute < closing {
			return true, nil
		}
	}
	return false, nil
}

func (s Schedule) closedOn(local time.Time) bool {
	date := local.Format("2006-01-02")
	for _, closed := range s.ClosedDates {
		if closed == date {
			return true
		}
	}
	return false
}

func validDay(day string) bool {
	for _, key := range weekdayKeys {
		if key == day {
			return true
		}
	}
	return false
}

func minuteOfDay(value string) (int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("parse hours: bad time %q", value)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil {
		return 0, fmt.Errorf("parse hours: bad time %q", value)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("parse hours: bad time %q", value)
	}
	return h*60 + m, nil
}
