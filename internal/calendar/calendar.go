// Package calendar implements inclusion/exclusion filters over instants —
// holidays, blackout windows, daily maintenance windows — that a trigger
// consults when computing its next fire time. A calendar never itself
// produces fire times; it only answers whether a given instant is excluded.
package calendar

import "time"

// Calendar reports whether an instant is excluded from firing, and can be
// chained onto a base calendar so exclusions compose.
type Calendar interface {
	// IsTimeIncluded reports whether t is NOT excluded by this calendar or
	// any calendar it wraps.
	IsTimeIncluded(t time.Time) bool

	// NextIncludedTime returns the smallest instant >= t that is included,
	// walking forward past exclusions.
	NextIncludedTime(t time.Time) time.Time

	// Description is a short human-readable label, useful for logging and
	// introspection endpoints.
	Description() string
}

// BaseCalendar is embedded by concrete calendars to support chaining: a
// calendar excludes an instant if it excludes it directly, or if its base
// calendar excludes it. Matches the source's delegation-to-base-calendar
// pattern without an inheritance hierarchy — base is just another Calendar.
type BaseCalendar struct {
	base  Calendar
	label string
}

// NewBaseCalendar constructs a BaseCalendar with an optional wrapped
// calendar (nil means "no base, include everything not otherwise excluded").
func NewBaseCalendar(base Calendar, label string) BaseCalendar {
	return BaseCalendar{base: base, label: label}
}

func (b BaseCalendar) includedByBase(t time.Time) bool {
	if b.base == nil {
		return true
	}
	return b.base.IsTimeIncluded(t)
}

func (b BaseCalendar) nextIncludedByBase(t time.Time) time.Time {
	if b.base == nil {
		return t
	}
	return b.base.NextIncludedTime(t)
}

func (b BaseCalendar) Description() string { return b.label }

// HolidayCalendar excludes a fixed set of whole calendar days (identified by
// year/month/day in a given zone), such as public holidays.
type HolidayCalendar struct {
	BaseCalendar
	loc      *time.Location
	holidays map[civilDate]bool
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

// NewHolidayCalendar creates a HolidayCalendar evaluated in loc, optionally
// wrapping a base calendar whose exclusions also apply.
func NewHolidayCalendar(loc *time.Location, base Calendar) *HolidayCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &HolidayCalendar{
		BaseCalendar: NewBaseCalendar(base, "holiday"),
		loc:          loc,
		holidays:     make(map[civilDate]bool),
	}
}

// Base returns the calendar this one chains onto, or nil.
func (h *HolidayCalendar) Base() Calendar { return h.base }

// Location returns the zone holidays are evaluated in.
func (h *HolidayCalendar) Location() *time.Location { return h.loc }

// Holidays returns the excluded civil days as midnight instants in Location.
func (h *HolidayCalendar) Holidays() []time.Time {
	out := make([]time.Time, 0, len(h.holidays))
	for d := range h.holidays {
		out = append(out, time.Date(d.year, d.month, d.day, 0, 0, 0, 0, h.loc))
	}
	return out
}

// AddHoliday excludes the whole civil day containing d.
func (h *HolidayCalendar) AddHoliday(d time.Time) {
	d = d.In(h.loc)
	h.holidays[civilDate{d.Year(), d.Month(), d.Day()}] = true
}

// RemoveHoliday stops excluding the civil day containing d.
func (h *HolidayCalendar) RemoveHoliday(d time.Time) {
	d = d.In(h.loc)
	delete(h.holidays, civilDate{d.Year(), d.Month(), d.Day()})
}

func (h *HolidayCalendar) IsTimeIncluded(t time.Time) bool {
	if !h.includedByBase(t) {
		return false
	}
	c := t.In(h.loc)
	return !h.holidays[civilDate{c.Year(), c.Month(), c.Day()}]
}

func (h *HolidayCalendar) NextIncludedTime(t time.Time) time.Time {
	t = h.nextIncludedByBase(t)
	for !h.IsTimeIncluded(t) {
		c := t.In(h.loc)
		t = time.Date(c.Year(), c.Month(), c.Day()+1, 0, 0, 0, 0, h.loc)
	}
	return t
}

// DailyCalendar excludes a fixed time-of-day window every day (e.g. a
// nightly maintenance window from 02:00 to 02:30), evaluated in loc.
type DailyCalendar struct {
	BaseCalendar
	loc                  *time.Location
	startMin, endMin     int // minutes since midnight, inclusive..exclusive
	invertExcludeOutside bool
}

// NewDailyCalendar excludes the window [startMin, endMin) minutes-since-
// midnight every day. If invertExcludeOutside is true, the meaning flips:
// everything OUTSIDE the window is excluded instead (useful for modeling a
// narrow "business hours" inclusion window).
func NewDailyCalendar(loc *time.Location, startMin, endMin int, invertExcludeOutside bool, base Calendar) *DailyCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyCalendar{
		BaseCalendar:         NewBaseCalendar(base, "daily"),
		loc:                  loc,
		startMin:             startMin,
		endMin:               endMin,
		invertExcludeOutside: invertExcludeOutside,
	}
}

// Base returns the calendar this one chains onto, or nil.
func (d *DailyCalendar) Base() Calendar { return d.base }

// Location returns the zone the daily window is evaluated in.
func (d *DailyCalendar) Location() *time.Location { return d.loc }

// Window returns the excluded (or, if invert, included) minutes-since-
// midnight range.
func (d *DailyCalendar) Window() (startMin, endMin int, invert bool) {
	return d.startMin, d.endMin, d.invertExcludeOutside
}

func (d *DailyCalendar) minutesOfDay(t time.Time) int {
	c := t.In(d.loc)
	return c.Hour()*60 + c.Minute()
}

func (d *DailyCalendar) inWindow(t time.Time) bool {
	m := d.minutesOfDay(t)
	return m >= d.startMin && m < d.endMin
}

func (d *DailyCalendar) IsTimeIncluded(t time.Time) bool {
	if !d.includedByBase(t) {
		return false
	}
	if d.invertExcludeOutside {
		return d.inWindow(t)
	}
	return !d.inWindow(t)
}

func (d *DailyCalendar) NextIncludedTime(t time.Time) time.Time {
	t = d.nextIncludedByBase(t)
	// The window recurs at most once per day, so one day of linear
	// minute-stepping always terminates.
	for i := 0; i < 24*60+1; i++ {
		if d.IsTimeIncluded(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return t
}
