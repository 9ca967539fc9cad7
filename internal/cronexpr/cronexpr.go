// Package cronexpr implements the Quartz-style seven-field cron grammar
// (seconds minutes hours day-of-month month day-of-week [year]), including
// L, LW, W and #N day markers, and computes the next fire time after a
// given instant in a given time zone.
//
// No library in the reference corpus implements this grammar: robfig/cron
// covers a 5/6-field subset with no L/W/#N/year support, so the field
// matching engine here is hand-written. The iteration strategy mirrors the
// classic cron "walk fields smallest to largest, reset-and-restart on
// carry" approach described by the spec this package implements.
package cronexpr

import (
	"fmt"
	"time"
)

// YearMin and YearMax bound the year field, matching the specification's
// supported range.
const (
	YearMin = 1970
	YearMax = 2099
)

// CronExpression is an immutable, parsed representation of a cron string.
// It holds no time zone — callers pass the zone to Next so the same parsed
// expression can be evaluated against different zones without re-parsing.
type CronExpression struct {
	raw string

	seconds [60]bool
	minutes [60]bool
	hours   [24]bool
	months  [13]bool // index 1..12

	dom domField
	dow dowField

	years [YearMax - YearMin + 1]bool
}

type domField struct {
	question       bool
	days           [32]bool // index 1..31
	lastDay        bool
	lastWeekday    bool
	nearestWeekday map[int]bool // day -> nearest-weekday-to-day
}

type dowField struct {
	question    bool
	days        [8]bool // index 1..7, Sunday=1
	lastOfMonth map[int]bool // weekday -> "last weekday of month"
	nth         map[int]int  // weekday -> occurrence 1..5
}

// String returns the original expression text.
func (c *CronExpression) String() string { return c.raw }

// Next returns the smallest instant strictly after `after`, expressed in
// `loc`, that matches the expression, or ok=false if the expression's year
// set is exhausted with no match found. A wall-clock hour that does not
// exist on a given day (daylight-saving gap) has no match that day: the
// search goes on past the gap, so a daily 02:30 expression in such a zone
// next fires at 02:30 on the following day.
func (c *CronExpression) Next(after time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc)
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc).Add(time.Second)

	const maxIterations = 200000
	for i := 0; i < maxIterations; i++ {
		if t.Year() > YearMax {
			return time.Time{}, false
		}

		if !c.years[t.Year()-YearMin] {
			t = time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !c.months[int(t.Month())] {
			t = addMonth(t, loc)
			continue
		}
		if !c.dayMatches(t) {
			t = addDay(t, loc)
			continue
		}
		if !c.hours[t.Hour()] {
			next, rolled := nextInBool(c.hours[:], t.Hour())
			if rolled {
				t = addDay(t, loc)
			} else {
				cand := time.Date(t.Year(), t.Month(), t.Day(), next, 0, 0, 0, loc)
				if !cand.After(t) {
					// Hour `next` does not exist today (DST gap); go on
					// from the hour after it.
					cand = time.Date(t.Year(), t.Month(), t.Day(), next+1, 0, 0, 0, loc)
				}
				t = cand
			}
			continue
		}
		if !c.minutes[t.Minute()] {
			next, rolled := nextInBool(c.minutes[:], t.Minute())
			if rolled {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			} else {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), next, 0, 0, loc)
			}
			continue
		}
		if !c.seconds[t.Second()] {
			next, rolled := nextInBool(c.seconds[:], t.Second())
			if rolled {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, loc)
			} else {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), next, 0, loc)
			}
			continue
		}

		return t, true
	}
	return time.Time{}, false
}

// NextN returns up to n fire times strictly after `after`, in ascending
// order. Used for property tests and for FinalFireTime approximation.
func (c *CronExpression) NextN(after time.Time, loc *time.Location, n int) []time.Time {
	out := make([]time.Time, 0, n)
	cur := after
	for i := 0; i < n; i++ {
		next, ok := c.Next(cur, loc)
		if !ok {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

func (c *CronExpression) dayMatches(t time.Time) bool {
	domOK := c.dom.matches(t)
	dowOK := c.dow.matches(t)
	switch {
	case !c.dom.question && !c.dow.question:
		// Both concretely specified: fire only when BOTH are satisfied.
		// See the Open Question in the design notes this package implements.
		return domOK && dowOK
	case !c.dom.question:
		return domOK
	case !c.dow.question:
		return dowOK
	default:
		return false
	}
}

func (f domField) matches(t time.Time) bool {
	if f.question {
		return false
	}
	d := t.Day()
	if f.lastDay && d == lastDayOfMonth(t) {
		return true
	}
	if f.lastWeekday && d == lastWeekdayOfMonth(t) {
		return true
	}
	for base := range f.nearestWeekday {
		if d == nearestWeekday(t, base) {
			return true
		}
	}
	return d <= 31 && f.days[d]
}

func (f dowField) matches(t time.Time) bool {
	if f.question {
		return false
	}
	wd := quartzWeekday(t.Weekday())
	if f.lastOfMonth[wd] && isLastOccurrence(t) {
		return true
	}
	if n, ok := f.nth[wd]; ok && occurrenceInMonth(t) == n {
		return true
	}
	return f.days[wd]
}

// quartzWeekday maps Go's Sunday=0..Saturday=6 to Quartz's Sunday=1..Saturday=7.
func quartzWeekday(wd time.Weekday) int { return int(wd) + 1 }

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// lastWeekdayOfMonth returns the last business day (Mon-Fri) of t's month.
func lastWeekdayOfMonth(t time.Time) int {
	last := lastDayOfMonth(t)
	lastDate := time.Date(t.Year(), t.Month(), last, 0, 0, 0, 0, t.Location())
	switch lastDate.Weekday() {
	case time.Saturday:
		return last - 1
	case time.Sunday:
		return last - 2
	default:
		return last
	}
}

// nearestWeekday returns the weekday nearest to `day` within the same
// month as t (never crossing a month boundary).
func nearestWeekday(t time.Time, day int) int {
	daysInMonth := lastDayOfMonth(t)
	if day < 1 {
		day = 1
	}
	if day > daysInMonth {
		day = daysInMonth
	}
	d := time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, t.Location())
	switch d.Weekday() {
	case time.Saturday:
		if day == 1 {
			return day + 2
		}
		return day - 1
	case time.Sunday:
		if day == daysInMonth {
			return day - 2
		}
		return day + 1
	default:
		return day
	}
}

func occurrenceInMonth(t time.Time) int { return (t.Day()-1)/7 + 1 }

func isLastOccurrence(t time.Time) bool { return t.Day()+7 > lastDayOfMonth(t) }

// nextInBool returns the smallest index >= cur that is true, or, if none
// exists, the smallest true index overall with rolled=true.
func nextInBool(set []bool, cur int) (value int, rolled bool) {
	for i := cur; i < len(set); i++ {
		if set[i] {
			return i, false
		}
	}
	for i := 0; i < len(set); i++ {
		if set[i] {
			return i, true
		}
	}
	return 0, true
}

func addDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}

func addMonth(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
}

// Describe returns a short human-readable summary, useful for logging.
func (c *CronExpression) Describe() string {
	return fmt.Sprintf("cron(%s)", c.raw)
}
