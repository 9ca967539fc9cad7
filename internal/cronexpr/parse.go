package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed cron expression at a field position
// (0-indexed: seconds, minutes, hours, day-of-month, month, day-of-week,
// year).
type ParseError struct {
	Position int
	Message  string
}

func (e *ParseError) Error() string {
	return "cron: field " + strconv.Itoa(e.Position) + ": " + e.Message
}

// ErrUnsupportedCombination is returned when both day-of-month and
// day-of-week are "?" — neither constrains the day, which this
// implementation treats as degenerate rather than "every day", since
// Quartz-derived tooling never produces it and its intended meaning is
// undocumented.
type ErrUnsupportedCombination struct{ Reason string }

func (e *ErrUnsupportedCombination) Error() string {
	return "cron: unsupported combination: " + e.Reason
}

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dowNames = map[string]int{
	"SUN": 1, "MON": 2, "TUE": 3, "WED": 4, "THU": 5, "FRI": 6, "SAT": 7,
}

// Parse parses a canonical "seconds minutes hours day-of-month month
// day-of-week [year]" cron expression.
func Parse(expression string) (*CronExpression, error) {
	raw := strings.TrimSpace(expression)
	fields := strings.Fields(raw)
	if len(fields) != 6 && len(fields) != 7 {
		return nil, &ParseError{Position: 0, Message: "expected 6 or 7 fields, got " + strconv.Itoa(len(fields))}
	}

	c := &CronExpression{raw: raw}

	if err := parseNumericField(fields[0], c.seconds[:], 0, 59, nil); err != nil {
		return nil, &ParseError{Position: 0, Message: err.Error()}
	}
	if err := parseNumericField(fields[1], c.minutes[:], 0, 59, nil); err != nil {
		return nil, &ParseError{Position: 1, Message: err.Error()}
	}
	if err := parseHours(fields[2], &c.hours); err != nil {
		return nil, &ParseError{Position: 2, Message: err.Error()}
	}
	dom, err := parseDom(fields[3])
	if err != nil {
		return nil, &ParseError{Position: 3, Message: err.Error()}
	}
	c.dom = dom
	if err := parseMonths(fields[4], &c.months); err != nil {
		return nil, &ParseError{Position: 4, Message: err.Error()}
	}
	dow, err := parseDow(fields[5])
	if err != nil {
		return nil, &ParseError{Position: 5, Message: err.Error()}
	}
	c.dow = dow

	if c.dom.question && c.dow.question {
		return nil, &ErrUnsupportedCombination{Reason: "day-of-month and day-of-week cannot both be '?'"}
	}

	if len(fields) == 7 {
		if err := parseYears(fields[6], &c.years); err != nil {
			return nil, &ParseError{Position: 6, Message: err.Error()}
		}
	} else {
		for i := range c.years {
			c.years[i] = true
		}
	}

	return c, nil
}

// parseNumericField fills `dst` (indexed 0..max, with `min` as the
// minimum allowed value) from a comma-separated list of "*", "N",
// "N-M", "N/S", "*/S", "N-M/S" terms.
func parseNumericField(s string, dst []bool, min, max int, names map[string]int) error {
	for _, term := range strings.Split(s, ",") {
		if term == "" {
			return errMsg("empty term")
		}
		if err := applyTerm(term, dst, min, max, names); err != nil {
			return err
		}
	}
	return nil
}

func applyTerm(term string, dst []bool, min, max int, names map[string]int) error {
	base := term
	step := 1
	hasStep := false
	if idx := strings.IndexByte(term, '/'); idx >= 0 {
		base = term[:idx]
		s, err := strconv.Atoi(term[idx+1:])
		if err != nil || s < 1 {
			return errMsg("invalid step in %q", term)
		}
		step = s
		hasStep = true
	}

	var lo, hi int
	switch {
	case base == "*":
		lo, hi = min, max
	case strings.Contains(base, "-"):
		parts := strings.SplitN(base, "-", 2)
		l, err := resolveValue(parts[0], names)
		if err != nil {
			return err
		}
		h, err := resolveValue(parts[1], names)
		if err != nil {
			return err
		}
		lo, hi = l, h
	default:
		v, err := resolveValue(base, names)
		if err != nil {
			return err
		}
		if hasStep {
			lo, hi = v, max
		} else {
			lo, hi = v, v
		}
	}

	if lo < min || hi > max || lo > hi {
		return errMsg("value out of range in %q (allowed %d-%d)", term, min, max)
	}

	for i := lo; i <= hi; i += step {
		dst[i] = true
	}
	return nil
}

func resolveValue(tok string, names map[string]int) (int, error) {
	up := strings.ToUpper(strings.TrimSpace(tok))
	if names != nil {
		if v, ok := names[up]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, errMsg("invalid value %q", tok)
	}
	return v, nil
}

func parseHours(s string, hours *[24]bool) error {
	return parseNumericField(s, hours[:], 0, 23, nil)
}

func parseMonths(s string, months *[13]bool) error {
	// months is 1-indexed, so min=1.
	return parseNumericField(s, months[:], 1, 12, monthNames)
}

func parseYears(s string, years *[YearMax - YearMin + 1]bool) error {
	tmp := make([]bool, YearMax-YearMin+1)
	for _, term := range strings.Split(s, ",") {
		if term == "" {
			return errMsg("empty term")
		}
		base := term
		step := 1
		if idx := strings.IndexByte(term, '/'); idx >= 0 {
			base = term[:idx]
			st, err := strconv.Atoi(term[idx+1:])
			if err != nil || st < 1 {
				return errMsg("invalid step in %q", term)
			}
			step = st
		}
		var lo, hi int
		switch {
		case base == "*":
			lo, hi = YearMin, YearMax
		case strings.Contains(base, "-"):
			parts := strings.SplitN(base, "-", 2)
			l, err := strconv.Atoi(parts[0])
			if err != nil {
				return errMsg("invalid year %q", parts[0])
			}
			h, err := strconv.Atoi(parts[1])
			if err != nil {
				return errMsg("invalid year %q", parts[1])
			}
			lo, hi = l, h
		default:
			v, err := strconv.Atoi(base)
			if err != nil {
				return errMsg("invalid year %q", base)
			}
			lo, hi = v, v
		}
		if lo < YearMin || hi > YearMax || lo > hi {
			return errMsg("year out of range in %q (allowed %d-%d)", term, YearMin, YearMax)
		}
		for i := lo; i <= hi; i += step {
			tmp[i-YearMin] = true
		}
	}
	copy(years[:], tmp)
	return nil
}

func parseDom(s string) (domField, error) {
	f := domField{nearestWeekday: map[int]bool{}}
	if s == "?" {
		f.question = true
		return f, nil
	}
	if s == "L" {
		f.lastDay = true
		return f, nil
	}
	if s == "LW" {
		f.lastWeekday = true
		return f, nil
	}

	for _, term := range strings.Split(s, ",") {
		switch {
		case term == "":
			return f, errMsg("empty term")
		case term == "L":
			f.lastDay = true
		case term == "LW":
			f.lastWeekday = true
		case strings.HasSuffix(term, "W"):
			day, err := strconv.Atoi(strings.TrimSuffix(term, "W"))
			if err != nil || day < 1 || day > 31 {
				return f, errMsg("invalid nearest-weekday term %q", term)
			}
			f.nearestWeekday[day] = true
		default:
			if err := applyTerm(term, f.days[:], 1, 31, nil); err != nil {
				return f, err
			}
		}
	}
	return f, nil
}

func parseDow(s string) (dowField, error) {
	f := dowField{lastOfMonth: map[int]bool{}, nth: map[int]int{}}
	if s == "?" {
		f.question = true
		return f, nil
	}

	for _, term := range strings.Split(s, ",") {
		switch {
		case term == "":
			return f, errMsg("empty term")
		case strings.HasSuffix(term, "L") && !strings.Contains(term, "-") && !strings.Contains(term, "/"):
			base := strings.TrimSuffix(term, "L")
			wd, err := resolveValue(base, dowNames)
			if err != nil || wd < 1 || wd > 7 {
				return f, errMsg("invalid last-weekday term %q", term)
			}
			f.lastOfMonth[wd] = true
		case strings.Contains(term, "#"):
			parts := strings.SplitN(term, "#", 2)
			wd, err := resolveValue(parts[0], dowNames)
			if err != nil || wd < 1 || wd > 7 {
				return f, errMsg("invalid nth-weekday term %q", term)
			}
			n, err := strconv.Atoi(parts[1])
			if err != nil || n < 1 || n > 5 {
				return f, errMsg("invalid occurrence in %q (must be 1-5)", term)
			}
			f.nth[wd] = n
		default:
			if err := applyTerm(term, f.days[:], 1, 7, dowNames); err != nil {
				return f, err
			}
		}
	}
	return f, nil
}

func errMsg(format string, args ...interface{}) error {
	return &fieldError{msg: fmt.Sprintf(format, args...)}
}

type fieldError struct{ msg string }

func (e *fieldError) Error() string { return e.msg }
