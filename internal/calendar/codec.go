package calendar

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags which concrete Calendar a Snapshot holds, so a persistence
// layer can round-trip a Calendar without type-asserting against every
// concrete type itself.
type Kind string

const (
	KindHoliday Kind = "holiday"
	KindDaily   Kind = "daily"
)

// Snapshot is the serializable form of a single calendar in a chain. Base
// is encoded by the caller storing each link under its own name and
// recording the name it wraps, since Calendar chains are graphs of
// independently-registered calendars rather than a single composite value.
type Snapshot struct {
	Kind     Kind
	Location string
	Payload  []byte
}

type holidayPayload struct {
	Holidays []string `json:"holidays"` // RFC3339 dates, midnight in Location
}

type dailyPayload struct {
	StartMin int  `json:"start_min"`
	EndMin   int  `json:"end_min"`
	Invert   bool `json:"invert"`
}

// Encode captures everything needed to reconstruct c except the base
// calendar it chains onto (the caller resolves that by name).
func Encode(c Calendar) (Snapshot, error) {
	switch cal := c.(type) {
	case *HolidayCalendar:
		dates := cal.Holidays()
		hp := holidayPayload{Holidays: make([]string, len(dates))}
		for i, d := range dates {
			hp.Holidays[i] = d.Format(time.RFC3339)
		}
		payload, err := json.Marshal(hp)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Kind: KindHoliday, Location: cal.Location().String(), Payload: payload}, nil
	case *DailyCalendar:
		startMin, endMin, invert := cal.Window()
		payload, err := json.Marshal(dailyPayload{StartMin: startMin, EndMin: endMin, Invert: invert})
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Kind: KindDaily, Location: cal.Location().String(), Payload: payload}, nil
	default:
		return Snapshot{}, fmt.Errorf("calendar: unsupported concrete type %T for persistence", c)
	}
}

// Decode reconstructs a Calendar from a Snapshot, chaining it onto base
// (which may be nil).
func Decode(snap Snapshot, base Calendar) (Calendar, error) {
	loc, err := time.LoadLocation(snap.Location)
	if err != nil {
		loc = time.UTC
	}
	switch snap.Kind {
	case KindHoliday:
		var hp holidayPayload
		if err := json.Unmarshal(snap.Payload, &hp); err != nil {
			return nil, err
		}
		cal := NewHolidayCalendar(loc, base)
		for _, s := range hp.Holidays {
			d, err := time.Parse(time.RFC3339, s)
			if err != nil {
				continue
			}
			cal.AddHoliday(d)
		}
		return cal, nil
	case KindDaily:
		var dp dailyPayload
		if err := json.Unmarshal(snap.Payload, &dp); err != nil {
			return nil, err
		}
		return NewDailyCalendar(loc, dp.StartMin, dp.EndMin, dp.Invert, base), nil
	default:
		return nil, fmt.Errorf("calendar: unknown kind %q", snap.Kind)
	}
}
