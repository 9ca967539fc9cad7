package postgres

import (
	"database/sql"
	"time"

	"github.com/djlord-it/quartzcore/internal/cronexpr"
	"github.com/djlord-it/quartzcore/internal/schederr"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

// rowScanner is implemented by both *sql.Row and *sql.Rows, letting
// scanTriggerRow serve single-row lookups and multi-row listings alike.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTriggerRow reconstructs a Trigger from a row selected with
// triggerColumns + ", acquired_at, misfiring", in that order. It also
// returns the acquisition lease and misfire-scan marker, which the
// Registry contract keeps alongside the trigger but outside Trigger
// itself.
func scanTriggerRow(row rowScanner) (*trigger.Trigger, *time.Time, bool, error) {
	var t trigger.Trigger
	var kind, state, misfireInstr int
	var endTime, prevFire, nextFire, acquiredAt sql.NullTime
	var cronExpr, cronLoc string
	var data []byte
	var misfiring bool

	err := row.Scan(
		&t.Key.Name, &t.Key.Group, &t.JobKey.Name, &t.JobKey.Group,
		&kind, &state, &t.Priority,
		&t.StartTime, &endTime, &prevFire, &nextFire, &misfireInstr,
		&t.CalendarName, &t.Simple.RepeatCount, &t.Simple.RepeatInterval,
		new(int), &cronExpr, &cronLoc, &data,
		&acquiredAt, &misfiring,
	)
	if err != nil {
		return nil, nil, false, err
	}

	t.Kind = trigger.Kind(kind)
	t.State = trigger.State(state)
	t.MisfireInstruction = trigger.MisfireInstruction(misfireInstr)
	if endTime.Valid {
		v := endTime.Time
		t.EndTime = &v
	}
	if prevFire.Valid {
		v := prevFire.Time
		t.PreviousFireTime = &v
	}
	if nextFire.Valid {
		v := nextFire.Time
		t.NextFireTime = &v
	}
	if t.Kind == trigger.KindCron && cronExpr != "" {
		loc, err := time.LoadLocation(cronLoc)
		if err != nil {
			loc = time.UTC
		}
		expr, err := cronexpr.Parse(cronExpr)
		if err != nil {
			return nil, nil, false, &schederr.JobPersistenceError{Op: "scan_trigger", Err: err}
		}
		t.Cron = trigger.CronSpec{Expression: expr, ExpressionText: cronExpr, Location: loc}
	}
	t.Data, err = unmarshalData(data)
	if err != nil {
		return nil, nil, false, err
	}

	var lease *time.Time
	if acquiredAt.Valid {
		v := acquiredAt.Time
		lease = &v
	}
	return &t, lease, misfiring, nil
}
