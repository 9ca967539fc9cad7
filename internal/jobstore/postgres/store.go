// Package postgres implements jobstore.Registry against PostgreSQL via
// lib/pq, so a scheduler survives process restarts without losing job and
// trigger state. Acquisition uses SELECT ... FOR UPDATE SKIP LOCKED so
// multiple scheduler nodes sharing one database never block each other
// waiting on rows a sibling already grabbed.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/djlord-it/quartzcore/internal/calendar"
	"github.com/djlord-it/quartzcore/internal/jobstore"
	"github.com/djlord-it/quartzcore/internal/schederr"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

// Store implements jobstore.Registry against a PostgreSQL database.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// New creates a Store over db. clock defaults to time.Now when nil,
// overridable in tests.
func New(db *sql.DB, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, clock: clock}
}

// Migrate creates the schema if it does not already exist. Safe to call on
// every process start.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	return err
}

var _ jobstore.Registry = (*Store)(nil)

func (s *Store) StoreJob(detail trigger.JobDetail, replace bool) error {
	ctx := context.Background()
	data, err := marshalData(detail.Data)
	if err != nil {
		return err
	}

	query := queryInsertJob
	if replace {
		query = queryUpsertJob
	}
	_, err = s.db.ExecContext(ctx, query,
		detail.Key.Name, detail.Key.Group, detail.JobClass,
		detail.Durable, detail.Stateful, detail.Volatile, data)
	if err != nil {
		if isDuplicateKeyError(err) {
			return &schederr.ObjectAlreadyExists{Kind: "job", Name: detail.Key.Name, Group: detail.Key.Group}
		}
		return &schederr.JobPersistenceError{Op: "store_job", Err: err}
	}
	return nil
}

func (s *Store) StoreTrigger(t *trigger.Trigger, replace bool) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "store_trigger", Err: err}
	}
	defer tx.Rollback()

	if err := s.storeTriggerTx(ctx, tx, t, replace); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &schederr.JobPersistenceError{Op: "store_trigger", Err: err}
	}
	return nil
}

func (s *Store) storeTriggerTx(ctx context.Context, tx *sql.Tx, t *trigger.Trigger, replace bool) error {
	var exists int
	err := tx.QueryRowContext(ctx, queryGetJobForUpdate, t.JobKey.Group, t.JobKey.Name).Scan(
		new(string), new(string), new(string), new(bool), new(bool), new(bool), new([]byte))
	if err == sql.ErrNoRows {
		return &schederr.ObjectNotFound{Kind: "job", Name: t.JobKey.Name, Group: t.JobKey.Group}
	}
	if err != nil {
		return &schederr.JobPersistenceError{Op: "store_trigger", Err: err}
	}

	err = tx.QueryRowContext(ctx, "SELECT 1 FROM scheduler_triggers WHERE trigger_group = $1 AND trigger_name = $2",
		t.Key.Group, t.Key.Name).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		// no existing trigger, fine
	case err != nil:
		return &schederr.JobPersistenceError{Op: "store_trigger", Err: err}
	case !replace:
		return &schederr.ObjectAlreadyExists{Kind: "trigger", Name: t.Key.Name, Group: t.Key.Group}
	default:
		if _, err := tx.ExecContext(ctx, queryDeleteTriggerByKey, t.Key.Group, t.Key.Name); err != nil {
			return &schederr.JobPersistenceError{Op: "store_trigger", Err: err}
		}
	}

	clone := t.Clone()
	if clone.NextFireTime == nil {
		cal, err := s.loadCalendarTx(ctx, tx, clone.CalendarName)
		if err != nil {
			return err
		}
		clone.ComputeFirstFireTime(cal)
	}
	paused, err := s.groupPausedTx(ctx, tx, clone.Key.Group)
	if err != nil {
		return err
	}
	switch {
	case clone.NextFireTime == nil:
		clone.State = trigger.StateComplete
	case paused:
		clone.State = trigger.StatePaused
	default:
		clone.State = trigger.StateNormal
	}

	data, err := marshalData(clone.Data)
	if err != nil {
		return err
	}
	var cronLoc string
	if clone.Kind == trigger.KindCron && clone.Cron.Location != nil {
		cronLoc = clone.Cron.Location.String()
	}
	_, err = tx.ExecContext(ctx, queryInsertTrigger,
		clone.Key.Name, clone.Key.Group, clone.JobKey.Name, clone.JobKey.Group,
		int(clone.Kind), int(clone.State), clone.Priority,
		clone.StartTime, nullableTime(clone.EndTime), nullableTime(clone.PreviousFireTime), nullableTime(clone.NextFireTime),
		int(clone.MisfireInstruction), clone.CalendarName,
		clone.Simple.RepeatCount, int64(clone.Simple.RepeatInterval), clone.TimesTriggered(),
		clone.Cron.ExpressionText, cronLoc, data)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "store_trigger", Err: err}
	}
	return nil
}

func (s *Store) groupPausedTx(ctx context.Context, tx *sql.Tx, group string) (bool, error) {
	var pauseAll bool
	if err := tx.QueryRowContext(ctx, queryGetPauseAll).Scan(&pauseAll); err != nil {
		return false, &schederr.JobPersistenceError{Op: "group_paused", Err: err}
	}
	if pauseAll {
		return true, nil
	}
	var paused bool
	if err := tx.QueryRowContext(ctx, queryIsGroupPaused, group).Scan(&paused); err != nil {
		return false, &schederr.JobPersistenceError{Op: "group_paused", Err: err}
	}
	return paused, nil
}

func (s *Store) RemoveJob(key trigger.JobKey) (bool, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_job", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM scheduler_triggers WHERE job_group = $1 AND job_name = $2", key.Group, key.Name); err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_job", Err: err}
	}

	result, err := tx.ExecContext(ctx, queryDeleteJob, key.Group, key.Name)
	if err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_job", Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_job", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_job", Err: err}
	}
	return n > 0, nil
}

func (s *Store) RemoveTrigger(key trigger.TriggerKey) (bool, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_trigger", Err: err}
	}
	defer tx.Rollback()

	ok, err := s.removeTriggerTx(ctx, tx, key)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_trigger", Err: err}
	}
	return ok, nil
}

func (s *Store) removeTriggerTx(ctx context.Context, tx *sql.Tx, key trigger.TriggerKey) (bool, error) {
	var jobGroup, jobName string
	err := tx.QueryRowContext(ctx, "SELECT job_group, job_name FROM scheduler_triggers WHERE trigger_group = $1 AND trigger_name = $2 FOR UPDATE",
		key.Group, key.Name).Scan(&jobGroup, &jobName)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_trigger", Err: err}
	}

	if _, err := tx.ExecContext(ctx, queryDeleteTriggerByKey, key.Group, key.Name); err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_trigger", Err: err}
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM scheduler_triggers WHERE job_group = $1 AND job_name = $2",
		jobGroup, jobName).Scan(&remaining); err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_trigger", Err: err}
	}
	if remaining == 0 {
		var durable bool
		err := tx.QueryRowContext(ctx, "SELECT durable FROM scheduler_jobs WHERE job_group = $1 AND job_name = $2", jobGroup, jobName).Scan(&durable)
		if err == nil && !durable {
			if _, err := tx.ExecContext(ctx, queryDeleteJob, jobGroup, jobName); err != nil {
				return false, &schederr.JobPersistenceError{Op: "remove_trigger", Err: err}
			}
		}
	}
	return true, nil
}

func (s *Store) ReplaceTrigger(key trigger.TriggerKey, newTrigger *trigger.Trigger) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "replace_trigger", Err: err}
	}
	defer tx.Rollback()

	var oldJobGroup, oldJobName string
	err = tx.QueryRowContext(ctx, "SELECT job_group, job_name FROM scheduler_triggers WHERE trigger_group = $1 AND trigger_name = $2 FOR UPDATE",
		key.Group, key.Name).Scan(&oldJobGroup, &oldJobName)
	if err == sql.ErrNoRows {
		return &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	if err != nil {
		return &schederr.JobPersistenceError{Op: "replace_trigger", Err: err}
	}
	if newTrigger.JobKey.Group != oldJobGroup || newTrigger.JobKey.Name != oldJobName {
		return &schederr.InvalidConfiguration{Field: "job_key", Msg: "replacement trigger must reference the same job"}
	}
	if _, err := s.removeTriggerTx(ctx, tx, key); err != nil {
		return err
	}
	if err := s.storeTriggerTx(ctx, tx, newTrigger, true); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &schederr.JobPersistenceError{Op: "replace_trigger", Err: err}
	}
	return nil
}

func (s *Store) GetJobDetail(key trigger.JobKey) (*trigger.JobDetail, error) {
	var detail trigger.JobDetail
	var data []byte
	err := s.db.QueryRowContext(context.Background(), queryGetJob, key.Group, key.Name).Scan(
		&detail.Key.Name, &detail.Key.Group, &detail.JobClass, &detail.Durable, &detail.Stateful, &detail.Volatile, &data)
	if err == sql.ErrNoRows {
		return nil, &schederr.ObjectNotFound{Kind: "job", Name: key.Name, Group: key.Group}
	}
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "get_job_detail", Err: err}
	}
	detail.Data, err = unmarshalData(data)
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *Store) GetTrigger(key trigger.TriggerKey) (*trigger.Trigger, error) {
	row := s.db.QueryRowContext(context.Background(), queryGetTrigger, key.Group, key.Name)
	t, _, _, err := scanTriggerRow(row)
	if err == sql.ErrNoRows {
		return nil, &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "get_trigger", Err: err}
	}
	return t, nil
}

func (s *Store) GetTriggersOfJob(key trigger.JobKey) ([]*trigger.Trigger, error) {
	rows, err := s.db.QueryContext(context.Background(), queryGetTriggersOfJob, key.Group, key.Name)
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "get_triggers_of_job", Err: err}
	}
	defer rows.Close()

	var out []*trigger.Trigger
	for rows.Next() {
		t, _, _, err := scanTriggerRow(rows)
		if err != nil {
			return nil, &schederr.JobPersistenceError{Op: "get_triggers_of_job", Err: err}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTriggerState(key trigger.TriggerKey) (trigger.State, error) {
	var state int
	err := s.db.QueryRowContext(context.Background(), queryGetTriggerState, key.Group, key.Name).Scan(&state)
	if err == sql.ErrNoRows {
		return trigger.StateNone, nil
	}
	if err != nil {
		return trigger.StateNone, &schederr.JobPersistenceError{Op: "get_trigger_state", Err: err}
	}
	return trigger.State(state), nil
}

func (s *Store) JobGroupNames() []string {
	return s.queryStrings(queryJobGroupNames)
}

func (s *Store) TriggerGroupNames() []string {
	return s.queryStrings(queryTriggerGroupNames)
}

func (s *Store) PausedTriggerGroups() []string {
	return s.queryStrings(queryPausedTriggerGroups)
}

func (s *Store) GetJobNames(group string) []string {
	return s.queryStringsArg(queryJobNamesInGroup, group)
}

func (s *Store) GetTriggerNames(group string) []string {
	return s.queryStringsArg(queryTriggerNamesInGroup, group)
}

func (s *Store) queryStrings(query string) []string {
	rows, err := s.db.QueryContext(context.Background(), query)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return out
		}
		out = append(out, v)
	}
	return out
}

func (s *Store) queryStringsArg(query, arg string) []string {
	rows, err := s.db.QueryContext(context.Background(), query, arg)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return out
		}
		out = append(out, v)
	}
	return out
}

func (s *Store) PauseTrigger(key trigger.TriggerKey) error {
	return s.transitionState(key, func(st trigger.State) trigger.State { return st.Pause() })
}

func (s *Store) transitionState(key trigger.TriggerKey, transform func(trigger.State) trigger.State) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "transition_state", Err: err}
	}
	defer tx.Rollback()

	var state int
	err = tx.QueryRowContext(ctx, "SELECT state FROM scheduler_triggers WHERE trigger_group = $1 AND trigger_name = $2 FOR UPDATE",
		key.Group, key.Name).Scan(&state)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return &schederr.JobPersistenceError{Op: "transition_state", Err: err}
	}
	newState := transform(trigger.State(state))
	if _, err := tx.ExecContext(ctx, queryUpdateTriggerState, int(newState), key.Group, key.Name); err != nil {
		return &schederr.JobPersistenceError{Op: "transition_state", Err: err}
	}
	return tx.Commit()
}

func (s *Store) PauseTriggerGroup(group string) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "pause_trigger_group", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryInsertPausedGroup, group); err != nil {
		return &schederr.JobPersistenceError{Op: "pause_trigger_group", Err: err}
	}
	rows, err := tx.QueryContext(ctx, "SELECT trigger_name, state FROM scheduler_triggers WHERE trigger_group = $1 FOR UPDATE", group)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "pause_trigger_group", Err: err}
	}
	type pending struct {
		name  string
		state trigger.State
	}
	var toPause []pending
	for rows.Next() {
		var name string
		var state int
		if err := rows.Scan(&name, &state); err != nil {
			rows.Close()
			return &schederr.JobPersistenceError{Op: "pause_trigger_group", Err: err}
		}
		toPause = append(toPause, pending{name, trigger.State(state)})
	}
	rows.Close()

	for _, p := range toPause {
		if _, err := tx.ExecContext(ctx, queryUpdateTriggerState, int(p.state.Pause()), group, p.name); err != nil {
			return &schederr.JobPersistenceError{Op: "pause_trigger_group", Err: err}
		}
	}
	return tx.Commit()
}

func (s *Store) ResumeTrigger(key trigger.TriggerKey, now time.Time) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "resume_trigger", Err: err}
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, queryGetTriggerForUpdate, key.Group, key.Name)
	t, _, _, err := scanTriggerRow(row)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return &schederr.JobPersistenceError{Op: "resume_trigger", Err: err}
	}
	if err := s.resumeTriggerTx(ctx, tx, t, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) resumeTriggerTx(ctx context.Context, tx *sql.Tx, t *trigger.Trigger, now time.Time) error {
	t.State = t.State.Resume()
	if t.NextFireTime != nil && t.NextFireTime.Before(now) {
		cal, err := s.loadCalendarTx(ctx, tx, t.CalendarName)
		if err != nil {
			return err
		}
		if err := t.UpdateAfterMisfire(now, cal); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, queryUpdateTriggerFireTimes,
		int(t.State), nullableTime(t.PreviousFireTime), nullableTime(t.NextFireTime),
		t.TimesTriggered(), t.Simple.RepeatCount, t.Key.Group, t.Key.Name)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "resume_trigger", Err: err}
	}
	return nil
}

func (s *Store) ResumeTriggerGroup(group string, now time.Time) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "resume_trigger_group", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryDeletePausedGroup, group); err != nil {
		return &schederr.JobPersistenceError{Op: "resume_trigger_group", Err: err}
	}

	rows, err := tx.QueryContext(ctx, queryGetTriggersOfGroupForUpdate, group)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "resume_trigger_group", Err: err}
	}
	var triggers []*trigger.Trigger
	for rows.Next() {
		t, _, _, err := scanTriggerRow(rows)
		if err != nil {
			rows.Close()
			return &schederr.JobPersistenceError{Op: "resume_trigger_group", Err: err}
		}
		triggers = append(triggers, t)
	}
	rows.Close()

	for _, t := range triggers {
		if err := s.resumeTriggerTx(ctx, tx, t, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) PauseAll() error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "pause_all", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, querySetPauseAll, true); err != nil {
		return &schederr.JobPersistenceError{Op: "pause_all", Err: err}
	}
	groups := s.queryStrings(queryTriggerGroupNames)
	for _, g := range groups {
		if _, err := tx.ExecContext(ctx, queryInsertPausedGroup, g); err != nil {
			return &schederr.JobPersistenceError{Op: "pause_all", Err: err}
		}
	}
	rows, err := tx.QueryContext(ctx, "SELECT trigger_group, trigger_name, state FROM scheduler_triggers FOR UPDATE")
	if err != nil {
		return &schederr.JobPersistenceError{Op: "pause_all", Err: err}
	}
	type pending struct {
		group, name string
		state       trigger.State
	}
	var toPause []pending
	for rows.Next() {
		var group, name string
		var state int
		if err := rows.Scan(&group, &name, &state); err != nil {
			rows.Close()
			return &schederr.JobPersistenceError{Op: "pause_all", Err: err}
		}
		toPause = append(toPause, pending{group, name, trigger.State(state)})
	}
	rows.Close()
	for _, p := range toPause {
		if _, err := tx.ExecContext(ctx, queryUpdateTriggerState, int(p.state.Pause()), p.group, p.name); err != nil {
			return &schederr.JobPersistenceError{Op: "pause_all", Err: err}
		}
	}
	return tx.Commit()
}

func (s *Store) ResumeAll(now time.Time) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "resume_all", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, querySetPauseAll, false); err != nil {
		return &schederr.JobPersistenceError{Op: "resume_all", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM scheduler_paused_trigger_groups"); err != nil {
		return &schederr.JobPersistenceError{Op: "resume_all", Err: err}
	}

	rows, err := tx.QueryContext(ctx, queryGetAllTriggersForUpdate)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "resume_all", Err: err}
	}
	var triggers []*trigger.Trigger
	for rows.Next() {
		t, _, _, err := scanTriggerRow(rows)
		if err != nil {
			rows.Close()
			return &schederr.JobPersistenceError{Op: "resume_all", Err: err}
		}
		triggers = append(triggers, t)
	}
	rows.Close()

	for _, t := range triggers {
		if err := s.resumeTriggerTx(ctx, tx, t, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AcquireNextTriggers(noLaterThan time.Time, maxCount int) ([]*trigger.Trigger, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "acquire_next_triggers", Err: err}
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, queryAcquireNextTriggers, noLaterThan, maxCount)
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "acquire_next_triggers", Err: err}
	}
	type key struct{ group, name string }
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.group, &k.name); err != nil {
			rows.Close()
			return nil, &schederr.JobPersistenceError{Op: "acquire_next_triggers", Err: err}
		}
		keys = append(keys, k)
	}
	rows.Close()

	now := s.clock()
	out := make([]*trigger.Trigger, 0, len(keys))
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, queryMarkAcquired, now, k.group, k.name); err != nil {
			return nil, &schederr.JobPersistenceError{Op: "acquire_next_triggers", Err: err}
		}
		row := tx.QueryRowContext(ctx, queryGetTrigger, k.group, k.name)
		t, _, _, err := scanTriggerRow(row)
		if err != nil {
			return nil, &schederr.JobPersistenceError{Op: "acquire_next_triggers", Err: err}
		}
		out = append(out, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, &schederr.JobPersistenceError{Op: "acquire_next_triggers", Err: err}
	}
	return out, nil
}

func (s *Store) TriggerFired(key trigger.TriggerKey, actualFireTime time.Time) (*jobstore.FireResult, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "trigger_fired", Err: err}
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, queryGetTriggerForUpdate, key.Group, key.Name)
	t, _, _, err := scanTriggerRow(row)
	if err == sql.ErrNoRows {
		return nil, &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "trigger_fired", Err: err}
	}

	cal, err := s.loadCalendarTx(ctx, tx, t.CalendarName)
	if err != nil {
		return nil, err
	}
	t.Triggered(cal)
	if t.NextFireTime == nil {
		t.State = trigger.StateComplete
	}
	if _, err := tx.ExecContext(ctx, queryUpdateTriggerFireTimes,
		int(t.State), nullableTime(t.PreviousFireTime), nullableTime(t.NextFireTime),
		t.TimesTriggered(), t.Simple.RepeatCount, key.Group, key.Name); err != nil {
		return nil, &schederr.JobPersistenceError{Op: "trigger_fired", Err: err}
	}

	var jobGroup, jobName, jobClass string
	var durable, stateful, volatile bool
	var jobData []byte
	err = tx.QueryRowContext(ctx, queryGetJobForUpdate, t.JobKey.Group, t.JobKey.Name).Scan(
		&jobName, &jobGroup, &jobClass, &durable, &stateful, &volatile, &jobData)
	if err != nil {
		return nil, &schederr.ObjectNotFound{Kind: "job", Name: t.JobKey.Name, Group: t.JobKey.Group}
	}

	blocked := false
	if stateful {
		var executing int
		if err := tx.QueryRowContext(ctx, queryIncrementExecuting, t.JobKey.Group, t.JobKey.Name).Scan(&executing); err != nil {
			return nil, &schederr.JobPersistenceError{Op: "trigger_fired", Err: err}
		}
		if t.State != trigger.StateComplete {
			siblings, err := tx.QueryContext(ctx, queryGetTriggersOfJobForUpdate, t.JobKey.Group, t.JobKey.Name)
			if err != nil {
				return nil, &schederr.JobPersistenceError{Op: "trigger_fired", Err: err}
			}
			var siblingTriggers []*trigger.Trigger
			for siblings.Next() {
				other, _, _, err := scanTriggerRow(siblings)
				if err != nil {
					siblings.Close()
					return nil, &schederr.JobPersistenceError{Op: "trigger_fired", Err: err}
				}
				if other.Key == key {
					continue
				}
				siblingTriggers = append(siblingTriggers, other)
			}
			siblings.Close()
			for _, other := range siblingTriggers {
				newState := other.State.Block()
				if _, err := tx.ExecContext(ctx, queryUpdateTriggerState, int(newState), other.Key.Group, other.Key.Name); err != nil {
					return nil, &schederr.JobPersistenceError{Op: "trigger_fired", Err: err}
				}
			}
		}
		blocked = executing > 1
	}

	if err := tx.Commit(); err != nil {
		return nil, &schederr.JobPersistenceError{Op: "trigger_fired", Err: err}
	}
	return &jobstore.FireResult{Trigger: t, Blocked: blocked}, nil
}

func (s *Store) TriggerComplete(key trigger.TriggerKey, instr trigger.CompletionInstruction) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
	}
	defer tx.Rollback()

	var jobGroup, jobName string
	err = tx.QueryRowContext(ctx, "SELECT job_group, job_name FROM scheduler_triggers WHERE trigger_group = $1 AND trigger_name = $2 FOR UPDATE",
		key.Group, key.Name).Scan(&jobGroup, &jobName)
	if err == sql.ErrNoRows {
		return &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	if err != nil {
		return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
	}

	var stateful bool
	if err := tx.QueryRowContext(ctx, "SELECT stateful FROM scheduler_jobs WHERE job_group = $1 AND job_name = $2 FOR UPDATE", jobGroup, jobName).Scan(&stateful); err != nil {
		return &schederr.ObjectNotFound{Kind: "job", Name: jobName, Group: jobGroup}
	}

	if stateful {
		var executing int
		if err := tx.QueryRowContext(ctx, queryDecrementExecuting, jobGroup, jobName).Scan(&executing); err != nil {
			return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
		}
		if executing == 0 {
			rows, err := tx.QueryContext(ctx, "SELECT trigger_group, trigger_name, state FROM scheduler_triggers WHERE job_group = $1 AND job_name = $2 FOR UPDATE", jobGroup, jobName)
			if err != nil {
				return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
			}
			type pending struct {
				group, name string
				state       trigger.State
			}
			var toUnblock []pending
			for rows.Next() {
				var p pending
				var state int
				if err := rows.Scan(&p.group, &p.name, &state); err != nil {
					rows.Close()
					return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
				}
				p.state = trigger.State(state)
				toUnblock = append(toUnblock, p)
			}
			rows.Close()
			for _, p := range toUnblock {
				if _, err := tx.ExecContext(ctx, queryUpdateTriggerState, int(p.state.Unblock()), p.group, p.name); err != nil {
					return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
				}
			}
		}
	}

	switch instr {
	case trigger.InstructionNoop:
	case trigger.InstructionReExecuteJob:
		now := s.clock()
		var state int
		if err := tx.QueryRowContext(ctx, "SELECT state FROM scheduler_triggers WHERE trigger_group = $1 AND trigger_name = $2", key.Group, key.Name).Scan(&state); err != nil {
			return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
		}
		newState := trigger.State(state)
		if newState == trigger.StateComplete {
			newState = trigger.StateNormal
		}
		if _, err := tx.ExecContext(ctx, queryUpdateTriggerNextFireTime, now, int(newState), key.Group, key.Name); err != nil {
			return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
		}
	case trigger.InstructionDeleteTrigger:
		if _, err := s.removeTriggerTx(ctx, tx, key); err != nil {
			return err
		}
	case trigger.InstructionSetTriggerComplete:
		if _, err := tx.ExecContext(ctx, queryUpdateTriggerState, int(trigger.StateComplete), key.Group, key.Name); err != nil {
			return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
		}
	case trigger.InstructionSetAllJobTriggersComplete:
		if _, err := tx.ExecContext(ctx, "UPDATE scheduler_triggers SET state = $1 WHERE job_group = $2 AND job_name = $3",
			int(trigger.StateComplete), jobGroup, jobName); err != nil {
			return &schederr.JobPersistenceError{Op: "trigger_complete", Err: err}
		}
	}

	return tx.Commit()
}

func (s *Store) AddCalendar(name string, cal calendar.Calendar, replace, updateTriggers bool) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "add_calendar", Err: err}
	}
	defer tx.Rollback()

	if !replace {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM scheduler_calendars WHERE calendar_name = $1", name).Scan(&exists)
		if err == nil {
			return &schederr.ObjectAlreadyExists{Kind: "calendar", Name: name}
		}
	}

	snap, err := calendar.Encode(cal)
	if err != nil {
		return &schederr.InvalidConfiguration{Field: "calendar", Msg: err.Error()}
	}
	baseName := ""
	if base := baseOf(cal); base != nil {
		baseName = s.findCalendarNameTx(ctx, tx, base)
	}
	if _, err := tx.ExecContext(ctx, queryInsertCalendar, name, string(snap.Kind), snap.Location, snap.Payload, baseName); err != nil {
		return &schederr.JobPersistenceError{Op: "add_calendar", Err: err}
	}

	if updateTriggers {
		now := s.clock()
		rows, err := tx.QueryContext(ctx, queryGetTriggersByCalendarForUpdate, name)
		if err != nil {
			return &schederr.JobPersistenceError{Op: "add_calendar", Err: err}
		}
		var triggers []*trigger.Trigger
		for rows.Next() {
			t, _, _, err := scanTriggerRow(rows)
			if err != nil {
				rows.Close()
				return &schederr.JobPersistenceError{Op: "add_calendar", Err: err}
			}
			triggers = append(triggers, t)
		}
		rows.Close()
		for _, t := range triggers {
			next := t.GetNextFireTimeAfter(now.Add(-time.Second), cal)
			if _, err := tx.ExecContext(ctx, "UPDATE scheduler_triggers SET next_fire_time = $1 WHERE trigger_group = $2 AND trigger_name = $3",
				nullableTime(next), t.Key.Group, t.Key.Name); err != nil {
				return &schederr.JobPersistenceError{Op: "add_calendar", Err: err}
			}
		}
	}
	return tx.Commit()
}

// findCalendarNameTx is best-effort: it only recognizes a base calendar
// that Store itself previously loaded and handed back via GetCalendar, by
// comparing descriptions. Chains built entirely in-process with calendars
// Store never saw cannot be named and are stored unlinked.
func (s *Store) findCalendarNameTx(ctx context.Context, tx *sql.Tx, base calendar.Calendar) string {
	names := s.queryStrings(queryCalendarNames)
	for _, n := range names {
		cal, ok := s.getCalendarTxByName(ctx, tx, n)
		if ok && cal.Description() == base.Description() {
			return n
		}
	}
	return ""
}

func baseOf(cal calendar.Calendar) calendar.Calendar {
	switch c := cal.(type) {
	case *calendar.HolidayCalendar:
		return c.Base()
	case *calendar.DailyCalendar:
		return c.Base()
	default:
		return nil
	}
}

func (s *Store) RemoveCalendar(name string) (bool, error) {
	ctx := context.Background()
	var inUse bool
	if err := s.db.QueryRowContext(ctx, queryCalendarInUse, name).Scan(&inUse); err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_calendar", Err: err}
	}
	if inUse {
		return false, &schederr.InvalidConfiguration{Field: "calendar", Msg: "calendar " + name + " is still referenced by a trigger"}
	}
	res, err := s.db.ExecContext(ctx, queryDeleteCalendar, name)
	if err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_calendar", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &schederr.JobPersistenceError{Op: "remove_calendar", Err: err}
	}
	return n > 0, nil
}

func (s *Store) GetCalendar(name string) (calendar.Calendar, bool) {
	ctx := context.Background()
	var kind, loc, baseName string
	var payload []byte
	err := s.db.QueryRowContext(ctx, queryGetCalendar, name).Scan(&kind, &loc, &payload, &baseName)
	if err != nil {
		return nil, false
	}
	var base calendar.Calendar
	if baseName != "" {
		base, _ = s.GetCalendar(baseName)
	}
	cal, err := calendar.Decode(calendar.Snapshot{Kind: calendar.Kind(kind), Location: loc, Payload: payload}, base)
	if err != nil {
		return nil, false
	}
	return cal, true
}

func (s *Store) getCalendarTxByName(ctx context.Context, tx *sql.Tx, name string) (calendar.Calendar, bool) {
	var kind, loc, baseName string
	var payload []byte
	err := tx.QueryRowContext(ctx, queryGetCalendar, name).Scan(&kind, &loc, &payload, &baseName)
	if err != nil {
		return nil, false
	}
	cal, err := calendar.Decode(calendar.Snapshot{Kind: calendar.Kind(kind), Location: loc, Payload: payload}, nil)
	if err != nil {
		return nil, false
	}
	return cal, true
}

func (s *Store) loadCalendarTx(ctx context.Context, tx *sql.Tx, name string) (calendar.Calendar, error) {
	if name == "" {
		return nil, nil
	}
	var kind, loc, baseName string
	var payload []byte
	err := tx.QueryRowContext(ctx, queryGetCalendar, name).Scan(&kind, &loc, &payload, &baseName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "load_calendar", Err: err}
	}
	var base calendar.Calendar
	if baseName != "" {
		base, err = s.loadCalendarTx(ctx, tx, baseName)
		if err != nil {
			return nil, err
		}
	}
	cal, err := calendar.Decode(calendar.Snapshot{Kind: calendar.Kind(kind), Location: loc, Payload: payload}, base)
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "load_calendar", Err: err}
	}
	return cal, nil
}

func (s *Store) CalendarNames() []string {
	return s.queryStrings(queryCalendarNames)
}

func (s *Store) ScanMisfires(now time.Time, threshold time.Duration) ([]trigger.TriggerKey, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "scan_misfires", Err: err}
	}
	defer tx.Rollback()

	threshUTC := now.Add(-threshold)
	rows, err := tx.QueryContext(ctx, queryScanMisfires, threshUTC)
	if err != nil {
		return nil, &schederr.JobPersistenceError{Op: "scan_misfires", Err: err}
	}
	var keys []trigger.TriggerKey
	for rows.Next() {
		var k trigger.TriggerKey
		if err := rows.Scan(&k.Group, &k.Name); err != nil {
			rows.Close()
			return nil, &schederr.JobPersistenceError{Op: "scan_misfires", Err: err}
		}
		keys = append(keys, k)
	}
	rows.Close()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, queryMarkMisfiring, true, k.Group, k.Name); err != nil {
			return nil, &schederr.JobPersistenceError{Op: "scan_misfires", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, &schederr.JobPersistenceError{Op: "scan_misfires", Err: err}
	}
	return keys, nil
}

func (s *Store) ApplyMisfire(key trigger.TriggerKey, now time.Time) (bool, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &schederr.JobPersistenceError{Op: "apply_misfire", Err: err}
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, queryGetTriggerForUpdate, key.Group, key.Name)
	t, _, _, err := scanTriggerRow(row)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &schederr.JobPersistenceError{Op: "apply_misfire", Err: err}
	}
	// Unconditionally clear the misfire mark once we're done, success or
	// not, the same way RAMJobStore's deferred reset does — a trigger must
	// never get stuck permanently excluded from acquisition.
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), queryMarkMisfiring, false, key.Group, key.Name)
	}()

	if t.MisfireInstruction == trigger.MisfireIgnorePolicy {
		return false, tx.Commit()
	}

	cal, err := s.loadCalendarTx(ctx, tx, t.CalendarName)
	if err != nil {
		return false, err
	}
	if err := t.UpdateAfterMisfire(now, cal); err != nil {
		return false, err
	}
	if t.NextFireTime == nil {
		t.State = trigger.StateComplete
	}
	if _, err := tx.ExecContext(ctx, queryUpdateTriggerFireTimes,
		int(t.State), nullableTime(t.PreviousFireTime), nullableTime(t.NextFireTime),
		t.TimesTriggered(), t.Simple.RepeatCount, key.Group, key.Name); err != nil {
		return false, &schederr.JobPersistenceError{Op: "apply_misfire", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return false, &schederr.JobPersistenceError{Op: "apply_misfire", Err: err}
	}
	return true, nil
}

func (s *Store) SetTriggerState(key trigger.TriggerKey, state trigger.State) error {
	res, err := s.db.ExecContext(context.Background(), queryUpdateTriggerState, int(state), key.Group, key.Name)
	if err != nil {
		return &schederr.JobPersistenceError{Op: "set_trigger_state", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &schederr.JobPersistenceError{Op: "set_trigger_state", Err: err}
	}
	if n == 0 {
		return &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	return nil
}

func (s *Store) ReleaseStaleAcquisitions(now time.Time, leaseThreshold time.Duration) (int, error) {
	res, err := s.db.ExecContext(context.Background(), queryReleaseStaleAcquisitions, now.Add(-leaseThreshold))
	if err != nil {
		return 0, &schederr.JobPersistenceError{Op: "release_stale_acquisitions", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &schederr.JobPersistenceError{Op: "release_stale_acquisitions", Err: err}
	}
	return int(n), nil
}

func marshalData(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

func unmarshalData(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &schederr.JobPersistenceError{Op: "unmarshal_data", Err: err}
	}
	return m, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return contains(errStr, "23505") || contains(errStr, "unique constraint") || contains(errStr, "duplicate key")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
