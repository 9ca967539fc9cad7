package postgres

// triggerColumns is the canonical column list scanTriggerRow expects, in
// order. Every query that feeds scanTriggerRow selects exactly these plus
// acquired_at, misfiring.
const triggerColumns = `trigger_name, trigger_group, job_name, job_group, kind, state, priority,
	start_time, end_time, prev_fire_time, next_fire_time, misfire_instruction,
	calendar_name, simple_repeat_count, simple_repeat_interval_ns,
	simple_times_triggered, cron_expression, cron_location, trigger_data`

const queryInsertJob = `
INSERT INTO scheduler_jobs (job_name, job_group, job_class, durable, stateful, volatile, job_data)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryUpsertJob = queryInsertJob + `
ON CONFLICT (job_group, job_name) DO UPDATE SET
	job_class = EXCLUDED.job_class,
	durable   = EXCLUDED.durable,
	stateful  = EXCLUDED.stateful,
	volatile  = EXCLUDED.volatile,
	job_data  = EXCLUDED.job_data
`

const queryGetJob = `
SELECT job_name, job_group, job_class, durable, stateful, volatile, job_data
FROM scheduler_jobs
WHERE job_group = $1 AND job_name = $2
`

const queryGetJobForUpdate = queryGetJob + `
FOR UPDATE
`

const queryDeleteJob = `
DELETE FROM scheduler_jobs WHERE job_group = $1 AND job_name = $2
`

const queryJobGroupNames = `
SELECT DISTINCT job_group FROM scheduler_jobs ORDER BY job_group
`

const queryJobNamesInGroup = `
SELECT job_name FROM scheduler_jobs WHERE job_group = $1 ORDER BY job_name
`

const queryIncrementExecuting = `
UPDATE scheduler_jobs SET executing = executing + 1
WHERE job_group = $1 AND job_name = $2
RETURNING executing
`

const queryDecrementExecuting = `
UPDATE scheduler_jobs SET executing = GREATEST(executing - 1, 0)
WHERE job_group = $1 AND job_name = $2
RETURNING executing
`

const queryInsertTrigger = `
INSERT INTO scheduler_triggers (
	trigger_name, trigger_group, job_name, job_group, kind, state, priority,
	start_time, end_time, prev_fire_time, next_fire_time, misfire_instruction,
	calendar_name, simple_repeat_count, simple_repeat_interval_ns,
	simple_times_triggered, cron_expression, cron_location, trigger_data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
`

const queryDeleteTriggerByKey = `
DELETE FROM scheduler_triggers WHERE trigger_group = $1 AND trigger_name = $2
`

const queryGetTrigger = `
SELECT
	trigger_name, trigger_group, job_name, job_group, kind, state, priority,
	start_time, end_time, prev_fire_time, next_fire_time, misfire_instruction,
	calendar_name, simple_repeat_count, simple_repeat_interval_ns,
	simple_times_triggered, cron_expression, cron_location, trigger_data,
	acquired_at, misfiring
FROM scheduler_triggers
WHERE trigger_group = $1 AND trigger_name = $2
`

const queryGetTriggerForUpdate = queryGetTrigger + `
FOR UPDATE
`

const queryGetTriggersOfJob = `
SELECT
	trigger_name, trigger_group, job_name, job_group, kind, state, priority,
	start_time, end_time, prev_fire_time, next_fire_time, misfire_instruction,
	calendar_name, simple_repeat_count, simple_repeat_interval_ns,
	simple_times_triggered, cron_expression, cron_location, trigger_data,
	acquired_at, misfiring
FROM scheduler_triggers
WHERE job_group = $1 AND job_name = $2
`

const queryGetTriggersOfJobForUpdate = queryGetTriggersOfJob + `
FOR UPDATE
`

const queryGetTriggersOfGroupForUpdate = `
SELECT ` + triggerColumns + `, acquired_at, misfiring
FROM scheduler_triggers
WHERE trigger_group = $1
FOR UPDATE
`

const queryGetAllTriggersForUpdate = `
SELECT ` + triggerColumns + `, acquired_at, misfiring
FROM scheduler_triggers
FOR UPDATE
`

const queryGetTriggersByCalendarForUpdate = `
SELECT ` + triggerColumns + `, acquired_at, misfiring
FROM scheduler_triggers
WHERE calendar_name = $1
FOR UPDATE
`

const queryGetTriggerState = `
SELECT state FROM scheduler_triggers WHERE trigger_group = $1 AND trigger_name = $2
`

const queryTriggerGroupNames = `
SELECT DISTINCT trigger_group FROM scheduler_triggers ORDER BY trigger_group
`

const queryTriggerNamesInGroup = `
SELECT trigger_name FROM scheduler_triggers WHERE trigger_group = $1 ORDER BY trigger_name
`

const queryPausedTriggerGroups = `
SELECT trigger_group FROM scheduler_paused_trigger_groups ORDER BY trigger_group
`

const queryInsertPausedGroup = `
INSERT INTO scheduler_paused_trigger_groups (trigger_group) VALUES ($1)
ON CONFLICT DO NOTHING
`

const queryDeletePausedGroup = `
DELETE FROM scheduler_paused_trigger_groups WHERE trigger_group = $1
`

const queryIsGroupPaused = `
SELECT EXISTS(SELECT 1 FROM scheduler_paused_trigger_groups WHERE trigger_group = $1)
`

const queryGetPauseAll = `
SELECT pause_all FROM scheduler_state
`

const querySetPauseAll = `
UPDATE scheduler_state SET pause_all = $1
`

const queryUpdateTriggerState = `
UPDATE scheduler_triggers SET state = $1
WHERE trigger_group = $2 AND trigger_name = $3
`

const queryUpdateTriggerStateByGroup = `
UPDATE scheduler_triggers SET state = $1 WHERE trigger_group = $2
`

const queryUpdateTriggerFireTimes = `
UPDATE scheduler_triggers SET
	state = $1, prev_fire_time = $2, next_fire_time = $3,
	simple_times_triggered = $4, simple_repeat_count = $5,
	acquired_at = NULL
WHERE trigger_group = $6 AND trigger_name = $7
`

const queryUpdateTriggerNextFireTime = `
UPDATE scheduler_triggers SET next_fire_time = $1, state = $2
WHERE trigger_group = $3 AND trigger_name = $4
`

// queryAcquireNextTriggers is the SKIP LOCKED acquisition query: each
// scheduler node competing for work skips rows already locked by a
// concurrent acquirer instead of blocking behind them.
const queryAcquireNextTriggers = `
SELECT trigger_group, trigger_name
FROM scheduler_triggers
WHERE state = 1
  AND acquired_at IS NULL
  AND NOT misfiring
  AND next_fire_time IS NOT NULL
  AND next_fire_time <= $1
ORDER BY next_fire_time ASC, priority DESC, trigger_group ASC, trigger_name ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`

const queryMarkAcquired = `
UPDATE scheduler_triggers SET acquired_at = $1
WHERE trigger_group = $2 AND trigger_name = $3
`

const queryClearAcquired = `
UPDATE scheduler_triggers SET acquired_at = NULL
WHERE trigger_group = $1 AND trigger_name = $2
`

const queryScanMisfires = `
SELECT trigger_group, trigger_name
FROM scheduler_triggers
WHERE state = 1
  AND acquired_at IS NULL
  AND NOT misfiring
  AND next_fire_time IS NOT NULL
  AND next_fire_time < $1
FOR UPDATE SKIP LOCKED
`

const queryMarkMisfiring = `
UPDATE scheduler_triggers SET misfiring = $1
WHERE trigger_group = $2 AND trigger_name = $3
`

const queryReleaseStaleAcquisitions = `
WITH stale AS (
	SELECT trigger_group, trigger_name FROM scheduler_triggers
	WHERE acquired_at IS NOT NULL AND acquired_at < $1
	FOR UPDATE SKIP LOCKED
)
UPDATE scheduler_triggers
SET acquired_at = NULL
FROM stale
WHERE scheduler_triggers.trigger_group = stale.trigger_group
  AND scheduler_triggers.trigger_name = stale.trigger_name
`

const queryInsertCalendar = `
INSERT INTO scheduler_calendars (calendar_name, kind, location, payload, base_name)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (calendar_name) DO UPDATE SET
	kind = EXCLUDED.kind, location = EXCLUDED.location,
	payload = EXCLUDED.payload, base_name = EXCLUDED.base_name
`

const queryGetCalendar = `
SELECT kind, location, payload, base_name FROM scheduler_calendars WHERE calendar_name = $1
`

const queryDeleteCalendar = `
DELETE FROM scheduler_calendars WHERE calendar_name = $1
`

const queryCalendarNames = `
SELECT calendar_name FROM scheduler_calendars ORDER BY calendar_name
`

const queryCalendarInUse = `
SELECT EXISTS(SELECT 1 FROM scheduler_triggers WHERE calendar_name = $1)
`
