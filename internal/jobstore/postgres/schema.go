package postgres

// schemaDDL creates the tables backing Store. It is idempotent so Migrate
// can run on every process start, same as the old store/postgres package
// did for its own tables.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS scheduler_jobs (
	job_name    TEXT NOT NULL,
	job_group   TEXT NOT NULL,
	job_class   TEXT NOT NULL,
	durable     BOOLEAN NOT NULL DEFAULT FALSE,
	stateful    BOOLEAN NOT NULL DEFAULT FALSE,
	volatile    BOOLEAN NOT NULL DEFAULT FALSE,
	job_data    JSONB,
	executing   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_group, job_name)
);

CREATE TABLE IF NOT EXISTS scheduler_triggers (
	trigger_name          TEXT NOT NULL,
	trigger_group         TEXT NOT NULL,
	job_name              TEXT NOT NULL,
	job_group             TEXT NOT NULL,
	kind                  SMALLINT NOT NULL,
	state                 SMALLINT NOT NULL,
	priority              INTEGER NOT NULL DEFAULT 0,
	start_time            TIMESTAMPTZ NOT NULL,
	end_time              TIMESTAMPTZ,
	prev_fire_time        TIMESTAMPTZ,
	next_fire_time        TIMESTAMPTZ,
	misfire_instruction   SMALLINT NOT NULL,
	calendar_name         TEXT NOT NULL DEFAULT '',
	simple_repeat_count   INTEGER NOT NULL DEFAULT 0,
	simple_repeat_interval_ns BIGINT NOT NULL DEFAULT 0,
	simple_times_triggered   INTEGER NOT NULL DEFAULT 0,
	cron_expression       TEXT NOT NULL DEFAULT '',
	cron_location         TEXT NOT NULL DEFAULT 'UTC',
	trigger_data          JSONB,
	acquired_at           TIMESTAMPTZ,
	misfiring             BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (trigger_group, trigger_name),
	FOREIGN KEY (job_group, job_name) REFERENCES scheduler_jobs (job_group, job_name)
);

CREATE INDEX IF NOT EXISTS scheduler_triggers_job_idx
	ON scheduler_triggers (job_group, job_name);

CREATE INDEX IF NOT EXISTS scheduler_triggers_acquire_idx
	ON scheduler_triggers (next_fire_time)
	WHERE state = 1 AND acquired_at IS NULL AND NOT misfiring;

CREATE TABLE IF NOT EXISTS scheduler_paused_trigger_groups (
	trigger_group TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS scheduler_calendars (
	calendar_name TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	location      TEXT NOT NULL DEFAULT 'UTC',
	payload       JSONB NOT NULL,
	base_name     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS scheduler_state (
	singleton   BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	pause_all   BOOLEAN NOT NULL DEFAULT FALSE
);

INSERT INTO scheduler_state (singleton, pause_all)
VALUES (TRUE, FALSE)
ON CONFLICT (singleton) DO NOTHING;
`
