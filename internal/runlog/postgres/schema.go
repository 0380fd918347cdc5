package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS newsbot_runs (
	run_id BYTEA PRIMARY KEY,
	update_id BIGINT NOT NULL,
	stage TEXT NOT NULL,
	outcome TEXT NOT NULL,
	derived_value TEXT,
	tx_hash BYTEA,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT newsbot_runs_run_id_len CHECK (octet_length(run_id) = 32),
	CONSTRAINT newsbot_runs_tx_hash_len CHECK (tx_hash IS NULL OR octet_length(tx_hash) = 32),
	CONSTRAINT newsbot_runs_stage_nonempty CHECK (stage <> ''),
	CONSTRAINT newsbot_runs_outcome_nonempty CHECK (outcome <> '')
);

CREATE INDEX IF NOT EXISTS newsbot_runs_started_idx ON newsbot_runs (started_at DESC);
CREATE INDEX IF NOT EXISTS newsbot_runs_update_idx ON newsbot_runs (update_id);
`
