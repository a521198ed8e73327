package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id            TEXT PRIMARY KEY,
	tier               TEXT NOT NULL,
	credits_used_today BIGINT NOT NULL DEFAULT 0,
	credits_used_month BIGINT NOT NULL DEFAULT 0,
	day_window_start   TIMESTAMPTZ NOT NULL,
	month_window_start TIMESTAMPTZ NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_entries (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	tool_type          TEXT NOT NULL,
	credits_used       BIGINT NOT NULL,
	input_tokens       BIGINT NOT NULL DEFAULT 0,
	output_tokens      BIGINT NOT NULL DEFAULT 0,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	success            BOOLEAN NOT NULL DEFAULT true,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_entries_user_created
	ON usage_entries (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_usage_entries_created
	ON usage_entries (created_at);
`
