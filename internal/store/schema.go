package store

// migrations are applied in order. Each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS audit_log (
		id              UUID PRIMARY KEY,
		created_at      TIMESTAMPTZ NOT NULL,
		organization_id TEXT,
		user_id         TEXT,
		action          TEXT NOT NULL,
		resource        TEXT NOT NULL,
		resource_id     TEXT NOT NULL,
		carrier         TEXT NOT NULL,
		request         JSONB,
		response        JSONB,
		success         BOOLEAN NOT NULL,
		error_message   TEXT,
		duration_ms     BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_resource_idx ON audit_log (resource_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS routing_decisions (
		id         BIGSERIAL PRIMARY KEY,
		order_id   TEXT NOT NULL,
		carrier    TEXT NOT NULL,
		rule       TEXT NOT NULL,
		cost       NUMERIC(12, 2) NOT NULL,
		savings    NUMERIC(12, 2) NOT NULL,
		decision   JSONB NOT NULL,
		decided_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS routing_decisions_order_idx ON routing_decisions (order_id, id DESC)`,

	`CREATE TABLE IF NOT EXISTS shipments (
		order_id        TEXT PRIMARY KEY,
		reference       TEXT NOT NULL,
		carrier         TEXT NOT NULL,
		service_code    TEXT NOT NULL DEFAULT '',
		shipment_id     TEXT NOT NULL,
		tracking_number TEXT NOT NULL,
		label_ref       TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		package         JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS shipments_tracking_idx ON shipments (carrier, tracking_number)`,

	`CREATE TABLE IF NOT EXISTS tracking_events (
		id              BIGSERIAL PRIMARY KEY,
		carrier         TEXT NOT NULL,
		tracking_number TEXT NOT NULL,
		status          TEXT NOT NULL,
		description     TEXT NOT NULL,
		location        TEXT NOT NULL,
		raw_code        TEXT NOT NULL,
		occurred_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (carrier, tracking_number, raw_code, occurred_at)
	)`,

	`CREATE TABLE IF NOT EXISTS retry_jobs (
		id              TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		payload         JSONB NOT NULL,
		attempts        INTEGER NOT NULL,
		max_attempts    INTEGER NOT NULL,
		next_attempt_at TIMESTAMPTZ NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS retry_jobs_due_idx ON retry_jobs (status, next_attempt_at)`,
}
