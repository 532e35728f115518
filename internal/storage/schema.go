package storage

// Schema is applied at startup. Statements are idempotent so repeated
// boots against an existing database are safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              UUID PRIMARY KEY,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		wsn_id          TEXT NOT NULL UNIQUE,
		email           TEXT NOT NULL UNIQUE,
		first_name      TEXT NOT NULL DEFAULT '',
		last_name       TEXT NOT NULL DEFAULT '',
		password_hash   TEXT NOT NULL DEFAULT '',
		is_admin        BOOLEAN NOT NULL DEFAULT FALSE,
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		hotspot_synced  BOOLEAN NOT NULL DEFAULT FALSE,
		hotspot_error   TEXT,
		last_sync_at    TIMESTAMPTZ,
		router_password TEXT NOT NULL DEFAULT '',
		router_profile  TEXT NOT NULL DEFAULT '',
		router_disabled BOOLEAN NOT NULL DEFAULT FALSE,
		total_bytes_in  BIGINT NOT NULL DEFAULT 0,
		total_bytes_out BIGINT NOT NULL DEFAULT 0,
		last_seen_at    TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS session_snapshots (
		id         UUID PRIMARY KEY,
		user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL DEFAULT '',
		address    TEXT NOT NULL DEFAULT '',
		mac        TEXT NOT NULL DEFAULT '',
		uptime     TEXT NOT NULL DEFAULT '',
		bytes_in   BIGINT NOT NULL DEFAULT 0,
		bytes_out  BIGINT NOT NULL DEFAULT 0,
		login_by   TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_snapshots_user
		ON session_snapshots (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS provisioning_jobs (
		id           UUID PRIMARY KEY,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		type         TEXT NOT NULL,
		state        TEXT NOT NULL,
		payload      JSONB NOT NULL DEFAULT '{}',
		attempts     INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 5,
		next_run_at  TIMESTAMPTZ NOT NULL,
		last_error   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_provisioning_jobs_due
		ON provisioning_jobs (state, next_run_at)`,

	`CREATE TABLE IF NOT EXISTS event_logs (
		id          UUID PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL,
		user_id     UUID,
		job_id      UUID,
		type        TEXT NOT NULL,
		level       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		details     JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_logs_created
		ON event_logs (created_at DESC)`,
}

// migrate applies the schema statements in order
func (s *PostgresStore) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
