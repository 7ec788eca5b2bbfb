package db

// schema is portable between postgres and sqlite3
var schema = []string{
	`CREATE TABLE IF NOT EXISTS research_reports (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL,
		user_id        TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		research_brief TEXT NOT NULL DEFAULT '',
		report         TEXT NOT NULL DEFAULT '',
		raw_notes      TEXT NOT NULL DEFAULT '[]',
		iterations     INTEGER NOT NULL DEFAULT 0,
		duration_ms    BIGINT NOT NULL DEFAULT 0,
		created_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_research_reports_session ON research_reports (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS research_events (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		type       TEXT NOT NULL,
		agent_id   TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL DEFAULT '',
		timestamp  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_research_events_session ON research_events (session_id, timestamp)`,
}
