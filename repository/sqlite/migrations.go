package sqlite

type migration struct {
	version int
	sql     string
}

// migrations must stay ordered with versions starting at 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE COLLATE NOCASE,
	name       TEXT NOT NULL,
	password   TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title        TEXT NOT NULL CHECK (length(title) BETWEEN 1 AND 255),
	description  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'in_progress', 'completed')),
	category     TEXT NOT NULL DEFAULT 'other'
		CHECK (category IN ('personal', 'work', 'education', 'health', 'other')),
	is_completed INTEGER NOT NULL DEFAULT 0,
	completed_at DATETIME,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	CHECK ((status = 'completed') = (is_completed = 1)),
	CHECK ((is_completed = 1) = (completed_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
