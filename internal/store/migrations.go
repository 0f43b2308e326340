package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id           TEXT PRIMARY KEY,
	provider     TEXT NOT NULL CHECK(provider IN ('gmail', 'imap')),
	address      TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	active       INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1)),
	settings     TEXT NOT NULL DEFAULT '{}',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(provider, address)
);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	message_id  TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	priority    TEXT NOT NULL DEFAULT 'MEDIUM'
		CHECK(priority IN ('LOW', 'MEDIUM', 'HIGH', 'URGENT')),
	due_date    DATETIME,
	status      TEXT NOT NULL DEFAULT 'open',
	sender      TEXT NOT NULL DEFAULT '',
	recipients  TEXT NOT NULL DEFAULT '[]',
	received_at DATETIME NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS processed_messages (
	account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	message_id   TEXT NOT NULL,
	task_count   INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'extracted'
		CHECK(status IN ('extracted', 'failed')),
	processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (account_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_account_id ON tasks(account_id);
CREATE INDEX IF NOT EXISTS idx_tasks_message ON tasks(account_id, message_id);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
CREATE INDEX IF NOT EXISTS idx_processed_status ON processed_messages(account_id, status);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS run_claims (
	account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
