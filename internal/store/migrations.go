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

CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	external_id      TEXT NOT NULL UNIQUE,
	sender           TEXT NOT NULL DEFAULT '',
	subject          TEXT NOT NULL DEFAULT '',
	received_at      DATETIME NOT NULL,
	body             TEXT NOT NULL DEFAULT '',
	attachment_text  TEXT,
	attachment_count INTEGER NOT NULL DEFAULT 0,
	ingested_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS category_assignments (
	id          TEXT PRIMARY KEY,
	message_id  TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	category    TEXT NOT NULL,
	subcategory TEXT NOT NULL,
	confidence  REAL NOT NULL CHECK(confidence BETWEEN 0 AND 1),
	reasoning   TEXT NOT NULL DEFAULT '',
	agent       TEXT NOT NULL,
	fallback    INTEGER NOT NULL DEFAULT 0 CHECK(fallback IN (0, 1)),
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS action_records (
	id            TEXT PRIMARY KEY,
	message_id    TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	assignment_id TEXT NOT NULL REFERENCES category_assignments(id) ON DELETE CASCADE,
	category      TEXT NOT NULL,
	subcategory   TEXT NOT NULL,
	action        TEXT NOT NULL DEFAULT '',
	payload       TEXT NOT NULL DEFAULT '{}',
	summary       TEXT NOT NULL DEFAULT '',
	success       INTEGER NOT NULL CHECK(success IN (0, 1)),
	error         TEXT,
	handler       TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL CHECK(outcome IN ('success', 'failed', 'no_handler')),
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_records (
	id                    TEXT PRIMARY KEY,
	assignment_id         TEXT NOT NULL UNIQUE REFERENCES category_assignments(id) ON DELETE CASCADE,
	message_id            TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	original_category     TEXT NOT NULL,
	original_subcategory  TEXT NOT NULL,
	approved              INTEGER NOT NULL CHECK(approved IN (0, 1)),
	corrected_category    TEXT,
	corrected_subcategory TEXT,
	human_reasoning       TEXT NOT NULL DEFAULT '',
	reviewer              TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL,
	CHECK(approved = 1 OR (corrected_category IS NOT NULL AND corrected_subcategory IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_assignments_message ON category_assignments(message_id, created_at);
CREATE INDEX IF NOT EXISTS idx_assignments_pair ON category_assignments(category, subcategory);
CREATE INDEX IF NOT EXISTS idx_actions_assignment ON action_records(assignment_id, created_at);
CREATE INDEX IF NOT EXISTS idx_actions_message ON action_records(message_id);
CREATE INDEX IF NOT EXISTS idx_reviews_message ON review_records(message_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
