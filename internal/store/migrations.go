package store

type migration struct {
	version int
	sql     string
}

// migrations are applied in order; versions only ever grow.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	dedup_key   TEXT NOT NULL UNIQUE,
	account_id  TEXT NOT NULL,
	message_id  TEXT NOT NULL,
	uid         INTEGER NOT NULL DEFAULT 0,
	folder      TEXT NOT NULL,
	from_addr   TEXT NOT NULL DEFAULT '',
	to_addrs    TEXT NOT NULL DEFAULT '[]',
	subject     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	body_html   TEXT NOT NULL DEFAULT '',
	date        DATETIME NOT NULL,
	category    TEXT NOT NULL DEFAULT 'uncategorized',
	attachments TEXT NOT NULL DEFAULT '[]',
	headers     TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_account_id ON messages(account_id);
CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_account_folder_date
	ON messages(account_id, folder, date);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS knowledge (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	embedding  TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
	},
}
