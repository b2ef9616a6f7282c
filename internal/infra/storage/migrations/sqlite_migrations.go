package migrations

// GetSQLiteMigrations returns all SQLite migrations in order
func GetSQLiteMigrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "Initial schema - transcripts table",
			UpSQL: `
				CREATE TABLE IF NOT EXISTS transcripts (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					entries TEXT NOT NULL,
					tool_calls TEXT NOT NULL DEFAULT '[]',
					entry_count INTEGER NOT NULL DEFAULT 0,
					tool_call_count INTEGER NOT NULL DEFAULT 0,
					input_tokens INTEGER NOT NULL DEFAULT 0,
					output_tokens INTEGER NOT NULL DEFAULT 0,
					bookmark TEXT,
					completed BOOLEAN NOT NULL DEFAULT FALSE,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_transcripts_updated_at ON transcripts(updated_at DESC);
			`,
			DownSQL: `
				DROP INDEX IF EXISTS idx_transcripts_updated_at;
				DROP TABLE IF EXISTS transcripts;
			`,
		},
		{
			Version:     "002",
			Description: "Record backend url per transcript",
			UpSQL: `
				ALTER TABLE transcripts ADD COLUMN backend_url TEXT NOT NULL DEFAULT '';
			`,
			DownSQL: `
				ALTER TABLE transcripts DROP COLUMN backend_url;
			`,
		},
	}
}
