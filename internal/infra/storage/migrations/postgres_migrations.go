package migrations

// GetPostgresMigrations returns all PostgreSQL migrations in order
func GetPostgresMigrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "Initial schema - transcripts table",
			UpSQL: `
				CREATE TABLE IF NOT EXISTS transcripts (
					id VARCHAR(255) PRIMARY KEY,
					title TEXT NOT NULL,
					entries JSONB NOT NULL,
					tool_calls JSONB NOT NULL DEFAULT '[]'::jsonb,
					entry_count INTEGER NOT NULL DEFAULT 0,
					tool_call_count INTEGER NOT NULL DEFAULT 0,
					input_tokens BIGINT NOT NULL DEFAULT 0,
					output_tokens BIGINT NOT NULL DEFAULT 0,
					bookmark JSONB,
					completed BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL
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
				ALTER TABLE transcripts ADD COLUMN IF NOT EXISTS backend_url TEXT NOT NULL DEFAULT '';
			`,
			DownSQL: `
				ALTER TABLE transcripts DROP COLUMN IF EXISTS backend_url;
			`,
		},
	}
}
