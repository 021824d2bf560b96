package store

// migration is one schema step, rendered per dialect
type migration struct {
	version  int
	sqlite   string
	postgres string
}

func (m migration) sql(d Dialect) string {
	if d == DialectPostgres {
		return m.postgres
	}
	return m.sqlite
}

var migrations = []migration{
	{version: 1, sqlite: schemaV1SQLite, postgres: schemaV1Postgres},
	{version: 2, sqlite: schemaV2, postgres: schemaV2},
}

// Schema v1 - records, tags and the selection table
const schemaV1SQLite = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS records (
  id INTEGER PRIMARY KEY,
  parent_id INTEGER REFERENCES records(id) ON DELETE SET NULL,
  md5 TEXT NOT NULL,
  file_ext TEXT NOT NULL,
  rating TEXT NOT NULL DEFAULT '',
  width INTEGER NOT NULL DEFAULT 0,
  height INTEGER NOT NULL DEFAULT 0,
  file_size INTEGER NOT NULL DEFAULT 0,
  score INTEGER NOT NULL DEFAULT 0,
  up_score INTEGER NOT NULL DEFAULT 0,
  down_score INTEGER NOT NULL DEFAULT 0,
  fav_count INTEGER NOT NULL DEFAULT 0,
  comment_count INTEGER NOT NULL DEFAULT 0,
  is_deleted BOOLEAN NOT NULL DEFAULT 0,
  is_pending BOOLEAN NOT NULL DEFAULT 0,
  is_flagged BOOLEAN NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS tags (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS record_tags (
  record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
  tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
  PRIMARY KEY (record_id, tag_id)
);

CREATE TABLE IF NOT EXISTS record_sources (
  record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
  source TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS selectable_records (
  record_id INTEGER PRIMARY KEY REFERENCES records(id) ON DELETE CASCADE,
  rating TEXT NOT NULL DEFAULT '',
  score INTEGER NOT NULL DEFAULT 0,
  fav_count INTEGER NOT NULL DEFAULT 0,
  is_downloaded BOOLEAN NOT NULL DEFAULT 0
);
`

const schemaV1Postgres = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
  id BIGINT PRIMARY KEY,
  parent_id BIGINT REFERENCES records(id) ON DELETE SET NULL,
  md5 TEXT NOT NULL,
  file_ext TEXT NOT NULL,
  rating TEXT NOT NULL DEFAULT '',
  width INTEGER NOT NULL DEFAULT 0,
  height INTEGER NOT NULL DEFAULT 0,
  file_size BIGINT NOT NULL DEFAULT 0,
  score INTEGER NOT NULL DEFAULT 0,
  up_score INTEGER NOT NULL DEFAULT 0,
  down_score INTEGER NOT NULL DEFAULT 0,
  fav_count INTEGER NOT NULL DEFAULT 0,
  comment_count INTEGER NOT NULL DEFAULT 0,
  is_deleted BOOLEAN NOT NULL DEFAULT false,
  is_pending BOOLEAN NOT NULL DEFAULT false,
  is_flagged BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ,
  updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tags (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS record_tags (
  record_id BIGINT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
  tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
  PRIMARY KEY (record_id, tag_id)
);

CREATE TABLE IF NOT EXISTS record_sources (
  record_id BIGINT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
  source TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS selectable_records (
  record_id BIGINT PRIMARY KEY REFERENCES records(id) ON DELETE CASCADE,
  rating TEXT NOT NULL DEFAULT '',
  score INTEGER NOT NULL DEFAULT 0,
  fav_count INTEGER NOT NULL DEFAULT 0,
  is_downloaded BOOLEAN NOT NULL DEFAULT false
);
`

// Schema v2 - lookup indexes, identical in both dialects
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_records_parent_id ON records(parent_id);
CREATE INDEX IF NOT EXISTS idx_records_score ON records(score);
CREATE INDEX IF NOT EXISTS idx_records_fav_count ON records(fav_count);
CREATE INDEX IF NOT EXISTS idx_record_tags_tag_id ON record_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_record_sources_record_id ON record_sources(record_id);
CREATE INDEX IF NOT EXISTS idx_selectable_records_downloaded ON selectable_records(is_downloaded);
`
