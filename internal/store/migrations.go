package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: core memory records",
		SQL: `
CREATE TABLE memories (
    id               TEXT PRIMARY KEY,
    project_id       TEXT NOT NULL,
    content          TEXT NOT NULL,
    summary          TEXT,

    -- Fingerprints
    content_hash     TEXT NOT NULL,
    simhash          INTEGER NOT NULL DEFAULT 0,

    sector           TEXT NOT NULL CHECK (sector IN ('episodic', 'semantic', 'procedural', 'emotional', 'reflective')),
    tier             TEXT NOT NULL CHECK (tier IN ('session', 'project')),

    -- Salience
    importance       REAL NOT NULL DEFAULT 0.5,
    salience         REAL NOT NULL DEFAULT 1.0 CHECK (salience >= 0.05 AND salience <= 1.0),
    access_count     INTEGER NOT NULL DEFAULT 0,

    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    last_accessed_at INTEGER NOT NULL,

    -- Bitemporal validity
    valid_from       INTEGER NOT NULL,
    valid_until      INTEGER,

    is_deleted       INTEGER NOT NULL DEFAULT 0,
    deleted_at       INTEGER,

    embedding_model  TEXT,
    tags             TEXT NOT NULL DEFAULT '[]',
    concepts         TEXT NOT NULL DEFAULT '[]',
    files            TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX idx_memories_project  ON memories(project_id, is_deleted);
CREATE INDEX idx_memories_hash     ON memories(project_id, content_hash);
CREATE INDEX idx_memories_decay    ON memories(is_deleted, salience, updated_at);
CREATE INDEX idx_memories_created  ON memories(project_id, created_at);
`,
	},
	{
		Version:     2,
		Description: "memories_fts: full-text index over content, summary, tags, concepts",
		SQL: `
CREATE VIRTUAL TABLE memories_fts USING fts5(
    content, summary, tags, concepts,
    content='memories', content_rowid='rowid'
);

CREATE TRIGGER memories_fts_insert AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content, summary, tags, concepts)
    VALUES (new.rowid, new.content, COALESCE(new.summary, ''), new.tags, new.concepts);
END;

CREATE TRIGGER memories_fts_delete AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, summary, tags, concepts)
    VALUES ('delete', old.rowid, old.content, COALESCE(old.summary, ''), old.tags, old.concepts);
END;

CREATE TRIGGER memories_fts_update AFTER UPDATE OF content, summary, tags, concepts ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, summary, tags, concepts)
    VALUES ('delete', old.rowid, old.content, COALESCE(old.summary, ''), old.tags, old.concepts);
    INSERT INTO memories_fts(rowid, content, summary, tags, concepts)
    VALUES (new.rowid, new.content, COALESCE(new.summary, ''), new.tags, new.concepts);
END;
`,
	},
	{
		Version:     3,
		Description: "sessions + session_memories: session membership",
		SQL: `
CREATE TABLE sessions (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER,
    summary     TEXT
);

CREATE INDEX idx_sessions_project ON sessions(project_id, started_at DESC);

CREATE TABLE session_memories (
    session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    memory_id   TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    usage_type  TEXT NOT NULL CHECK (usage_type IN ('created', 'recalled', 'updated', 'reinforced')),
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (session_id, memory_id, usage_type)
);

CREATE INDEX idx_session_memories_memory ON session_memories(memory_id);
`,
	},
	{
		Version:     4,
		Description: "memory_relationships: typed temporal edges",
		SQL: `
CREATE TABLE memory_relationships (
    id                TEXT PRIMARY KEY,
    source_id         TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    target_id         TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    relationship_type TEXT NOT NULL CHECK (relationship_type IN (
        'SUPERSEDES', 'CONTRADICTS', 'RELATED_TO', 'BUILDS_ON',
        'CONFIRMS', 'APPLIES_TO', 'DEPENDS_ON', 'ALTERNATIVE_TO')),
    confidence        REAL NOT NULL DEFAULT 1.0,
    originator        TEXT NOT NULL CHECK (originator IN ('user', 'llm', 'system')),
    created_at        INTEGER NOT NULL,
    valid_from        INTEGER NOT NULL,
    valid_until       INTEGER
);

CREATE INDEX idx_relationships_source ON memory_relationships(source_id, valid_until);
CREATE INDEX idx_relationships_target ON memory_relationships(target_id, relationship_type, valid_until);
`,
	},
	{
		Version:     5,
		Description: "embedding_models + memory_vectors: per-model embeddings",
		SQL: `
CREATE TABLE embedding_models (
    id          TEXT PRIMARY KEY,
    provider    TEXT NOT NULL,
    dimensions  INTEGER NOT NULL CHECK (dimensions > 0),
    is_active   INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);

CREATE TABLE memory_vectors (
    memory_id   TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    model_id    TEXT NOT NULL REFERENCES embedding_models(id),
    vector      BLOB NOT NULL,
    dimensions  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (memory_id, model_id)
);

CREATE INDEX idx_vectors_model ON memory_vectors(model_id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
