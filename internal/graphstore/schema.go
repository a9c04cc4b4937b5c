// internal/graphstore/schema.go
package graphstore

// Postgres DDL. Applied by PostgresRepo.Migrate; every statement is idempotent.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS screen_nodes (
    id             TEXT PRIMARY KEY,
    app_id         TEXT NOT NULL,
    layout_hash    TEXT NOT NULL,
    ocr_stems_hash TEXT NOT NULL,
    first_run_id   TEXT NOT NULL,
    bundle         JSONB NOT NULL DEFAULT '{}',
    visits         INTEGER NOT NULL DEFAULT 1,
    first_seen     TIMESTAMPTZ NOT NULL,
    last_seen      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_screen_nodes_run ON screen_nodes (first_run_id);

CREATE TABLE IF NOT EXISTS transition_edges (
    id           TEXT PRIMARY KEY,
    from_id      TEXT NOT NULL REFERENCES screen_nodes (id),
    to_id        TEXT NOT NULL REFERENCES screen_nodes (id),
    action       TEXT NOT NULL,
    first_run_id TEXT NOT NULL,
    count        INTEGER NOT NULL DEFAULT 1,
    first_seen   TIMESTAMPTZ NOT NULL,
    last_seen    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transition_edges_from ON transition_edges (from_id);
CREATE INDEX IF NOT EXISTS idx_transition_edges_run ON transition_edges (first_run_id);

CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    app_id      TEXT NOT NULL,
    stop_reason TEXT NOT NULL,
    class       TEXT NOT NULL,
    summary     JSONB NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
`

// SQLite DDL. Timestamps are RFC3339 text, JSON columns are plain text.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS screen_nodes (
    id             TEXT PRIMARY KEY,
    app_id         TEXT NOT NULL,
    layout_hash    TEXT NOT NULL,
    ocr_stems_hash TEXT NOT NULL,
    first_run_id   TEXT NOT NULL,
    bundle         TEXT NOT NULL DEFAULT '{}',
    visits         INTEGER NOT NULL DEFAULT 1,
    first_seen     TEXT NOT NULL,
    last_seen      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_screen_nodes_run ON screen_nodes (first_run_id);

CREATE TABLE IF NOT EXISTS transition_edges (
    id           TEXT PRIMARY KEY,
    from_id      TEXT NOT NULL REFERENCES screen_nodes (id),
    to_id        TEXT NOT NULL REFERENCES screen_nodes (id),
    action       TEXT NOT NULL,
    first_run_id TEXT NOT NULL,
    count        INTEGER NOT NULL DEFAULT 1,
    first_seen   TEXT NOT NULL,
    last_seen    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transition_edges_from ON transition_edges (from_id);
CREATE INDEX IF NOT EXISTS idx_transition_edges_run ON transition_edges (first_run_id);

CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    app_id      TEXT NOT NULL,
    stop_reason TEXT NOT NULL,
    class       TEXT NOT NULL,
    summary     TEXT NOT NULL,
    finished_at TEXT NOT NULL
);
`
