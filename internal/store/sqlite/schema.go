package sqlite

// schema is applied with CREATE TABLE IF NOT EXISTS on every open, mirroring
// the teacher's additive, idempotent schema.go.
const schema = `
CREATE TABLE IF NOT EXISTS clocks (
    directory TEXT PRIMARY KEY,
    clock TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signal TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_signal ON signals(signal, id);

CREATE TABLE IF NOT EXISTS flags (
    name TEXT PRIMARY KEY,
    variant TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    local_path TEXT NOT NULL,
    remote_path TEXT NOT NULL,
    old_remote_path TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'PENDING',
    retry_at INTEGER NOT NULL,
    n_retries INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_jobs_status_retry ON sync_jobs(status, retry_at);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_local_path ON sync_jobs(local_path, status);
`
