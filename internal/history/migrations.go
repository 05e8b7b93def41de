package history

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    run_id TEXT,
    prompt TEXT NOT NULL,
    task_type TEXT,
    model_tier TEXT NOT NULL,
    cli_kind TEXT NOT NULL,
    working_dir TEXT NOT NULL,
    state TEXT NOT NULL,
    exit_code INTEGER,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);

CREATE TABLE IF NOT EXISTS phase_attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_ref TEXT NOT NULL REFERENCES runs(id),
    phase TEXT NOT NULL,
    attempt INTEGER NOT NULL,
    auto_fix BOOLEAN DEFAULT FALSE,
    exit_code INTEGER,
    started_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    tokens_input INTEGER DEFAULT 0,
    tokens_output INTEGER DEFAULT 0,
    cost_usd REAL DEFAULT 0,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_phase_attempts_run_ref ON phase_attempts(run_ref);
`
