package database

// MigrationSchemaVersion tracks the current schema version
const MigrationSchemaVersion = "2026.10.01.001"

// DatabaseSchema holds the tables owned by platformenv. At most one default
// admin row exists; the singleton column enforces it.
const DatabaseSchema = `
CREATE TABLE IF NOT EXISTS platformenv_default_admin (
    id UUID PRIMARY KEY,
    singleton BOOLEAN NOT NULL DEFAULT true UNIQUE CHECK (singleton),
    username TEXT NOT NULL,
    password_hash TEXT NOT NULL, -- Argon2id hash
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
