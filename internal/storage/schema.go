package storage

const schema = `
-- The 'sources' table tracks where decks come from, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned DATETIME
);

-- One deck per imported file.
CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    file_id TEXT NOT NULL,
    name TEXT NOT NULL,
    est_minutes INTEGER NOT NULL DEFAULT 0,
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);

CREATE TABLE IF NOT EXISTS sections (
    id TEXT PRIMARY KEY,
    deck_id TEXT NOT NULL,
    name TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(deck_id) REFERENCES decks(id)
);

-- The 'cards' table stores each flashcard and its memory state.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    section_id TEXT NOT NULL,
    deck_id TEXT NOT NULL,
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    elapsed_days INTEGER NOT NULL DEFAULT 0,
    scheduled_days INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    state INTEGER NOT NULL DEFAULT 0, -- 0: New, 1: Learning, 2: Review, 3: Relearning
    last_review DATETIME,
    next_review DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id);
CREATE INDEX IF NOT EXISTS idx_cards_section ON cards(section_id);

-- Append-only practice results per deck.
CREATE TABLE IF NOT EXISTS practice_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    deck_id TEXT NOT NULL,
    ts DATETIME NOT NULL,
    correct_cards INTEGER NOT NULL,
    total_cards INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_practice_deck ON practice_log(deck_id);

CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    date TEXT NOT NULL, -- YYYY-MM-DD
    weight INTEGER NOT NULL DEFAULT 1,
    daily_minutes INTEGER NOT NULL DEFAULT 0,
    deck_ids TEXT NOT NULL DEFAULT '[]',
    deck_weights TEXT -- JSON object, NULL for an even split
);

-- The plan: one row per (assessment, day, deck) study block.
CREATE TABLE IF NOT EXISTS plan_entries (
    assessment_id TEXT NOT NULL,
    date TEXT NOT NULL, -- YYYY-MM-DD
    deck_id TEXT NOT NULL,
    target_minutes INTEGER NOT NULL,
    actual_minutes INTEGER,
    status TEXT NOT NULL DEFAULT 'pending',

    PRIMARY KEY (assessment_id, date, deck_id)
);

-- Bumped on every plan write so overlapping rebalances are detected.
CREATE TABLE IF NOT EXISTS plan_revisions (
    assessment_id TEXT PRIMARY KEY,
    revision INTEGER NOT NULL
);
`
