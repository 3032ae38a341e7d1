package postgres

// Migrations returns the embedded schema migrations in order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_students", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_assessments", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_tutoring_sessions", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS students (
    id             TEXT PRIMARY KEY,
    cohort         TEXT NOT NULL,
    weak_areas     TEXT[] NOT NULL DEFAULT '{}',
    strong_areas   TEXT[] NOT NULL DEFAULT '{}',
    difficulty     SMALLINT NOT NULL DEFAULT 2,
    learning_style TEXT NOT NULL DEFAULT 'visual',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_cohort CHECK (cohort IN ('1', '2')),
    CONSTRAINT valid_difficulty CHECK (difficulty BETWEEN 1 AND 4)
);

CREATE INDEX IF NOT EXISTS idx_students_cohort ON students(cohort);

-- Deduplicated by tag; repeated detection bumps count and last_seen.
CREATE TABLE IF NOT EXISTS misconceptions (
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    tag        TEXT NOT NULL,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen  TIMESTAMPTZ NOT NULL,
    count      INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (student_id, tag),
    CONSTRAINT valid_count CHECK (count >= 1)
);

-- Append-only progress log.
CREATE TABLE IF NOT EXISTS progress_notes (
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    text       TEXT NOT NULL,
    at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (student_id, seq)
);
`

const migration001Down = `
DROP TABLE IF EXISTS progress_notes;
DROP TABLE IF EXISTS misconceptions;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ASSESSMENTS AND RATINGS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS assessments (
    id         TEXT PRIMARY KEY,
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    kind       TEXT NOT NULL,
    answers    JSONB NOT NULL,
    taken_at   TIMESTAMPTZ NOT NULL,

    CONSTRAINT valid_kind CHECK (kind IN ('pre', 'final'))
);

CREATE INDEX IF NOT EXISTS idx_assessments_student ON assessments(student_id, taken_at);

CREATE TABLE IF NOT EXISTS performance_ratings (
    id         BIGSERIAL PRIMARY KEY,
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    record_id  TEXT NOT NULL,
    rating     JSONB NOT NULL,
    rated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ratings_student ON performance_ratings(student_id, rated_at);
`

const migration002Down = `
DROP TABLE IF EXISTS performance_ratings;
DROP TABLE IF EXISTS assessments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: TUTORING SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS tutoring_sessions (
    id         TEXT PRIMARY KEY,
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    state      TEXT NOT NULL,
    concept    TEXT NOT NULL DEFAULT '',
    snapshot   JSONB NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_student ON tutoring_sessions(student_id, started_at);

-- At most one open session per student.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
    ON tutoring_sessions(student_id)
    WHERE state NOT IN ('SESSION_COMPLETE', 'SESSION_ABANDONED');
`

const migration003Down = `
DROP TABLE IF EXISTS tutoring_sessions;
`
