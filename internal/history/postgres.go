package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// maxSessionTurns bounds how much transcript one session may accumulate;
// older turns are pruned on append.
const maxSessionTurns = 500

// PGStore persists transcripts to PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// Open connects to the transcript database and applies pending migrations.
func Open(connStr string) (*PGStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("history open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("history migrate: %w", err)
	}
	return &PGStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *PGStore) Close() error {
	return s.db.Close()
}

// Append records one turn and prunes the session's oldest overflow.
func (s *PGStore) Append(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, created_at) VALUES ($1, $2, $3, NOW())`,
		sessionID, role, content,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = $1 AND id NOT IN (
			SELECT id FROM turns WHERE session_id = $1 ORDER BY id DESC LIMIT $2
		)`,
		sessionID, maxSessionTurns,
	)
	return err
}

// Recent returns up to limit most recent turns for a session, oldest first.
func (s *PGStore) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, role, content, created_at FROM (
			SELECT id, session_id, role, content, created_at
			FROM turns WHERE session_id = $1
			ORDER BY id DESC LIMIT $2
		) latest ORDER BY id ASC
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err = rows.Scan(&t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
