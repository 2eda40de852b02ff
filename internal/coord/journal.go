package coord

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/geoforge/chunkplane/internal/work"
)

// Journal persists status transitions to SQLite so a restarted coordinator
// resumes a partition run instead of starting over. Chunk IDs are
// deterministic per region and config, so replaying terminal outcomes onto
// a freshly planned run reconstructs the same progress.
type Journal struct {
	db *sql.DB
}

func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			status TEXT NOT NULL,
			worker_id TEXT,
			at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_run ON transitions(run_id, chunk_id, id);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Record(runID, chunkID string, status work.Status, workerID string) error {
	_, err := j.db.Exec(
		`INSERT INTO transitions (run_id, chunk_id, status, worker_id, at) VALUES (?, ?, ?, ?, ?)`,
		runID, chunkID, string(status), workerID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal record: %w", err)
	}
	return nil
}

// Terminal returns the chunks of a run whose latest journaled status is
// terminal, with the worker that reported it. In-flight statuses are
// ignored: work lost with a dead coordinator is re-dispatched.
func (j *Journal) Terminal(runID string) (map[string]work.Status, error) {
	rows, err := j.db.Query(`
		SELECT t.chunk_id, t.status
		FROM transitions t
		INNER JOIN (
			SELECT chunk_id, MAX(id) AS max_id
			FROM transitions
			WHERE run_id = ?
			GROUP BY chunk_id
		) latest ON t.chunk_id = latest.chunk_id AND t.id = latest.max_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]work.Status)
	for rows.Next() {
		var chunkID, status string
		if err := rows.Scan(&chunkID, &status); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		s := work.Status(status)
		if s.Terminal() {
			out[chunkID] = s
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal rows: %w", err)
	}
	return out, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
