// Package store persists run results to SQLite. One run groups the solutions
// and diagnostics of all its cases under a generated run identifier.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/drivelab/gearshift/pkg/models"
)

// Store wraps the SQLite connection.
type Store struct {
	log  zerolog.Logger
	conn *sql.DB
}

// Open creates or opens the results database and applies the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", path)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{
		log:  log.With().Str("component", "store").Logger(),
		conn: conn,
	}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize results database: %w", err)
	}

	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS solutions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		case_name TEXT NOT NULL,
		average_gear REAL NOT NULL,
		checksum_vxgear REAL NOT NULL,
		power_insufficient INTEGER NOT NULL,
		neutral_insertions INTEGER NOT NULL,
		downshift_direct_use INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS solution_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		case_name TEXT NOT NULL,
		time INTEGER NOT NULL,
		vehicle_speed REAL NOT NULL,
		engine_speed REAL NOT NULL,
		available_power REAL NOT NULL,
		gear INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_solutions_run ON solutions(run_id);
	CREATE INDEX IF NOT EXISTS idx_solution_rows_run_case ON solution_rows(run_id, case_name);
	`

	_, err := s.conn.Exec(schema)

	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// SaveRun writes all solutions of one run inside a single transaction and
// returns the generated run identifier.
func (s *Store) SaveRun(solutions []*models.Solution) (string, error) {
	runID := uuid.New().String()

	tx, err := s.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO runs (id) VALUES (?)`, runID); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	solStmt, err := tx.Prepare(`INSERT INTO solutions
		(run_id, case_name, average_gear, checksum_vxgear, power_insufficient, neutral_insertions, downshift_direct_use)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare solution insert: %w", err)
	}
	defer solStmt.Close()

	rowStmt, err := tx.Prepare(`INSERT INTO solution_rows
		(run_id, case_name, time, vehicle_speed, engine_speed, available_power, gear)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer rowStmt.Close()

	for _, solution := range solutions {
		_, err := solStmt.Exec(
			runID,
			solution.CaseName,
			solution.AverageGear,
			solution.ChecksumVxGear,
			len(solution.Diagnostics.PowerInsufficient),
			len(solution.Diagnostics.NeutralInsertions),
			solution.Diagnostics.DownshiftDirectUse,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert solution %q: %w", solution.CaseName, err)
		}

		for _, row := range solution.Rows {
			_, err := rowStmt.Exec(
				runID,
				solution.CaseName,
				row.Time,
				row.VehicleSpeed,
				row.EngineSpeed,
				row.AvailablePower,
				row.Gear,
			)
			if err != nil {
				return "", fmt.Errorf("failed to insert row for %q: %w", solution.CaseName, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}

	s.log.Info().
		Str("run_id", runID).
		Int("cases", len(solutions)).
		Msg("run persisted")

	return runID, nil
}

// RunSummary is one persisted case result as read back from the store.
type RunSummary struct {
	CaseName          string
	AverageGear       float64
	ChecksumVxGear    float64
	PowerInsufficient int
	NeutralInsertions int
}

// LoadRun reads the per-case summaries of a stored run.
func (s *Store) LoadRun(runID string) ([]RunSummary, error) {
	rows, err := s.conn.Query(`SELECT case_name, average_gear, checksum_vxgear, power_insufficient, neutral_insertions
		FROM solutions WHERE run_id = ? ORDER BY case_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %q: %w", runID, err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var sum RunSummary
		if err := rows.Scan(&sum.CaseName, &sum.AverageGear, &sum.ChecksumVxGear, &sum.PowerInsufficient, &sum.NeutralInsertions); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		summaries = append(summaries, sum)
	}

	return summaries, rows.Err()
}
