// Package sqlite stores runs and their step records in a SQLite database.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // database/sql driver
	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/surge/metrics"
	"github.com/liuxd6825/surge/output"
)

const (
	defaultPath = "surge.db"
	flushPeriod = time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	scenario TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	status TEXT NOT NULL,
	launched INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	cancelled INTEGER NOT NULL DEFAULT 0,
	summary TEXT
);
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	vu INTEGER NOT NULL,
	step TEXT NOT NULL,
	kind TEXT NOT NULL,
	start_unix_ms INTEGER NOT NULL,
	duration_ms REAL NOT NULL,
	ok INTEGER NOT NULL,
	status INTEGER NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_records_run_step ON records(run_id, step);
`

// Run statuses stored in the runs table.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
)

// Output writes one row per run and one row per step record.
type Output struct {
	output.RecordBuffer

	params          output.Params
	logger          logrus.FieldLogger
	path            string
	db              *sql.DB
	periodicFlusher *output.PeriodicFlusher
}

// New returns a new SQLite output writing to the database file named by the
// output argument.
func New(params output.Params) (output.Output, error) {
	path := params.ConfigArgument
	if path == "" {
		path = defaultPath
	}
	return &Output{
		params: params,
		path:   path,
		logger: params.Logger.WithFields(logrus.Fields{
			"output":   "sqlite",
			"filename": path,
		}),
	}, nil
}

// Description returns a human-readable description of the output.
func (o *Output) Description() string {
	return fmt.Sprintf("sqlite (%s)", o.path)
}

// Start opens the database, creates the schema and the run row.
func (o *Output) Start() error {
	o.logger.Debug("Starting...")

	db, err := sql.Open("sqlite3", o.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create the schema: %w", err)
	}
	_, err = db.Exec(`INSERT INTO runs (id, scenario, started_at, status) VALUES (?, ?, ?, ?)`,
		o.params.RunID, o.params.Scenario, time.Now().UTC(), StatusRunning)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create run: %w", err)
	}
	o.db = db

	pf, err := output.NewPeriodicFlusher(flushPeriod, o.flushRecords)
	if err != nil {
		return err
	}
	o.periodicFlusher = pf
	o.logger.Debug("Started!")
	return nil
}

func (o *Output) flushRecords() {
	records := o.GetBufferedRecords()
	if len(records) == 0 {
		return
	}
	if err := o.insertRecords(records); err != nil {
		o.logger.WithError(err).Error("Couldn't store the records")
	}
}

func (o *Output) insertRecords(records []metrics.Record) error {
	tx, err := o.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO records (run_id, vu, step, kind, start_unix_ms, duration_ms, ok, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		_, err := stmt.Exec(o.params.RunID, int64(r.VU), r.Step, r.Kind, //nolint:gosec
			r.Start.UnixMilli(), metrics.D(r.Duration), r.OK, r.Status, r.Error)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Stop flushes the remaining records and finalizes the run row.
func (o *Output) Stop(summary *metrics.Summary) error {
	o.logger.Debug("Stopping...")
	defer o.logger.Debug("Stopped!")
	o.periodicFlusher.Stop()
	defer func() { _ = o.db.Close() }()

	if summary == nil {
		summary = &metrics.Summary{Finished: time.Now()}
	}
	data, err := json.Marshal(output.WrapSummary(o.params.RunID, o.params.Scenario, summary))
	if err != nil {
		return err
	}
	_, err = o.db.Exec(`
		UPDATE runs
		SET finished_at = ?, status = ?, launched = ?, completed = ?, failed = ?, cancelled = ?, summary = ?
		WHERE id = ?
	`, summary.Finished.UTC(), StatusFinished, summary.VUs.Launched, summary.VUs.Completed,
		summary.VUs.Failed, summary.VUs.Cancelled, string(data), o.params.RunID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}
