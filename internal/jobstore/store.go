// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package jobstore keeps a durable record of submitted jobs and their
// lifecycle in SQLite. The Store is an mq.ResultHandler.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"joblb/internal/logger"
	"joblb/internal/mq"
	_ "modernc.org/sqlite"
)

// ErrJobNotFound is returned for job ids with no record
var ErrJobNotFound = errors.New("job not found")

// Job is a stored job record
type Job struct {
	JobID     string          `json:"jobId"`
	Payload   json.RawMessage `json:"payload"`
	LifeCycle mq.LifeCycle    `json:"lifeCycle"`
	Status    mq.PeerStatus   `json:"status,omitempty"`
	Node      string          `json:"node,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type jobRow struct {
	JobID     string `db:"job_id"`
	Payload   string `db:"payload"`
	LifeCycle string `db:"life_cycle"`
	Status    string `db:"status"`
	Node      string `db:"node"`
	Result    string `db:"result"`
	Error     string `db:"error_message"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r *jobRow) job() *Job {
	job := &Job{
		JobID:     r.JobID,
		Payload:   json.RawMessage(r.Payload),
		LifeCycle: mq.LifeCycle(r.LifeCycle),
		Status:    mq.PeerStatus(r.Status),
		Node:      r.Node,
		Error:     r.Error,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.Result != "" {
		job.Result = json.RawMessage(r.Result)
	}
	return job
}

const jobColumns = `job_id, payload, life_cycle, status, node, result, error_message, created_at, updated_at`

// Store handles SQLite job record operations
type Store struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the job database at path.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared
	db.SetMaxOpenConns(1)

	store := &Store{
		db:     db,
		logger: logger.GetLogger("jobstore"),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			life_cycle TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			node TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_life_cycle ON jobs(life_cycle)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Create records a new job in Not Started
func (s *Store) Create(ctx context.Context, jobID string, payload json.RawMessage) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}

	now := time.Now().UnixMilli()
	query := `INSERT INTO jobs (job_id, payload, life_cycle, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, jobID, string(payload), string(mq.LifeCycleNotStarted), now, now); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().Str("job_id", jobID).Msg("Job record created")
	return s.Get(ctx, jobID)
}

// MarkQueued moves a job from Not Started to In Queue. Later states are kept.
func (s *Store) MarkQueued(ctx context.Context, jobID string) error {
	query := `UPDATE jobs SET life_cycle = ?, updated_at = ? WHERE job_id = ? AND life_cycle = ?`
	result, err := s.db.ExecContext(ctx, query,
		string(mq.LifeCycleInQueue), time.Now().UnixMilli(), jobID, string(mq.LifeCycleNotStarted))
	if err != nil {
		return fmt.Errorf("failed to mark job queued: %w", err)
	}
	return s.checkApplied(ctx, result, jobID)
}

// Get returns the record for jobID
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = ?`
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.job(), nil
}

// List returns up to limit records, newest first
func (s *Store) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, job_id LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].job())
	}
	return jobs, nil
}

// Counts returns the number of records per lifecycle state
func (s *Store) Counts(ctx context.Context) (map[mq.LifeCycle]int, error) {
	var rows []struct {
		LifeCycle string `db:"life_cycle"`
		Count     int    `db:"total"`
	}
	query := `SELECT life_cycle, COUNT(*) AS total FROM jobs GROUP BY life_cycle`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[mq.LifeCycle]int, len(rows))
	for _, row := range rows {
		counts[mq.LifeCycle(row.LifeCycle)] = row.Count
	}
	return counts, nil
}

// OnResult applies a lifecycle notification. Repeated and stale
// notifications are ignored: a terminal record is never changed, and
// In Queue never replaces In Progress.
func (s *Store) OnResult(ctx context.Context, result *mq.ResultEnvelope) error {
	if result.LifeCycle == "" {
		return nil
	}

	var message, errMsg string
	switch result.LifeCycle {
	case mq.LifeCycleFinished:
		message = string(result.Message)
	case mq.LifeCycleFailed:
		message = string(result.Message)
		errMsg = failureReason(result.Message)
	}

	query := `UPDATE jobs SET life_cycle = ?, status = ?, node = ?, result = ?, error_message = ?, updated_at = ?
		WHERE job_id = ? AND life_cycle NOT IN (?, ?)`
	args := []interface{}{
		string(result.LifeCycle), string(result.Status), result.Node, message, errMsg, time.Now().UnixMilli(),
		result.Job, string(mq.LifeCycleFinished), string(mq.LifeCycleFailed),
	}
	if result.LifeCycle == mq.LifeCycleInQueue {
		query += ` AND life_cycle <> ?`
		args = append(args, string(mq.LifeCycleInProgress))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", result.Job, err)
	}
	if err := s.checkApplied(ctx, res, result.Job); err != nil {
		return err
	}

	s.logger.Debug().
		Str("job_id", result.Job).
		Str("life_cycle", string(result.LifeCycle)).
		Msg("Job record updated")
	return nil
}

// checkApplied turns "no rows updated" into ErrJobNotFound when the record
// is missing. A record that exists but was not updated is not an error.
func (s *Store) checkApplied(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM jobs WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

func failureReason(message json.RawMessage) string {
	var body mq.ErrorBody
	if err := json.Unmarshal(message, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return string(message)
}

var _ mq.ResultHandler = (*Store)(nil)
