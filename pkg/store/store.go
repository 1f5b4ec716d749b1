// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists run state incrementally. Run records live in a
// sqlite table as JSON documents; generated markdown lives on disk next to
// the database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/teradata-labs/crucible/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	record     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_user ON runs(user_id, created_at);
`

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the JSON document stored per run. Every incremental update
// rewrites the whole document under the run lock.
type RunRecord struct {
	RunID     string                             `json:"run_id"`
	UserID    string                             `json:"user_id"`
	Status    types.RunStatus                    `json:"status"`
	Docs      []types.GeneratedDocument          `json:"docs"`
	Evals     []types.SingleEvalResult           `json:"evals"`
	Summaries map[string]types.SingleEvalSummary `json:"summaries,omitempty"`
	Timeline  []types.TimelineEvent              `json:"timeline"`
	Run       *types.Run                         `json:"run,omitempty"`
	CreatedAt time.Time                          `json:"created_at"`
	UpdatedAt time.Time                          `json:"updated_at"`
}

// Store is the sqlite-backed run store. All writes to one run serialise on
// a per-run lock spanning the whole read-modify-write cycle.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (creating if needed) the store at <dataDir>/crucible.db.
func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "crucible.db")
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("run store opened", zap.String("path", path))
	return &Store{db: db, logger: logger, locks: map[string]*sync.Mutex{}}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	return l
}

// CreateRun inserts a fresh run record.
func (s *Store) CreateRun(ctx context.Context, runID, userID string) error {
	now := time.Now().UTC()
	record := RunRecord{
		RunID:     runID,
		UserID:    userID,
		Status:    types.RunRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, user_id, status, record, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, userID, string(types.RunRunning), string(data),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	return nil
}

// GetRun loads a run record.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	var record RunRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("corrupt record for run %s: %w", runID, err)
	}
	return &record, nil
}

// mutate runs fn over the stored record under the run lock and writes the
// result back. The lock spans the full read-modify-write so concurrent
// producers never lose updates.
func (s *Store) mutate(ctx context.Context, runID string, fn func(*RunRecord) error) error {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := fn(record); err != nil {
		return err
	}
	record.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, record = ?, updated_at = ? WHERE run_id = ?`,
		string(record.Status), string(data), record.UpdatedAt.Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

// AppendGeneratedDoc records one generated document. Re-appending the same
// doc ID replaces the earlier entry, so retried persistence is idempotent.
func (s *Store) AppendGeneratedDoc(ctx context.Context, runID string, doc types.GeneratedDocument) error {
	return s.mutate(ctx, runID, func(r *RunRecord) error {
		for i := range r.Docs {
			if r.Docs[i].DocID == doc.DocID {
				r.Docs[i] = doc
				return nil
			}
		}
		r.Docs = append(r.Docs, doc)
		return nil
	})
}

// UpsertSingleEvalResult records one grading outcome, keyed by document,
// judge, and trial. Replaying the same result is idempotent; the affected
// document summary is recomputed from the stored results.
func (s *Store) UpsertSingleEvalResult(ctx context.Context, runID string, result types.SingleEvalResult) error {
	return s.mutate(ctx, runID, func(r *RunRecord) error {
		replaced := false
		for i := range r.Evals {
			e := &r.Evals[i]
			if e.DocID == result.DocID && e.JudgeModel == result.JudgeModel && e.Trial == result.Trial {
				*e = result
				replaced = true
				break
			}
		}
		if !replaced {
			r.Evals = append(r.Evals, result)
		}

		var docResults []types.SingleEvalResult
		for _, e := range r.Evals {
			if e.DocID == result.DocID {
				docResults = append(docResults, e)
			}
		}
		if r.Summaries == nil {
			r.Summaries = map[string]types.SingleEvalSummary{}
		}
		r.Summaries[result.DocID] = recomputeSummary(result.DocID, docResults)
		return nil
	})
}

// AppendTimelineEvent appends one event to the run timeline.
func (s *Store) AppendTimelineEvent(ctx context.Context, runID string, event types.TimelineEvent) error {
	return s.mutate(ctx, runID, func(r *RunRecord) error {
		r.Timeline = append(r.Timeline, event)
		return nil
	})
}

// FinishRun stores the final run outcome.
func (s *Store) FinishRun(ctx context.Context, runID string, run *types.Run) error {
	return s.mutate(ctx, runID, func(r *RunRecord) error {
		r.Status = run.Status
		r.Run = run
		return nil
	})
}

func recomputeSummary(docID string, results []types.SingleEvalResult) types.SingleEvalSummary {
	criterionSums := map[string]float64{}
	criterionCounts := map[string]int{}
	judgeSums := map[string]float64{}
	judgeCounts := map[string]int{}
	overallSum := 0.0

	for i := range results {
		r := &results[i]
		for _, sc := range r.Scores {
			criterionSums[sc.Criterion] += float64(sc.Score)
			criterionCounts[sc.Criterion]++
		}
		avg := r.AverageScore()
		judgeSums[r.JudgeModel] += avg
		judgeCounts[r.JudgeModel]++
		overallSum += avg
	}

	summary := types.SingleEvalSummary{
		DocID:          docID,
		CriterionMeans: map[string]float64{},
		PerJudgeMeans:  map[string]float64{},
		Results:        results,
	}
	for name, sum := range criterionSums {
		summary.CriterionMeans[name] = sum / float64(criterionCounts[name])
	}
	for name, sum := range judgeSums {
		summary.PerJudgeMeans[name] = sum / float64(judgeCounts[name])
	}
	if len(results) > 0 {
		summary.OverallMean = overallSum / float64(len(results))
	}
	return summary
}
