package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ewintr.nl/ytsum/model"
	"github.com/google/uuid"
)

const (
	runColumns   = `id, run_trigger, status, started_at, finished_at, channels_checked, videos_discovered, transcripts_fetched, summaries_created, errors, error_detail`
	pipelineLock = "pipeline"
)

func (s *SQL) StartRun(ctx context.Context, run *model.Run) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO run_history (id, run_trigger, status, started_at)
VALUES (?, ?, ?, ?)`), run.ID, string(run.Trigger), string(run.Status), ts(run.StartedAt)); err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, classify(err))
	}

	return nil
}

func (s *SQL) FinishRun(ctx context.Context, run *model.Run) error {
	return s.finishRun(ctx, s.db, run)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQL) finishRun(ctx context.Context, e execer, run *model.Run) error {
	detail := run.ErrorDetail
	if detail == nil {
		detail = []string{}
	}
	ed, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	res, err := e.ExecContext(ctx, s.rebind(`
UPDATE run_history SET
status = ?, finished_at = ?, channels_checked = ?, videos_discovered = ?, transcripts_fetched = ?,
summaries_created = ?, errors = ?, error_detail = ?
WHERE id = ?`),
		string(run.Status), nullTime(run.FinishedAt), run.ChannelsChecked, run.VideosDiscovered, run.TranscriptsFetched,
		run.SummariesCreated, run.Errors, string(ed), run.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, model.ErrNotFound)
	}

	return nil
}

func (s *SQL) Run(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	var run *model.Run
	err := s.read(ctx, func(ctx context.Context) error {
		r, err := scanRun(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM run_history WHERE id = ?`), id))
		if err != nil {
			return err
		}
		run = r
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}

	return run, err
}

// Runs lists run history, newest first.
func (s *SQL) Runs(ctx context.Context, limit, offset int) ([]*model.Run, error) {
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM run_history ORDER BY started_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
}

func (s *SQL) InProgressRuns(ctx context.Context) ([]*model.Run, error) {
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM run_history WHERE status = ? ORDER BY started_at`, string(model.RunInProgress))
}

func (s *SQL) queryRuns(ctx context.Context, query string, args ...any) ([]*model.Run, error) {
	var runs []*model.Run
	err := s.read(ctx, func(ctx context.Context) error {
		runs = []*model.Run{}
		rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanRun(rows)
			if err != nil {
				return err
			}
			runs = append(runs, r)
		}
		return rows.Err()
	})

	return runs, err
}

// AcquireRunLock takes the pipeline lock for lock.RunID. A lock acquired
// before staleBefore belongs to a crashed process and is taken over, its run
// is marked failed. When the lock is held, the holder is returned with
// ErrRunLocked.
func (s *SQL) AcquireRunLock(ctx context.Context, lock model.RunLock, staleBefore time.Time) (model.RunLock, error) {
	var holder model.RunLock
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, found, err := s.currentRunLock(ctx, tx)
		if err != nil {
			return err
		}
		if found {
			if !current.AcquiredAt.Before(staleBefore) {
				holder = current
				return ErrRunLocked
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM run_lock WHERE name = ?`), pipelineLock); err != nil {
				return err
			}
			if err := s.interrupt(ctx, tx, current.RunID, lock.AcquiredAt); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO run_lock (name, run_id, owner, acquired_at) VALUES (?, ?, ?, ?)`),
			pipelineLock, lock.RunID, lock.Owner, ts(lock.AcquiredAt)); err != nil {
			if errors.Is(classify(err), model.ErrIntegrity) {
				// another process won the race
				return ErrRunLocked
			}
			return err
		}
		holder = lock
		return nil
	})

	return holder, err
}

// interrupt fails a run that is still in progress while its lock is taken
// over.
func (s *SQL) interrupt(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error {
	run, err := scanRun(tx.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM run_history WHERE id = ?`), id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	case run.Status != model.RunInProgress:
		return nil
	}
	run.Status = model.RunFailed
	run.FinishedAt = at
	run.RecordError("run", model.ErrInterrupted)

	return s.finishRun(ctx, tx, run)
}

func (s *SQL) ReleaseRunLock(ctx context.Context, runID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM run_lock WHERE name = ? AND run_id = ?`), pipelineLock, runID)
	return err
}

func (s *SQL) CurrentRunLock(ctx context.Context) (model.RunLock, bool, error) {
	var (
		lock  model.RunLock
		found bool
	)
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		lock, found, err = s.currentRunLock(ctx, s.db)
		return err
	})

	return lock, found, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQL) currentRunLock(ctx context.Context, q queryer) (model.RunLock, bool, error) {
	var lock model.RunLock
	err := q.QueryRowContext(ctx, s.rebind(`SELECT run_id, owner, acquired_at FROM run_lock WHERE name = ?`), pipelineLock).
		Scan(&lock.RunID, &lock.Owner, &lock.AcquiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunLock{}, false, nil
	}
	if err != nil {
		return model.RunLock{}, false, err
	}
	lock.AcquiredAt = lock.AcquiredAt.UTC()

	return lock, true, nil
}

func scanRun(row scanner) (*model.Run, error) {
	var (
		r        model.Run
		trigger  string
		status   string
		finished sql.NullTime
		detail   string
	)
	if err := row.Scan(&r.ID, &trigger, &status, &r.StartedAt, &finished, &r.ChannelsChecked, &r.VideosDiscovered,
		&r.TranscriptsFetched, &r.SummariesCreated, &r.Errors, &detail); err != nil {
		return nil, err
	}
	r.Trigger = model.RunTrigger(trigger)
	r.Status = model.RunStatus(status)
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = fromNull(finished)
	if err := json.Unmarshal([]byte(detail), &r.ErrorDetail); err != nil {
		return nil, fmt.Errorf("error detail of run %s: %w", r.ID, err)
	}

	return &r, nil
}
