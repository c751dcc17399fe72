package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/sandbox"
)

const buildColumns = `id, project_id, version_id, state, success, error, commit_hash, created_at, started_at, ended_at`

func scanBuild(row interface{ Scan(...any) error }) (*model.Build, error) {
	var b model.Build
	var createdAt int64
	var startedAt, endedAt sql.NullInt64
	err := row.Scan(&b.ID, &b.ProjectID, &b.VersionID, &b.State, &b.Success,
		&b.Error, &b.Commit, &createdAt, &startedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		b.StartedAt = &t
	}
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		b.EndedAt = &t
	}
	return &b, nil
}

// CreateBuild inserts a build in the triggered state.
func (s *Store) CreateBuild(ctx context.Context, projectID, versionID int64) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &model.Build{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		VersionID: versionID,
		State:     model.BuildStateTriggered,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (id, project_id, version_id, state, success, error, commit_hash, created_at)
		VALUES (?, ?, ?, ?, 0, '', '', ?)`,
		b.ID, b.ProjectID, b.VersionID, b.State, b.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert build: %w", err)
	}
	return b, nil
}

// GetBuild fetches one build.
func (s *Store) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+buildColumns+" FROM builds WHERE id = ?", id)
	return scanBuild(row)
}

// SetBuildState advances the build's lifecycle state. Finished builds
// are terminal: transitions out of finished are refused.
func (s *Store) SetBuildState(ctx context.Context, id string, state model.BuildState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE builds SET state = ?,
			started_at = COALESCE(started_at, ?)
		WHERE id = ? AND state != ?`,
		state, time.Now().Unix(), id, model.BuildStateFinished)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("build %s: %w or already finished", id, ErrNotFound)
	}
	return nil
}

// FinishBuild marks the build terminal with its outcome.
func (s *Store) FinishBuild(ctx context.Context, id string, success bool, errMsg, commit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE builds SET state = ?, success = ?, error = ?,
			commit_hash = CASE WHEN ? != '' THEN ? ELSE commit_hash END,
			ended_at = ?
		WHERE id = ? AND state != ?`,
		model.BuildStateFinished, success, errMsg, commit, commit,
		time.Now().Unix(), id, model.BuildStateFinished)
	return err
}

// RecordCommand implements sandbox.CommandRecorder.
func (s *Store) RecordCommand(ctx context.Context, buildID string, r *sandbox.CommandResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO build_commands (build_id, command, output, exit_code, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		buildID, r.Command, r.Output, r.ExitCode, r.StartTime.Unix(), r.EndTime.Unix())
	return err
}

// ListCommands returns the recorded commands of a build in execution order.
func (s *Store) ListCommands(ctx context.Context, buildID string) ([]*model.BuildCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, build_id, command, output, exit_code, start_time, end_time
		FROM build_commands WHERE build_id = ? ORDER BY id`, buildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.BuildCommand
	for rows.Next() {
		var c model.BuildCommand
		var start, end int64
		if err := rows.Scan(&c.ID, &c.BuildID, &c.Command, &c.Output, &c.ExitCode, &start, &end); err != nil {
			return nil, err
		}
		c.StartTime = time.Unix(start, 0).UTC()
		c.EndTime = time.Unix(end, 0).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SweepStaleBuilds force-finishes builds with no activity since the
// cutoff. This is the periodic sweep, not cooperative cancellation.
func (s *Store) SweepStaleBuilds(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE builds SET state = ?, success = 0, error = 'Build exceeded its time budget and was terminated.', ended_at = ?
		WHERE state != ? AND created_at < ?`,
		model.BuildStateFinished, time.Now().Unix(), model.BuildStateFinished, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
