package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/docharbor/docharbor/internal/model"
)

// LatestVersionSlug is the implicit version tracking the default branch.
const LatestVersionSlug = "latest"

const versionColumns = `id, project_id, slug, identifier, type, active, built, state, documentation_type`

func scanVersion(row interface{ Scan(...any) error }) (*model.Version, error) {
	var v model.Version
	err := row.Scan(&v.ID, &v.ProjectID, &v.Slug, &v.Identifier, &v.Type,
		&v.Active, &v.Built, &v.State, &v.DocumentationType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// CreateVersion inserts a version.
func (s *Store) CreateVersion(ctx context.Context, v *model.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertVersion(ctx, v)
}

func (s *Store) insertVersion(ctx context.Context, v *model.Version) error {
	if v.Slug == "" {
		v.Slug = model.Slugify(v.Identifier)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO versions (project_id, slug, identifier, type, active, built, state, documentation_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ProjectID, v.Slug, v.Identifier, v.Type, v.Active, v.Built, v.State, v.DocumentationType)
	if err != nil {
		return fmt.Errorf("insert version %s: %w", v.Slug, err)
	}
	v.ID, err = res.LastInsertId()
	return err
}

// GetVersion finds a version by project and slug.
func (s *Store) GetVersion(ctx context.Context, projectID int64, slug string) (*model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE project_id = ? AND slug = ?", projectID, slug)
	return scanVersion(row)
}

// ListVersions returns every version of a project.
func (s *Store) ListVersions(ctx context.Context, projectID int64) ([]*model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE project_id = ? ORDER BY slug", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateVersion persists mutable version fields.
func (s *Store) UpdateVersion(ctx context.Context, v *model.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE versions SET identifier = ?, active = ?, built = ?, state = ?, documentation_type = ?
		WHERE id = ?`,
		v.Identifier, v.Active, v.Built, v.State, v.DocumentationType, v.ID)
	return err
}

// GetOrCreateExternalVersion resolves the external version for a PR/MR,
// creating it on first sight and reopening plus refreshing it on
// subsequent pushes.
func (s *Store) GetOrCreateExternalVersion(ctx context.Context, projectID int64, data model.ExternalVersionData) (*model.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE project_id = ? AND slug = ? AND type = ?",
		projectID, data.ID, model.VersionTypeExternal)
	v, err := scanVersion(row)
	if err == nil {
		v.Identifier = data.Commit
		v.State = model.VersionStateOpen
		v.Active = true
		_, err = s.db.ExecContext(ctx,
			"UPDATE versions SET identifier = ?, state = ?, active = 1 WHERE id = ?",
			v.Identifier, v.State, v.ID)
		return v, err
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	v = &model.Version{
		ProjectID:  projectID,
		Slug:       data.ID,
		Identifier: data.Commit,
		Type:       model.VersionTypeExternal,
		Active:     true,
		State:      model.VersionStateOpen,
	}
	return v, s.insertVersion(ctx, v)
}

// CloseExternalVersion transitions an external version to closed. The
// version row is kept; artifact cleanup happens elsewhere on a delay.
func (s *Store) CloseExternalVersion(ctx context.Context, projectID int64, externalID string) (*model.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE project_id = ? AND slug = ? AND type = ?",
		projectID, externalID, model.VersionTypeExternal)
	v, err := scanVersion(row)
	if err != nil {
		return nil, err
	}

	v.State = model.VersionStateClosed
	v.Active = false
	_, err = s.db.ExecContext(ctx,
		"UPDATE versions SET state = ?, active = 0 WHERE id = ?", v.State, v.ID)
	return v, err
}

// UpdateLatestIdentifier points the "latest" version at a new default
// branch. Creates the version when missing.
func (s *Store) UpdateLatestIdentifier(ctx context.Context, projectID int64, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE versions SET identifier = ? WHERE project_id = ? AND slug = ?",
		branch, projectID, LatestVersionSlug)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	v := &model.Version{
		ProjectID:  projectID,
		Slug:       LatestVersionSlug,
		Identifier: branch,
		Type:       model.VersionTypeBranch,
		Active:     true,
	}
	return s.insertVersion(ctx, v)
}

// SyncVersions reconciles the stored branch/tag versions with the refs
// currently advertised by the remote. External versions are untouched.
// Returns the slugs of added versions.
func (s *Store) SyncVersions(ctx context.Context, projectID int64, refs []RemoteRef) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE project_id = ? AND type != ?",
		projectID, model.VersionTypeExternal)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]*model.Version)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		existing[v.Slug] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seen := map[string]bool{LatestVersionSlug: true}
	var added []string
	for _, ref := range refs {
		slug := model.Slugify(ref.Name)
		seen[slug] = true
		vtype := model.VersionTypeBranch
		if ref.IsTag {
			vtype = model.VersionTypeTag
		}
		if v, ok := existing[slug]; ok {
			if v.Identifier != ref.Name {
				if _, err := s.db.ExecContext(ctx,
					"UPDATE versions SET identifier = ? WHERE id = ?", ref.Name, v.ID); err != nil {
					return nil, err
				}
			}
			continue
		}
		v := &model.Version{
			ProjectID:  projectID,
			Slug:       slug,
			Identifier: ref.Name,
			Type:       vtype,
		}
		if err := s.insertVersion(ctx, v); err != nil {
			return nil, err
		}
		added = append(added, slug)
	}

	// Branches/tags that vanished upstream are removed; their builds
	// cascade away with them.
	for slug, v := range existing {
		if !seen[slug] {
			if _, err := s.db.ExecContext(ctx, "DELETE FROM versions WHERE id = ?", v.ID); err != nil {
				return nil, err
			}
		}
	}
	return added, nil
}

// RemoteRef mirrors vcs.RemoteRef without importing the vcs package.
type RemoteRef struct {
	Name  string
	IsTag bool
}
