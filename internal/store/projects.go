package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docharbor/docharbor/internal/model"
)

// ErrNotFound marks a missing row.
var ErrNotFound = errors.New("not found")

const projectColumns = `id, slug, repo_url, repo_type, default_branch, language, canonical_url,
	external_builds_enabled, enable_pdf_build, enable_epub_build,
	install_project, use_system_packages, skip, created_at`

func scanProject(row interface{ Scan(...any) error }) (*model.Project, error) {
	var p model.Project
	var createdAt int64
	err := row.Scan(&p.ID, &p.Slug, &p.RepoURL, &p.RepoType, &p.DefaultBranch, &p.Language,
		&p.CanonicalURL, &p.ExternalBuildsEnabled, &p.EnablePDFBuild, &p.EnableEpubBuild,
		&p.InstallProject, &p.UseSystemPackages, &p.Skip, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}

// CreateProject inserts a project and returns it with its id set.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.RepoType == "" {
		p.RepoType = model.VCSGit
	}
	if p.Language == "" {
		p.Language = "en"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (slug, repo_url, repo_type, default_branch, language, canonical_url,
			external_builds_enabled, enable_pdf_build, enable_epub_build,
			install_project, use_system_packages, skip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Slug, p.RepoURL, p.RepoType, p.DefaultBranch, p.Language, p.CanonicalURL,
		p.ExternalBuildsEnabled, p.EnablePDFBuild, p.EnableEpubBuild,
		p.InstallProject, p.UseSystemPackages, p.Skip, p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert project %s: %w", p.Slug, err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// UpdateProject persists mutable project fields.
func (s *Store) UpdateProject(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET repo_url = ?, default_branch = ?, language = ?, canonical_url = ?,
			external_builds_enabled = ?, enable_pdf_build = ?, enable_epub_build = ?,
			install_project = ?, use_system_packages = ?, skip = ?
		WHERE id = ?`,
		p.RepoURL, p.DefaultBranch, p.Language, p.CanonicalURL,
		p.ExternalBuildsEnabled, p.EnablePDFBuild, p.EnableEpubBuild,
		p.InstallProject, p.UseSystemPackages, p.Skip, p.ID)
	return err
}

// GetProjectBySlug looks a project up by its slug.
func (s *Store) GetProjectBySlug(ctx context.Context, slug string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE slug = ?", slug)
	return scanProject(row)
}

// GetProject looks a project up by id.
func (s *Store) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	return scanProject(row)
}
