package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/docharbor/docharbor/internal/model"
)

const integrationColumns = `id, project_id, type, secret, provider_data`

func scanIntegration(row interface{ Scan(...any) error }) (*model.Integration, error) {
	var i model.Integration
	err := row.Scan(&i.ID, &i.ProjectID, &i.Type, &i.Secret, &i.ProviderData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}

// CreateIntegration inserts an integration.
func (s *Store) CreateIntegration(ctx context.Context, i *model.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (project_id, type, secret, provider_data)
		VALUES (?, ?, ?, ?)`,
		i.ProjectID, i.Type, i.Secret, i.ProviderData)
	if err != nil {
		return fmt.Errorf("insert integration: %w", err)
	}
	i.ID, err = res.LastInsertId()
	return err
}

// GetIntegration fetches an integration by id.
func (s *Store) GetIntegration(ctx context.Context, id int64) (*model.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE id = ?", id)
	return scanIntegration(row)
}

// GetIntegrationForProject fetches the first integration of a type for a
// project, which is how provider-specific endpoints resolve their secret.
func (s *Store) GetIntegrationForProject(ctx context.Context, projectID int64, t model.IntegrationType) (*model.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE project_id = ? AND type = ? ORDER BY id LIMIT 1",
		projectID, t)
	return scanIntegration(row)
}
