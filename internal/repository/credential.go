package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Robinemad1/EEETrading/internal/model"
)

// LatestCredential returns the credential record with the greatest issued_at.
// Ties resolve to the later insert.
func (s *Store) LatestCredential(ctx context.Context) (*model.Credential, error) {
	var c model.Credential
	err := s.db.QueryRowContext(ctx,
		`SELECT id, access_token, refresh_token, issued_at, expires_in, realm_id
		 FROM remote_credentials ORDER BY issued_at DESC, id DESC LIMIT 1`,
	).Scan(&c.ID, &c.AccessToken, &c.RefreshToken, &c.IssuedAt, &c.ExpiresIn, &c.RealmID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest credential: %w", err)
	}
	c.IssuedAt = c.IssuedAt.UTC()
	return &c, nil
}

// AppendCredential stores a new credential record. Existing records are
// never modified.
func (s *Store) AppendCredential(ctx context.Context, cred *model.Credential) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO remote_credentials (access_token, refresh_token, issued_at, expires_in, realm_id)
		 VALUES (?, ?, ?, ?, ?)`,
		cred.AccessToken, cred.RefreshToken, cred.IssuedAt.UTC(), cred.ExpiresIn, cred.RealmID,
	)
	if err != nil {
		return fmt.Errorf("failed to append credential: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read credential id: %w", err)
	}
	cred.ID = id
	return nil
}
