package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/jmoiron/sqlx"
)

// UserToken is a user's stored calendar OAuth token.
type UserToken struct {
	OwnerID      string     `db:"owner_id"`
	AccessToken  string     `db:"access_token"`
	RefreshToken string     `db:"refresh_token"`
	TokenType    string     `db:"token_type"`
	Expiry       *time.Time `db:"expiry"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// SaveToken upserts the token for an owner. An empty refresh token keeps the
// stored one, since the provider only returns it on first consent.
func (s *Store) SaveToken(ctx context.Context, tok UserToken) error {
	tok.UpdatedAt = now()
	q := s.rebind(`
		INSERT INTO user_tokens (owner_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN user_tokens.refresh_token ELSE excluded.refresh_token END,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`)
	_, err := s.q.ExecContext(ctx, q, tok.OwnerID, tok.AccessToken, tok.RefreshToken, tok.TokenType, utc(tok.Expiry), tok.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// LoadToken returns the owner's token or model.ErrNotFound when the owner
// never linked a calendar.
func (s *Store) LoadToken(ctx context.Context, ownerID string) (UserToken, error) {
	q := s.rebind(`SELECT owner_id, access_token, refresh_token, token_type, expiry, updated_at FROM user_tokens WHERE owner_id = ?`)
	var tok UserToken
	if err := sqlx.GetContext(ctx, s.q, &tok, q, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserToken{}, fmt.Errorf("token for %s: %w", ownerID, model.ErrNotFound)
		}
		return UserToken{}, fmt.Errorf("load token: %w", err)
	}
	return tok, nil
}

// DeleteToken unlinks an owner's calendar account.
func (s *Store) DeleteToken(ctx context.Context, ownerID string) error {
	q := s.rebind(`DELETE FROM user_tokens WHERE owner_id = ?`)
	if _, err := s.q.ExecContext(ctx, q, ownerID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
