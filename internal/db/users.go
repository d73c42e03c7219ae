package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

const userColumns = `
	id, spotify_id, email, display_name, country, profile_image_url,
	access_token, refresh_token, token_expires_at, created_at, updated_at
`

// Get retrieves a user by internal ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// GetBySpotifyID retrieves a user by Spotify ID.
func (r *UserRepository) GetBySpotifyID(ctx context.Context, spotifyID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE spotify_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, spotifyID))
}

// List retrieves all known users, in no guaranteed order.
func (r *UserRepository) List(ctx context.Context) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Upsert creates a user keyed by Spotify ID, or updates the profile and
// credentials of an existing one. New users get a generated internal ID.
func (r *UserRepository) Upsert(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	query := `
		INSERT INTO users (
			id, spotify_id, email, display_name, country, profile_image_url,
			access_token, refresh_token, token_expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (spotify_id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			country = EXCLUDED.country,
			profile_image_url = EXCLUDED.profile_image_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.SpotifyID,
		user.Email,
		user.DisplayName,
		user.Country,
		user.ProfileImageURL,
		user.AccessToken,
		user.RefreshToken,
		user.TokenExpiresAt,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// UpdateTokens replaces a user's stored credentials in one statement.
// refreshToken may be nil to leave the stored refresh token untouched.
func (r *UserRepository) UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET access_token = $2,
			refresh_token = COALESCE($3, refresh_token),
			token_expires_at = $4,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a user. Play events and roll-ups cascade at the schema
// level.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) scanOne(row pgx.Row) (*User, error) {
	var u User
	err := scanUser(row, &u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

func scanUser(row pgx.Row, u *User) error {
	return row.Scan(
		&u.ID,
		&u.SpotifyID,
		&u.Email,
		&u.DisplayName,
		&u.Country,
		&u.ProfileImageURL,
		&u.AccessToken,
		&u.RefreshToken,
		&u.TokenExpiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
}
