// Package tokens keeps per-user Spotify credentials usable, refreshing
// expired access tokens through the accounts endpoint.
package tokens

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviidltp/looped/internal/db"
	"github.com/daviidltp/looped/internal/spotify"
)

// DefaultExpiry is assumed when the refresh response carries no expiry.
const DefaultExpiry = time.Hour

// Refresher exchanges a refresh token for fresh credentials.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*spotify.TokenResponse, error)
}

// CredentialStore persists refreshed credentials.
type CredentialStore interface {
	UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiresAt time.Time) error
}

// Manager validates and refreshes stored user credentials.
type Manager struct {
	api   Refresher
	store CredentialStore
	log   zerolog.Logger
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a token manager.
func NewManager(api Refresher, store CredentialStore, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		api:   api,
		store: store,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValid reports whether the user's access token can be used. An
// expired token is refreshed and the new credentials are persisted and
// written back into user before returning. Refresh failure is a data
// condition, not an error: the outcome is false and the cause is logged.
// A valid token causes no side effect.
func (m *Manager) EnsureValid(ctx context.Context, user *db.User) bool {
	if user.RefreshToken == nil || *user.RefreshToken == "" {
		m.log.Warn().Str("user_id", user.ID).Msg("no refresh token stored, cannot keep credentials valid")
		return false
	}
	if user.AccessToken == nil || *user.AccessToken == "" {
		m.log.Warn().Str("user_id", user.ID).Msg("no access token stored, sync skipped")
		return false
	}

	if user.TokenExpiresAt == nil || user.TokenExpiresAt.After(m.now()) {
		return true
	}

	m.log.Info().Str("user_id", user.ID).Msg("access token expired, refreshing")

	resp, err := m.api.RefreshToken(ctx, *user.RefreshToken)
	if err != nil {
		m.log.Error().Err(err).Str("user_id", user.ID).Msg("token refresh failed")
		return false
	}
	if resp == nil || resp.AccessToken == "" {
		m.log.Error().Str("user_id", user.ID).Msg("token refresh returned no access token")
		return false
	}

	expiry := resp.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(DefaultExpiry)
	}

	// The refresh token may or may not be rotated by the server.
	var rotated *string
	if resp.RefreshToken != "" {
		rotated = &resp.RefreshToken
	}

	if err := m.store.UpdateTokens(ctx, user.ID, resp.AccessToken, rotated, expiry); err != nil {
		m.log.Error().Err(err).Str("user_id", user.ID).Msg("persisting refreshed tokens failed")
		return false
	}

	user.AccessToken = &resp.AccessToken
	user.TokenExpiresAt = &expiry
	if rotated != nil {
		user.RefreshToken = rotated
	}

	m.log.Info().Str("user_id", user.ID).Time("expires_at", expiry).Msg("access token refreshed")
	return true
}
