package db

import "time"

// User represents a Spotify user account together with its stored
// credentials. Credentials are mutated only by the token manager and the
// login endpoint.
type User struct {
	ID              string
	SpotifyID       string
	Email           string
	DisplayName     string
	Country         *string    // nullable
	ProfileImageURL *string    // nullable
	AccessToken     *string    // nullable
	RefreshToken    *string    // nullable
	TokenExpiresAt  *time.Time // nullable
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PlayEvent is one occurrence of a track being played by a user.
// Rows are append-only; (user_id, track_id, played_at) is unique and is the
// sole defense against duplicate ingestion from overlapping fetch windows.
type PlayEvent struct {
	ID            int64
	UserID        string
	TrackID       string
	TrackName     string
	ArtistName    string
	AlbumName     *string // nullable
	AlbumImageURL *string // nullable
	PlayedAt      time.Time
	CreatedAt     time.Time
}

// StatRollup is a precomputed aggregate of play counts for one track over a
// fixed time window [PeriodStart, PeriodEnd). Rows are immutable once
// written; (user_id, track_id, period_start, period_type) is unique so that
// re-running aggregation for an already-computed window skips existing rows.
type StatRollup struct {
	ID            int64
	UserID        string
	TrackID       string
	TrackName     string
	ArtistName    string
	AlbumName     *string // nullable
	AlbumImageURL *string // nullable
	PlayCount     int
	PeriodStart   time.Time
	PeriodEnd     time.Time
	PeriodType    string
	Ranking       int
	CreatedAt     time.Time
}

// TrackCount is a per-track play count within a query window.
type TrackCount struct {
	TrackID       string
	TrackName     string
	ArtistName    string
	AlbumName     *string
	AlbumImageURL *string
	PlayCount     int
}

// TrackTotal is a per-track sum of roll-up play counts.
type TrackTotal struct {
	TrackID       string
	TrackName     string
	ArtistName    string
	AlbumName     *string
	AlbumImageURL *string
	TotalPlays    int
}
