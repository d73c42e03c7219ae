// Package sync pulls listening events from Spotify into the local play-event
// log, incrementally and idempotently.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/daviidltp/looped/internal/db"
	"github.com/daviidltp/looped/internal/spotify"
)

// playedAtLayout is the timestamp format of the recently-played feed:
// ISO 8601 with fractional seconds and a literal Z suffix (UTC).
const playedAtLayout = "2006-01-02T15:04:05.999999999Z"

// Common errors.
var (
	// ErrReauthRequired is returned when the user's credentials are missing
	// or unrefreshable and a new authorization is needed. Anything else
	// from the external API is a transient condition worth retrying next
	// cycle.
	ErrReauthRequired = errors.New("spotify re-authentication required")
)

// RawEvent is one externally supplied play, as received from the
// recently-played feed or the batch-append endpoint. PlayedAt stays a
// string until ingestion so one malformed record only costs itself.
type RawEvent struct {
	TrackID       string  `json:"track_id" validate:"required"`
	TrackName     string  `json:"track_name" validate:"required"`
	ArtistName    string  `json:"artist_name" validate:"required"`
	AlbumName     *string `json:"album_name"`
	AlbumImageURL *string `json:"album_image_url"`
	PlayedAt      string  `json:"played_at" validate:"required"`
}

// Result reports per-record outcomes of an ingestion batch. Every record
// lands in exactly one bucket.
type Result struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Invalid int `json:"invalid"`
}

// PlayStore is the slice of the persistence layer the sync engine uses.
type PlayStore interface {
	LatestPlayedAt(ctx context.Context, userID string) (*time.Time, error)
	InsertIfAbsent(ctx context.Context, event *db.PlayEvent) (bool, error)
}

// TokenEnsurer validates or refreshes a user's credentials before use.
type TokenEnsurer interface {
	EnsureValid(ctx context.Context, user *db.User) bool
}

// Service fetches and ingests listening events for one user at a time.
type Service struct {
	api        spotify.API
	plays      PlayStore
	tokens     TokenEnsurer
	validate   *validator.Validate
	fetchLimit int
	log        zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithFetchLimit caps how many items a single fetch requests. The API caps
// this at spotify.MaxRecentlyPlayed regardless.
func WithFetchLimit(n int) Option {
	return func(s *Service) {
		s.fetchLimit = n
	}
}

// New creates a sync service.
func New(api spotify.API, plays PlayStore, tokens TokenEnsurer, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		api:        api,
		plays:      plays,
		tokens:     tokens,
		validate:   validator.New(),
		fetchLimit: spotify.MaxRecentlyPlayed,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchNew retrieves events newer than the most recent stored play for the
// user. The cursor is exclusive: the API only returns items strictly after
// it. With no stored plays, the most recent window is fetched unbounded.
func (s *Service) FetchNew(ctx context.Context, user *db.User) ([]RawEvent, error) {
	cursor, err := s.plays.LatestPlayedAt(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("determining cursor: %w", err)
	}

	var after *int64
	if cursor != nil {
		ms := cursor.UnixMilli()
		after = &ms
	}

	var token string
	if user.AccessToken != nil {
		token = *user.AccessToken
	}

	items, err := s.api.RecentlyPlayed(ctx, token, s.fetchLimit, after)
	if errors.Is(err, spotify.ErrUnauthorized) {
		return nil, ErrReauthRequired
	}
	if err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}

	events := make([]RawEvent, len(items))
	for i, item := range items {
		events[i] = RawEvent{
			TrackID:       item.TrackID,
			TrackName:     item.TrackName,
			ArtistName:    item.ArtistName,
			AlbumName:     item.AlbumName,
			AlbumImageURL: item.AlbumImageURL,
			PlayedAt:      item.PlayedAt,
		}
	}
	return events, nil
}

// Ingest validates and persists a batch of events for a user. Each record's
// outcome is independent: invalid fields or an unparseable timestamp count
// the record invalid, a uniqueness conflict counts it skipped, and neither
// aborts the batch. Only a store failure stops processing.
func (s *Service) Ingest(ctx context.Context, userID string, events []RawEvent) (Result, error) {
	var res Result
	for _, ev := range events {
		if err := s.validate.Struct(ev); err != nil {
			res.Invalid++
			continue
		}

		playedAt, err := parsePlayedAt(ev.PlayedAt)
		if err != nil {
			s.log.Debug().Str("user_id", userID).Str("played_at", ev.PlayedAt).Msg("unparseable played_at, record skipped")
			res.Invalid++
			continue
		}

		inserted, err := s.plays.InsertIfAbsent(ctx, &db.PlayEvent{
			UserID:        userID,
			TrackID:       ev.TrackID,
			TrackName:     ev.TrackName,
			ArtistName:    ev.ArtistName,
			AlbumName:     ev.AlbumName,
			AlbumImageURL: ev.AlbumImageURL,
			PlayedAt:      playedAt,
		})
		if err != nil {
			return res, fmt.Errorf("persisting play event: %w", err)
		}
		if inserted {
			res.Added++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// SyncRecent runs the full per-user pipeline: ensure credentials, fetch new
// events, ingest them. Returns ErrReauthRequired when the stored
// credentials cannot be made valid; other errors are transient and the sync
// simply retries next cycle.
func (s *Service) SyncRecent(ctx context.Context, user *db.User) (Result, error) {
	if !s.tokens.EnsureValid(ctx, user) {
		return Result{}, ErrReauthRequired
	}

	events, err := s.FetchNew(ctx, user)
	if err != nil {
		return Result{}, err
	}

	res, err := s.Ingest(ctx, user.ID, events)
	if err != nil {
		return res, err
	}

	s.log.Info().
		Str("user_id", user.ID).
		Int("added", res.Added).
		Int("skipped", res.Skipped).
		Int("invalid", res.Invalid).
		Msg("sync completed")
	return res, nil
}

// parsePlayedAt parses the feed timestamp format, falling back to RFC 3339
// for events submitted directly by clients.
func parsePlayedAt(s string) (time.Time, error) {
	if t, err := time.Parse(playedAtLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
