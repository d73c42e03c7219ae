package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PlayRepository handles play-event database operations.
type PlayRepository struct {
	pool *pgxpool.Pool
}

// InsertIfAbsent inserts a play event unless a row with the same
// (user_id, track_id, played_at) already exists. It reports whether the row
// was inserted; a conflict is an outcome, not an error.
func (r *PlayRepository) InsertIfAbsent(ctx context.Context, event *PlayEvent) (bool, error) {
	query := `
		INSERT INTO play_events (
			user_id, track_id, track_name, artist_name, album_name,
			album_image_url, played_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id, track_id, played_at) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		event.UserID,
		event.TrackID,
		event.TrackName,
		event.ArtistName,
		event.AlbumName,
		event.AlbumImageURL,
		event.PlayedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting play event: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// LatestPlayedAt returns the played-at timestamp of the most recent play
// event stored for a user, or nil if the user has none.
func (r *PlayRepository) LatestPlayedAt(ctx context.Context, userID string) (*time.Time, error) {
	query := `SELECT MAX(played_at) FROM play_events WHERE user_id = $1`
	var latest *time.Time
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&latest); err != nil {
		return nil, fmt.Errorf("querying latest play: %w", err)
	}
	return latest, nil
}

// TopTracks returns per-track play counts for a user within
// [start, end), most played first. Ties are broken by ascending track ID so
// ranks are reproducible across runs.
func (r *PlayRepository) TopTracks(ctx context.Context, userID string, start, end time.Time, limit int) ([]TrackCount, error) {
	query := `
		SELECT track_id, track_name, artist_name, album_name, album_image_url,
			COUNT(*) AS play_count
		FROM play_events
		WHERE user_id = $1 AND played_at >= $2 AND played_at < $3
		GROUP BY track_id, track_name, artist_name, album_name, album_image_url
		ORDER BY play_count DESC, track_id ASC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, userID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top tracks: %w", err)
	}
	defer rows.Close()

	var counts []TrackCount
	for rows.Next() {
		var tc TrackCount
		if err := rows.Scan(
			&tc.TrackID,
			&tc.TrackName,
			&tc.ArtistName,
			&tc.AlbumName,
			&tc.AlbumImageURL,
			&tc.PlayCount,
		); err != nil {
			return nil, fmt.Errorf("scanning track count: %w", err)
		}
		counts = append(counts, tc)
	}
	return counts, rows.Err()
}

// ListOptions filters and paginates play-history queries.
type ListOptions struct {
	Page    int
	PerPage int
	Start   *time.Time // inclusive lower bound on played_at
	End     *time.Time // inclusive upper bound on played_at
}

// List returns a page of a user's play events, most recent first, together
// with the total row count for the filter.
func (r *PlayRepository) List(ctx context.Context, userID string, opts ListOptions) ([]PlayEvent, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = 20
	}

	where := `WHERE user_id = $1`
	args := []any{userID}
	if opts.Start != nil {
		args = append(args, *opts.Start)
		where += fmt.Sprintf(" AND played_at >= $%d", len(args))
	}
	if opts.End != nil {
		args = append(args, *opts.End)
		where += fmt.Sprintf(" AND played_at <= $%d", len(args))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM play_events ` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting play events: %w", err)
	}

	args = append(args, opts.PerPage, (opts.Page-1)*opts.PerPage)
	query := fmt.Sprintf(`
		SELECT id, user_id, track_id, track_name, artist_name, album_name,
			album_image_url, played_at, created_at
		FROM play_events
		%s
		ORDER BY played_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying play events: %w", err)
	}
	defer rows.Close()

	var events []PlayEvent
	for rows.Next() {
		var e PlayEvent
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.TrackID,
			&e.TrackName,
			&e.ArtistName,
			&e.AlbumName,
			&e.AlbumImageURL,
			&e.PlayedAt,
			&e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning play event: %w", err)
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}
