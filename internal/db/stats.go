package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StatRepository handles roll-up database operations.
type StatRepository struct {
	pool *pgxpool.Pool
}

// InsertBatchIfAbsent persists a set of roll-up rows in one transaction.
// Rows whose (user_id, track_id, period_start, period_type) already exist
// are skipped. Either all newly-ranked rows of the batch are committed or
// none are, so a retried run resumes cleanly. Returns the number of rows
// actually inserted.
func (r *StatRepository) InsertBatchIfAbsent(ctx context.Context, rollups []StatRollup) (int, error) {
	if len(rollups) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO stat_rollups (
			user_id, track_id, track_name, artist_name, album_name,
			album_image_url, play_count, period_start, period_end,
			period_type, ranking, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (user_id, track_id, period_start, period_type) DO NOTHING
	`

	inserted := 0
	for _, s := range rollups {
		result, err := tx.Exec(ctx, query,
			s.UserID,
			s.TrackID,
			s.TrackName,
			s.ArtistName,
			s.AlbumName,
			s.AlbumImageURL,
			s.PlayCount,
			s.PeriodStart,
			s.PeriodEnd,
			s.PeriodType,
			s.Ranking,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting rollup: %w", err)
		}
		if result.RowsAffected() > 0 {
			inserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing rollups: %w", err)
	}
	return inserted, nil
}

// WeeklyTotals sums hourly roll-up play counts per track for roll-ups whose
// period_start falls in [start, end), highest total first with ties broken
// by ascending track ID.
func (r *StatRepository) WeeklyTotals(ctx context.Context, userID string, start, end time.Time, limit int) ([]TrackTotal, error) {
	query := `
		SELECT track_id, track_name, artist_name, album_name, album_image_url,
			SUM(play_count) AS total_plays
		FROM stat_rollups
		WHERE user_id = $1
			AND period_type = 'hourly'
			AND period_start >= $2
			AND period_start < $3
		GROUP BY track_id, track_name, artist_name, album_name, album_image_url
		ORDER BY total_plays DESC, track_id ASC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, userID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("querying weekly totals: %w", err)
	}
	defer rows.Close()

	var totals []TrackTotal
	for rows.Next() {
		var tt TrackTotal
		if err := rows.Scan(
			&tt.TrackID,
			&tt.TrackName,
			&tt.ArtistName,
			&tt.AlbumName,
			&tt.AlbumImageURL,
			&tt.TotalPlays,
		); err != nil {
			return nil, fmt.Errorf("scanning track total: %w", err)
		}
		totals = append(totals, tt)
	}
	return totals, rows.Err()
}

// History returns a user's roll-ups for one period type, most recent period
// first. Start bounds period_start (inclusive) and end bounds period_end
// (inclusive); either may be nil.
func (r *StatRepository) History(ctx context.Context, userID, periodType string, start, end *time.Time, limit int) ([]StatRollup, error) {
	if limit < 1 {
		limit = 100
	}

	where := `WHERE user_id = $1 AND period_type = $2`
	args := []any{userID, periodType}
	if start != nil {
		args = append(args, *start)
		where += fmt.Sprintf(" AND period_start >= $%d", len(args))
	}
	if end != nil {
		args = append(args, *end)
		where += fmt.Sprintf(" AND period_end <= $%d", len(args))
	}

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, user_id, track_id, track_name, artist_name, album_name,
			album_image_url, play_count, period_start, period_end,
			period_type, ranking, created_at
		FROM stat_rollups
		%s
		ORDER BY period_start DESC, ranking ASC
		LIMIT $%d
	`, where, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rollup history: %w", err)
	}
	defer rows.Close()

	var rollups []StatRollup
	for rows.Next() {
		var s StatRollup
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.TrackID,
			&s.TrackName,
			&s.ArtistName,
			&s.AlbumName,
			&s.AlbumImageURL,
			&s.PlayCount,
			&s.PeriodStart,
			&s.PeriodEnd,
			&s.PeriodType,
			&s.Ranking,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning rollup: %w", err)
		}
		rollups = append(rollups, s)
	}
	return rollups, rows.Err()
}
