// Package stats derives popularity roll-ups from the play-event log: hourly
// top-10 snapshots and the current week's top-3 summed over them.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviidltp/looped/internal/db"
)

const (
	// PeriodHourly is the granularity tag of the scheduled roll-ups.
	// Weekly summaries are derived by summing hourly roll-ups, not stored
	// as their own period type.
	PeriodHourly = "hourly"

	// TopTracksPerPeriod is how many ranked rows one roll-up window keeps.
	TopTracksPerPeriod = 10

	// WeeklyTopN is the size of the weekly summary.
	WeeklyTopN = 3
)

// PlayCounter is the event-log query the aggregator depends on.
type PlayCounter interface {
	TopTracks(ctx context.Context, userID string, start, end time.Time, limit int) ([]db.TrackCount, error)
}

// RollupStore persists and queries roll-up rows.
type RollupStore interface {
	InsertBatchIfAbsent(ctx context.Context, rollups []db.StatRollup) (int, error)
	WeeklyTotals(ctx context.Context, userID string, start, end time.Time, limit int) ([]db.TrackTotal, error)
	History(ctx context.Context, userID, periodType string, start, end *time.Time, limit int) ([]db.StatRollup, error)
}

// WeeklyTrack is one entry of the weekly top-N.
type WeeklyTrack struct {
	TrackID       string    `json:"track_id"`
	TrackName     string    `json:"track_name"`
	ArtistName    string    `json:"artist_name"`
	AlbumName     *string   `json:"album_name"`
	AlbumImageURL *string   `json:"album_image_url"`
	TotalPlays    int       `json:"total_plays"`
	Rank          int       `json:"rank"`
	WeekStart     time.Time `json:"week_start"`
	WeekEnd       time.Time `json:"week_end"`
}

// Service computes and serves roll-up statistics.
type Service struct {
	plays   PlayCounter
	rollups RollupStore
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a stats service.
func New(plays PlayCounter, rollups RollupStore, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		plays:   plays,
		rollups: rollups,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate computes the top tracks for [start, end), ranks them, and
// persists one roll-up row per track. Re-running for a window that was
// already computed inserts nothing and reports zero: existing rows are
// skipped, never duplicated, and a run retried after partial failure simply
// resumes. Returns the number of rows written.
func (s *Service) Generate(ctx context.Context, userID string, start, end time.Time, periodType string) (int, error) {
	counts, err := s.plays.TopTracks(ctx, userID, start, end, TopTracksPerPeriod)
	if err != nil {
		return 0, fmt.Errorf("querying top tracks: %w", err)
	}
	if len(counts) == 0 {
		return 0, nil
	}

	// Ranks must be reproducible across runs: highest count first, ties
	// broken by ascending track ID. Enforced here rather than trusting the
	// store's ordering.
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].PlayCount != counts[j].PlayCount {
			return counts[i].PlayCount > counts[j].PlayCount
		}
		return counts[i].TrackID < counts[j].TrackID
	})

	rollups := make([]db.StatRollup, len(counts))
	for i, tc := range counts {
		rollups[i] = db.StatRollup{
			UserID:        userID,
			TrackID:       tc.TrackID,
			TrackName:     tc.TrackName,
			ArtistName:    tc.ArtistName,
			AlbumName:     tc.AlbumName,
			AlbumImageURL: tc.AlbumImageURL,
			PlayCount:     tc.PlayCount,
			PeriodStart:   start,
			PeriodEnd:     end,
			PeriodType:    periodType,
			Ranking:       i + 1,
		}
	}

	written, err := s.rollups.InsertBatchIfAbsent(ctx, rollups)
	if err != nil {
		return 0, fmt.Errorf("persisting rollups: %w", err)
	}

	s.log.Info().
		Str("user_id", userID).
		Str("period_type", periodType).
		Time("period_start", start).
		Int("written", written).
		Msg("rollup generated")
	return written, nil
}

// WeeklyTop3 returns the current ISO week's three most played tracks,
// summed over the week's hourly roll-ups. Read-only; makes no external
// calls and is safe to call arbitrarily often.
func (s *Service) WeeklyTop3(ctx context.Context, userID string) ([]WeeklyTrack, error) {
	weekStart, weekEnd := currentWeek(s.now().UTC())

	totals, err := s.rollups.WeeklyTotals(ctx, userID, weekStart, weekEnd, WeeklyTopN)
	if err != nil {
		return nil, fmt.Errorf("querying weekly totals: %w", err)
	}

	// Same rank determinism as Generate: total desc, track ID asc.
	sort.SliceStable(totals, func(i, j int) bool {
		if totals[i].TotalPlays != totals[j].TotalPlays {
			return totals[i].TotalPlays > totals[j].TotalPlays
		}
		return totals[i].TrackID < totals[j].TrackID
	})

	tracks := make([]WeeklyTrack, len(totals))
	for i, tt := range totals {
		tracks[i] = WeeklyTrack{
			TrackID:       tt.TrackID,
			TrackName:     tt.TrackName,
			ArtistName:    tt.ArtistName,
			AlbumName:     tt.AlbumName,
			AlbumImageURL: tt.AlbumImageURL,
			TotalPlays:    tt.TotalPlays,
			Rank:          i + 1,
			WeekStart:     weekStart,
			WeekEnd:       weekEnd,
		}
	}
	return tracks, nil
}

// History returns persisted roll-ups filtered by period type and time
// range, most recent period first.
func (s *Service) History(ctx context.Context, userID, periodType string, start, end *time.Time, limit int) ([]db.StatRollup, error) {
	rollups, err := s.rollups.History(ctx, userID, periodType, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rollup history: %w", err)
	}
	return rollups, nil
}

// currentWeek returns the half-open ISO week window containing now:
// [Monday 00:00:00 UTC, next Monday 00:00:00 UTC).
func currentWeek(now time.Time) (time.Time, time.Time) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	weekStart := startOfDay.AddDate(0, 0, -daysSinceMonday)
	return weekStart, weekStart.AddDate(0, 0, 7)
}
