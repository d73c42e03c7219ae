package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviidltp/looped/internal/db"
	"github.com/daviidltp/looped/internal/spotify"
	"github.com/daviidltp/looped/internal/stats"
	syncsvc "github.com/daviidltp/looped/internal/sync"
)

// defaultTokenLifetime is assumed when a login payload omits expires_in.
const defaultTokenLifetime = time.Hour

// UserStore is the user persistence the handlers need.
type UserStore interface {
	Get(ctx context.Context, id string) (*db.User, error)
	Upsert(ctx context.Context, user *db.User) error
	Delete(ctx context.Context, id string) error
}

// PlayStore serves play-history queries.
type PlayStore interface {
	List(ctx context.Context, userID string, opts db.ListOptions) ([]db.PlayEvent, int, error)
	TopTracks(ctx context.Context, userID string, start, end time.Time, limit int) ([]db.TrackCount, error)
}

// SyncService triggers synchronization and batch ingestion.
type SyncService interface {
	SyncRecent(ctx context.Context, user *db.User) (syncsvc.Result, error)
	Ingest(ctx context.Context, userID string, events []syncsvc.RawEvent) (syncsvc.Result, error)
}

// StatsService serves roll-up queries.
type StatsService interface {
	WeeklyTop3(ctx context.Context, userID string) ([]stats.WeeklyTrack, error)
	History(ctx context.Context, userID, periodType string, start, end *time.Time, limit int) ([]db.StatRollup, error)
}

// ProfileFetcher identifies the account behind an access token at login.
type ProfileFetcher interface {
	Me(ctx context.Context, accessToken string) (*spotify.UserProfile, error)
}

// Handlers contains the JSON API handlers.
type Handlers struct {
	users   UserStore
	plays   PlayStore
	syncer  SyncService
	stats   StatsService
	profile ProfileFetcher
	jwt     *JWTManager
	log     zerolog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(users UserStore, plays PlayStore, syncer SyncService, statsSvc StatsService, profile ProfileFetcher, jwt *JWTManager, log zerolog.Logger) *Handlers {
	return &Handlers{
		users:   users,
		plays:   plays,
		syncer:  syncer,
		stats:   statsSvc,
		profile: profile,
		jwt:     jwt,
		log:     log,
	}
}

// Login exchanges Spotify tokens for an application JWT
// (POST /api/spotify-login). The frontend completes the OAuth flow and
// posts the resulting tokens; the backend identifies the account and
// stores the credentials.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.AccessToken == "" {
		respondError(w, http.StatusBadRequest, "access_token is required")
		return
	}

	profile, err := h.profile.Me(r.Context(), payload.AccessToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not verify Spotify access token")
		return
	}

	lifetime := defaultTokenLifetime
	if payload.ExpiresIn > 0 {
		lifetime = time.Duration(payload.ExpiresIn) * time.Second
	}
	expiresAt := time.Now().Add(lifetime)

	user := &db.User{
		SpotifyID:       profile.ID,
		Email:           profile.Email,
		DisplayName:     profile.DisplayName,
		Country:         profile.Country,
		ProfileImageURL: profile.ProfileImageURL,
		AccessToken:     &payload.AccessToken,
		TokenExpiresAt:  &expiresAt,
	}
	if payload.RefreshToken != "" {
		user.RefreshToken = &payload.RefreshToken
	}

	if err := h.users.Upsert(r.Context(), user); err != nil {
		h.log.Error().Err(err).Str("spotify_id", profile.ID).Msg("storing user failed")
		respondError(w, http.StatusInternalServerError, "could not store user")
		return
	}

	token, err := h.jwt.Issue(user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("issuing token failed")
		respondError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"user": map[string]any{
			"id":           user.ID,
			"spotify_id":   user.SpotifyID,
			"display_name": user.DisplayName,
			"email":        user.Email,
		},
	})
}

// Verify reports JWT validity and whether the stored Spotify token is
// expired (GET /api/verify).
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), UserID(r.Context()))
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load user")
		return
	}

	expired := user.TokenExpiresAt == nil || user.TokenExpiresAt.Before(time.Now())
	respondJSON(w, http.StatusOK, map[string]any{
		"valid":                 true,
		"spotify_token_expired": expired,
	})
}

// ManualSync triggers an immediate synchronization for the caller
// (POST /api/sync/manual). The failure modes are distinguished: an
// unrefreshable credential needs re-authentication, anything else is
// transient and worth retrying.
func (h *Handlers) ManualSync(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), UserID(r.Context()))
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load user")
		return
	}

	result, err := h.syncer.SyncRecent(r.Context(), user)
	if errors.Is(err, syncsvc.ErrReauthRequired) {
		respondError(w, http.StatusUnauthorized, "spotify token invalid, re-authentication required")
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", user.ID).Msg("manual sync failed")
		respondError(w, http.StatusBadGateway, "sync failed, retry later")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "sync completed",
		"results": result,
	})
}

// WeeklyTop3 returns the current week's top-3 (GET /api/stats/weekly-top-3).
func (h *Handlers) WeeklyTop3(w http.ResponseWriter, r *http.Request) {
	top3, err := h.stats.WeeklyTop3(r.Context(), UserID(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("weekly top-3 query failed")
		respondError(w, http.StatusInternalServerError, "could not compute weekly top 3")
		return
	}
	if top3 == nil {
		top3 = []stats.WeeklyTrack{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"weekly_top_3": top3})
}

// StatsHistory returns persisted roll-ups filtered by period type and time
// range (GET /api/stats/history).
func (h *Handlers) StatsHistory(w http.ResponseWriter, r *http.Request) {
	periodType := r.URL.Query().Get("period_type")
	if periodType == "" {
		periodType = stats.PeriodHourly
	}

	start, ok := parseTimeParam(w, r, "start_date")
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, r, "end_date")
	if !ok {
		return
	}
	limit := parseIntParam(r, "limit", 100)

	rollups, err := h.stats.History(r.Context(), UserID(r.Context()), periodType, start, end, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("rollup history query failed")
		respondError(w, http.StatusInternalServerError, "could not load stats history")
		return
	}

	out := make([]map[string]any, len(rollups))
	for i, s := range rollups {
		out[i] = map[string]any{
			"track_id":        s.TrackID,
			"track_name":      s.TrackName,
			"artist_name":     s.ArtistName,
			"album_name":      s.AlbumName,
			"album_image_url": s.AlbumImageURL,
			"play_count":      s.PlayCount,
			"ranking":         s.Ranking,
			"period_start":    s.PeriodStart.UTC().Format(time.RFC3339),
			"period_end":      s.PeriodEnd.UTC().Format(time.RFC3339),
			"period_type":     s.PeriodType,
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"stats": out})
}

// UpdateHistory appends a batch of externally supplied plays
// (POST /api/update-history). Outcomes are counted per record; a bad
// record never aborts the batch.
func (h *Handlers) UpdateHistory(w http.ResponseWriter, r *http.Request) {
	var events []syncsvc.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		respondError(w, http.StatusBadRequest, "body must be a JSON array of plays")
		return
	}
	if len(events) == 0 {
		respondError(w, http.StatusBadRequest, "no plays provided")
		return
	}

	result, err := h.syncer.Ingest(r.Context(), UserID(r.Context()), events)
	if err != nil {
		h.log.Error().Err(err).Msg("batch ingest failed")
		respondError(w, http.StatusInternalServerError, "could not store plays")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "play history processed",
		"results": result,
	})
}

// PlayHistory returns a page of the caller's play events
// (GET /api/play-history).
func (h *Handlers) PlayHistory(w http.ResponseWriter, r *http.Request) {
	start, ok := parseTimeParam(w, r, "start_date")
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, r, "end_date")
	if !ok {
		return
	}

	opts := db.ListOptions{
		Page:    parseIntParam(r, "page", 1),
		PerPage: parseIntParam(r, "per_page", 20),
		Start:   start,
		End:     end,
	}

	events, total, err := h.plays.List(r.Context(), UserID(r.Context()), opts)
	if err != nil {
		h.log.Error().Err(err).Msg("play history query failed")
		respondError(w, http.StatusInternalServerError, "could not load play history")
		return
	}

	pages := (total + opts.PerPage - 1) / opts.PerPage
	out := make([]map[string]any, len(events))
	for i, e := range events {
		out[i] = map[string]any{
			"id":              e.ID,
			"track_id":        e.TrackID,
			"track_name":      e.TrackName,
			"artist_name":     e.ArtistName,
			"album_name":      e.AlbumName,
			"album_image_url": e.AlbumImageURL,
			"played_at":       e.PlayedAt.UTC().Format(time.RFC3339),
			"created_at":      e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total":        total,
		"pages":        pages,
		"current_page": opts.Page,
		"per_page":     opts.PerPage,
		"plays":        out,
	})
}

// TopTracks returns the most played tracks over a lookback period computed
// from raw events (GET /api/play-history/top-tracks).
func (h *Handlers) TopTracks(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 3)
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "week"
	}

	now := time.Now().UTC()
	var start time.Time
	switch period {
	case "day":
		start = now.AddDate(0, 0, -1)
	case "week":
		start = now.AddDate(0, 0, -7)
	case "month":
		start = now.AddDate(0, 0, -30)
	case "year":
		start = now.AddDate(0, 0, -365)
	default:
		respondError(w, http.StatusBadRequest, "invalid period")
		return
	}

	counts, err := h.plays.TopTracks(r.Context(), UserID(r.Context()), start, now, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("top tracks query failed")
		respondError(w, http.StatusInternalServerError, "could not load top tracks")
		return
	}

	out := make([]map[string]any, len(counts))
	for i, tc := range counts {
		out[i] = map[string]any{
			"track_id":        tc.TrackID,
			"track_name":      tc.TrackName,
			"artist_name":     tc.ArtistName,
			"album_name":      tc.AlbumName,
			"album_image_url": tc.AlbumImageURL,
			"play_count":      tc.PlayCount,
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"period":     period,
		"start_date": start.Format(time.RFC3339),
		"tracks":     out,
	})
}

// DeleteUser removes the caller and all associated data
// (DELETE /api/delete-users).
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.users.Delete(r.Context(), UserID(r.Context()))
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("user deletion failed")
		respondError(w, http.StatusInternalServerError, "could not delete user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "user and all associated data deleted successfully",
	})
}

// parseTimeParam reads an optional RFC 3339 query parameter. On a malformed
// value it writes a 400 response and reports false.
func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name+" format")
		return nil, false
	}
	return &t, true
}

// parseIntParam reads an optional positive integer query parameter.
func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
