package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// testDB opens a pool against the database named by
// LOOPED_TEST_DATABASE_URL and applies the migrations inside a throwaway
// schema, dropped when the test finishes. Skipped when the variable is
// unset, so the repository suite only runs where a PostgreSQL instance is
// available.
func testDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("LOOPED_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LOOPED_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	schema := fmt.Sprintf("looped_test_%d", time.Now().UnixNano())

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parsing test database URL: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})

	ddl, err := os.ReadFile("../../migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("reading migrations: %v", err)
	}
	for _, stmt := range strings.Split(string(ddl), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("applying migration statement: %v\n%s", err, stmt)
		}
	}

	return &DB{pool: pool}
}

// seedUser inserts a user row and returns its internal ID.
func seedUser(t *testing.T, db *DB, spotifyID string) string {
	t.Helper()
	user := &User{SpotifyID: spotifyID}
	if err := db.Users().Upsert(context.Background(), user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return user.ID
}

// seedPlay inserts one play event and fails the test on a duplicate.
func seedPlay(t *testing.T, db *DB, userID, trackID string, playedAt time.Time) {
	t.Helper()
	inserted, err := db.Plays().InsertIfAbsent(context.Background(), &PlayEvent{
		UserID:     userID,
		TrackID:    trackID,
		TrackName:  "Song " + trackID,
		ArtistName: "Artist",
		PlayedAt:   playedAt,
	})
	if err != nil {
		t.Fatalf("seeding play: %v", err)
	}
	if !inserted {
		t.Fatalf("seeding play (%s, %v): duplicate", trackID, playedAt)
	}
}
