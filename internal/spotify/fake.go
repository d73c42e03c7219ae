package spotify

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory API implementation returning canned responses, for
// deterministic tests of the sync pipeline.
type Fake struct {
	mu sync.Mutex

	// Items are returned by RecentlyPlayed, filtered by the after cursor.
	Items []RecentItem

	// RecentErr, when set, is returned by RecentlyPlayed.
	RecentErr error

	// Token is returned by RefreshToken when RefreshErr is nil.
	Token *TokenResponse

	// RefreshErr, when set, is returned by RefreshToken.
	RefreshErr error

	// Profile is returned by Me when ProfileErr is nil.
	Profile *UserProfile

	// ProfileErr, when set, is returned by Me.
	ProfileErr error

	// Call counters.
	RecentCalls  int
	RefreshCalls int

	// LastAfter records the cursor of the most recent RecentlyPlayed call
	// (nil when no cursor was supplied).
	LastAfter *int64
}

var _ API = (*Fake)(nil)

// RecentlyPlayed returns the canned items whose played-at is strictly after
// the cursor, capped at limit, mirroring the exclusive-after API contract.
// Items with unparseable timestamps are returned regardless so ingestion
// error paths can be exercised.
func (f *Fake) RecentlyPlayed(_ context.Context, _ string, limit int, afterMillis *int64) ([]RecentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.RecentCalls++
	f.LastAfter = afterMillis
	if f.RecentErr != nil {
		return nil, f.RecentErr
	}
	if limit <= 0 || limit > MaxRecentlyPlayed {
		limit = MaxRecentlyPlayed
	}

	var items []RecentItem
	for _, item := range f.Items {
		if afterMillis != nil {
			t, err := time.Parse("2006-01-02T15:04:05.999999999Z", item.PlayedAt)
			if err == nil && t.UnixMilli() <= *afterMillis {
				continue
			}
		}
		items = append(items, item)
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

// Me returns the canned profile.
func (f *Fake) Me(_ context.Context, _ string) (*UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ProfileErr != nil {
		return nil, f.ProfileErr
	}
	return f.Profile, nil
}

// RefreshToken returns the canned token response.
func (f *Fake) RefreshToken(_ context.Context, _ string) (*TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.RefreshCalls++
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	return f.Token, nil
}
