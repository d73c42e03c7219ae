package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviidltp/looped/internal/db"
	syncsvc "github.com/daviidltp/looped/internal/sync"
)

type fakeUserStore struct {
	users []db.User
	err   error
}

func (f *fakeUserStore) List(_ context.Context) ([]db.User, error) {
	return f.users, f.err
}

type fakeSyncer struct {
	mu      sync.Mutex
	errFor  map[string]error
	panicOn string
	block   chan struct{}
	synced  []string
}

func (f *fakeSyncer) SyncRecent(_ context.Context, user *db.User) (syncsvc.Result, error) {
	if f.block != nil {
		<-f.block
	}
	if user.ID == f.panicOn {
		panic("unexpected nil track")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, user.ID)
	if err := f.errFor[user.ID]; err != nil {
		return syncsvc.Result{}, err
	}
	return syncsvc.Result{Added: 1}, nil
}

type fakeAggregator struct {
	mu       sync.Mutex
	errFor   map[string]error
	gotStart time.Time
	gotEnd   time.Time
	users    []string
}

func (f *fakeAggregator) Generate(_ context.Context, userID string, start, end time.Time, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotStart, f.gotEnd = start, end
	f.users = append(f.users, userID)
	if err := f.errFor[userID]; err != nil {
		return 0, err
	}
	return 1, nil
}

func threeUsers() []db.User {
	return []db.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}}
}

func TestRunOnceProcessesAllUsers(t *testing.T) {
	now := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)
	syncer := &fakeSyncer{}
	agg := &fakeAggregator{}
	s := New(&fakeUserStore{users: threeUsers()}, syncer, agg, time.Hour, zerolog.Nop(),
		WithClock(func() time.Time { return now }))

	processed, total := s.RunOnce(context.Background())
	if processed != 3 || total != 3 {
		t.Errorf("RunOnce() = (%d, %d), want (3, 3)", processed, total)
	}

	if len(syncer.synced) != 3 {
		t.Errorf("synced %d users, want 3", len(syncer.synced))
	}
	if !agg.gotStart.Equal(now.Add(-time.Hour)) || !agg.gotEnd.Equal(now) {
		t.Errorf("rollup window = [%v, %v), want the hour before now", agg.gotStart, agg.gotEnd)
	}
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	tests := []struct {
		name          string
		syncer        *fakeSyncer
		agg           *fakeAggregator
		wantProcessed int
	}{
		{
			name:          "sync error skips only that user",
			syncer:        &fakeSyncer{errFor: map[string]error{"u2": errors.New("rate limited")}},
			agg:           &fakeAggregator{},
			wantProcessed: 2,
		},
		{
			name:          "reauth needed skips only that user",
			syncer:        &fakeSyncer{errFor: map[string]error{"u1": syncsvc.ErrReauthRequired}},
			agg:           &fakeAggregator{},
			wantProcessed: 2,
		},
		{
			name:          "rollup error after sync",
			syncer:        &fakeSyncer{},
			agg:           &fakeAggregator{errFor: map[string]error{"u3": errors.New("db down")}},
			wantProcessed: 2,
		},
		{
			name:          "panic in one user is contained",
			syncer:        &fakeSyncer{panicOn: "u2"},
			agg:           &fakeAggregator{},
			wantProcessed: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeUserStore{users: threeUsers()}, tt.syncer, tt.agg, time.Hour, zerolog.Nop())
			processed, total := s.RunOnce(context.Background())
			if processed != tt.wantProcessed {
				t.Errorf("processed = %d, want %d", processed, tt.wantProcessed)
			}
			if total != 3 {
				t.Errorf("total = %d, want 3", total)
			}
		})
	}
}

func TestRunOnceListFailure(t *testing.T) {
	s := New(&fakeUserStore{err: errors.New("db down")}, &fakeSyncer{}, &fakeAggregator{}, time.Hour, zerolog.Nop())
	processed, total := s.RunOnce(context.Background())
	if processed != 0 || total != 0 {
		t.Errorf("RunOnce() = (%d, %d), want (0, 0) when listing fails", processed, total)
	}
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	block := make(chan struct{})
	syncer := &fakeSyncer{block: block}
	s := New(&fakeUserStore{users: []db.User{{ID: "u1"}}}, syncer, &fakeAggregator{}, time.Hour, zerolog.Nop())

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		s.RunOnce(context.Background())
	}()

	// Wait for the first firing to be inside SyncRecent, then fire again.
	time.Sleep(20 * time.Millisecond)
	processed, total := s.RunOnce(context.Background())
	if processed != 0 || total != 0 {
		t.Errorf("overlapping RunOnce() = (%d, %d), want (0, 0)", processed, total)
	}

	close(block)
	<-firstDone
}

func TestStartStop(t *testing.T) {
	s := New(&fakeUserStore{}, &fakeSyncer{}, &fakeAggregator{}, time.Hour, zerolog.Nop())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start() error = nil, want already-running error")
	}

	s.Stop()
	// Stop on an already stopped scheduler is a no-op.
	s.Stop()

	if err := s.Start(); err != nil {
		t.Errorf("Start() after Stop() error = %v", err)
	}
	s.Stop()
}
