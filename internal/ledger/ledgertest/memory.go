// Package ledgertest provides an in-process ledger.Store for tests.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"horse.fit/mediatrends/internal/db"
)

type pair struct {
	userID    int64
	articleID int64
}

// Store keeps dedup records and the audit trail in memory. Its dedup map
// enforces the same one-record-per-pair rule as the unique index.
type Store struct {
	mu            sync.Mutex
	records       map[pair]string
	notifications []db.NotificationRow
	locks         map[pair]bool
	commitAttempt int

	// conns models a bounded connection pool; nil means unbounded.
	conns    chan struct{}
	inUse    int
	peakUsed int

	// HasErr and CommitErr inject storage failures.
	HasErr    error
	CommitErr error
}

func NewStore() *Store {
	return &Store{
		records: make(map[pair]string),
		locks:   make(map[pair]bool),
	}
}

// NewLimitedStore returns a store whose calls each check out one of maxConns
// connections and block until one is free, the way database/sql does once
// SetMaxOpenConns is reached. A held pair lock keeps its connection.
func NewLimitedStore(maxConns int) *Store {
	s := NewStore()
	s.conns = make(chan struct{}, maxConns)
	return s
}

// Conn checks out a connection for a collaborator sharing this pool.
func (s *Store) Conn(ctx context.Context) (func(), error) {
	if s.conns == nil {
		return func() {}, nil
	}
	select {
	case s.conns <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	s.inUse++
	s.peakUsed = max(s.peakUsed, s.inUse)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.inUse--
			s.mu.Unlock()
			<-s.conns
		})
	}, nil
}

// PeakConns reports the most connections held at once.
func (s *Store) PeakConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakUsed
}

func (s *Store) HasDedupRecord(ctx context.Context, userID, articleID int64) (bool, error) {
	release, err := s.Conn(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	return s.hasDedupRecord(userID, articleID)
}

func (s *Store) hasDedupRecord(userID, articleID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HasErr != nil {
		return false, s.HasErr
	}
	_, ok := s.records[pair{userID, articleID}]
	return ok, nil
}

func (s *Store) CommitDedupRecord(ctx context.Context, row db.NotificationRow) (bool, error) {
	release, err := s.Conn(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	return s.commitDedupRecord(row)
}

func (s *Store) commitDedupRecord(row db.NotificationRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitAttempt++
	if s.CommitErr != nil {
		return false, s.CommitErr
	}
	key := pair{row.UserID, row.ArticleID}
	_, exists := s.records[key]
	if !exists {
		s.records[key] = row.Outcome
	}
	row.NotificationID = int64(len(s.notifications) + 1)
	row.CreatedAt = time.Now().UTC()
	s.notifications = append(s.notifications, row)
	return !exists, nil
}

func (s *Store) InsertNotification(ctx context.Context, row db.NotificationRow) error {
	release, err := s.Conn(ctx)
	if err != nil {
		return err
	}
	defer release()
	s.insertNotification(row)
	return nil
}

func (s *Store) insertNotification(row db.NotificationRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.NotificationID = int64(len(s.notifications) + 1)
	row.CreatedAt = time.Now().UTC()
	s.notifications = append(s.notifications, row)
}

func (s *Store) TryPairLock(ctx context.Context, userID, articleID int64) (db.PairSession, bool, error) {
	releaseConn, err := s.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	key := pair{userID, articleID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] {
		releaseConn()
		return nil, false, nil
	}
	s.locks[key] = true
	return &session{store: s, key: key, releaseConn: releaseConn}, true, nil
}

// Lock holds a pair as if another worker were delivering it.
func (s *Store) Lock(userID, articleID int64) func() {
	held, ok, _ := s.TryPairLock(context.Background(), userID, articleID)
	if !ok {
		return func() {}
	}
	return held.Release
}

// session works on the connection checked out by TryPairLock.
type session struct {
	store       *Store
	key         pair
	releaseConn func()
	once        sync.Once
}

func (s *session) HasDedupRecord(_ context.Context, userID, articleID int64) (bool, error) {
	return s.store.hasDedupRecord(userID, articleID)
}

func (s *session) CommitDedupRecord(_ context.Context, row db.NotificationRow) (bool, error) {
	return s.store.commitDedupRecord(row)
}

func (s *session) InsertNotification(_ context.Context, row db.NotificationRow) error {
	s.store.insertNotification(row)
	return nil
}

func (s *session) Release() {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.locks, s.key)
		s.store.mu.Unlock()
		s.releaseConn()
	})
}

// Seed marks a pair as already notified.
func (s *Store) Seed(userID, articleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[pair{userID, articleID}] = "delivered"
}

func (s *Store) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) CommitAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitAttempt
}

// Notifications returns a copy of the audit trail in insertion order.
func (s *Store) Notifications() []db.NotificationRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.NotificationRow, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// CountOutcome counts audit rows for a pair with the given outcome.
func (s *Store) CountOutcome(userID, articleID int64, outcome string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.notifications {
		if row.UserID == userID && row.ArticleID == articleID && row.Outcome == outcome {
			n++
		}
	}
	return n
}
