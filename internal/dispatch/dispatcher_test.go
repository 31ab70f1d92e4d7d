package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/ledger"
	"horse.fit/mediatrends/internal/ledger/ledgertest"
	"horse.fit/mediatrends/internal/scoring"
	"horse.fit/mediatrends/internal/textscan"
)

type scriptedTransport struct {
	mu      sync.Mutex
	results []error
	sent    []Payload
	block   bool
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) Send(ctx context.Context, _ Recipient, payload Payload) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	if len(s.results) == 0 {
		return nil
	}
	err := s.results[0]
	s.results = s.results[1:]
	return err
}

func (s *scriptedTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type staticResolver struct{}

func (staticResolver) Recipient(_ context.Context, userID int64) (Recipient, error) {
	chat := userID
	return Recipient{UserID: userID, TelegramChatID: &chat}, nil
}

func candidate() Candidate {
	return Candidate{
		UserID:    7,
		KeywordID: 3,
		ArticleID: 99,
		Keyword:   "Azərbaycan",
		Score:     scoring.Score{Value: 1.0, Kind: scoring.KindText, Tier: textscan.TierHeadline},
		Evidence:  &textscan.Evidence{Tier: textscan.TierHeadline, Field: textscan.FieldTitle, Alias: "Azerbaijan", Snippet: "Azerbaijan signs new trade deal"},
		Article:   ArticleRef{Title: "Azerbaijan signs new trade deal", URL: "https://news.example/a", SourceName: "Example"},
		TickID:    "tick-1",
	}
}

func newDispatcher(store *ledgertest.Store, transport Transport, timeout time.Duration) *Dispatcher {
	return New(ledger.New(store, zerolog.Nop()), transport, staticResolver{}, timeout, zerolog.Nop())
}

func TestDispatchTransientThenDelivered(t *testing.T) {
	t.Parallel()

	store := ledgertest.NewStore()
	transport := &scriptedTransport{results: []error{errors.New("connection refused"), nil}}
	d := newDispatcher(store, transport, time.Second)
	ctx := context.Background()

	first, err := d.Dispatch(ctx, candidate())
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if first.Outcome != ledger.OutcomeTransientFailure || first.Committed {
		t.Fatalf("first result = %+v", first)
	}
	if store.RecordCount() != 0 {
		t.Fatalf("transient failure must not create a dedup record")
	}

	second, err := d.Dispatch(ctx, candidate())
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if second.Outcome != ledger.OutcomeDelivered || !second.Committed {
		t.Fatalf("second result = %+v", second)
	}
	if store.RecordCount() != 1 {
		t.Fatalf("dedup records = %d, want 1", store.RecordCount())
	}
	if n := store.CountOutcome(7, 99, string(ledger.OutcomeDelivered)); n != 1 {
		t.Fatalf("delivered audit rows = %d, want 1", n)
	}

	third, err := d.Dispatch(ctx, candidate())
	if err != nil {
		t.Fatalf("third dispatch: %v", err)
	}
	if third.Skipped != SkipAlreadyNotified {
		t.Fatalf("third result = %+v, want already notified", third)
	}
	if transport.count() != 2 {
		t.Fatalf("transport sends = %d, want 2", transport.count())
	}
}

func TestDispatchPermanentFailureCommits(t *testing.T) {
	t.Parallel()

	store := ledgertest.NewStore()
	transport := &scriptedTransport{results: []error{Permanent(errors.New("bot was blocked by the user"))}}
	result, err := newDispatcher(store, transport, time.Second).Dispatch(context.Background(), candidate())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Outcome != ledger.OutcomePermanentFailure || !result.Committed {
		t.Fatalf("result = %+v", result)
	}
	rows := store.Notifications()
	if len(rows) != 1 || rows[0].ErrorMessage == nil || *rows[0].ErrorMessage != "bot was blocked by the user" {
		t.Fatalf("unexpected audit rows %+v", rows)
	}
}

func TestDispatchTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	store := ledgertest.NewStore()
	result, err := newDispatcher(store, &scriptedTransport{block: true}, 20*time.Millisecond).Dispatch(context.Background(), candidate())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Outcome != ledger.OutcomeTransientFailure {
		t.Fatalf("outcome = %s, want transient", result.Outcome)
	}
	if !errors.Is(result.Err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", result.Err)
	}
	if store.RecordCount() != 0 {
		t.Fatalf("timeout created a dedup record")
	}
}

func TestDispatchSkipsPairHeldByAnotherWorker(t *testing.T) {
	t.Parallel()

	store := ledgertest.NewStore()
	release := store.Lock(7, 99)
	defer release()

	transport := &scriptedTransport{}
	result, err := newDispatcher(store, transport, time.Second).Dispatch(context.Background(), candidate())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Skipped != SkipInFlight || transport.count() != 0 {
		t.Fatalf("result = %+v sends=%d", result, transport.count())
	}
}

func TestConcurrentDispatchDeliversOnce(t *testing.T) {
	t.Parallel()

	store := ledgertest.NewStore()
	transport := &scriptedTransport{}
	d := newDispatcher(store, transport, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Dispatch(context.Background(), candidate()); err != nil {
				t.Errorf("Dispatch: %v", err)
			}
		}()
	}
	wg.Wait()

	if transport.count() != 1 {
		t.Fatalf("transport sends = %d, want 1", transport.count())
	}
	if store.RecordCount() != 1 {
		t.Fatalf("dedup records = %d, want 1", store.RecordCount())
	}
}

// pooledResolver looks subscribers up through the same bounded pool as the
// ledger.
type pooledResolver struct {
	store *ledgertest.Store
}

func (r pooledResolver) Recipient(ctx context.Context, userID int64) (Recipient, error) {
	release, err := r.store.Conn(ctx)
	if err != nil {
		return Recipient{}, err
	}
	defer release()
	chat := userID
	return Recipient{UserID: userID, TelegramChatID: &chat}, nil
}

func TestDispatchFitsConnectionLimitedPool(t *testing.T) {
	t.Parallel()

	const workers = 8
	store := ledgertest.NewLimitedStore(workers)
	transport := &scriptedTransport{}
	d := New(ledger.New(store, zerolog.Nop()), transport, pooledResolver{store: store}, time.Second, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var (
		mu        sync.Mutex
		delivered int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for article := int64(1); article <= 64; article++ {
		c := candidate()
		c.ArticleID = article
		g.Go(func() error {
			result, err := d.Dispatch(gctx, c)
			if err != nil {
				return err
			}
			if result.Committed {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered != 64 || store.RecordCount() != 64 {
		t.Fatalf("delivered=%d records=%d, want 64", delivered, store.RecordCount())
	}
	if peak := store.PeakConns(); peak > workers {
		t.Fatalf("peak connections = %d, want <= %d", peak, workers)
	}
}

func TestDispatchLedgerReadFailureSurfaces(t *testing.T) {
	t.Parallel()

	store := ledgertest.NewStore()
	store.HasErr = errors.New("db down")
	transport := &scriptedTransport{}
	_, err := newDispatcher(store, transport, time.Second).Dispatch(context.Background(), candidate())
	if err == nil {
		t.Fatalf("expected ledger error")
	}
	if transport.count() != 0 {
		t.Fatalf("sent despite unreadable ledger")
	}
}

func TestPayloadFor(t *testing.T) {
	t.Parallel()

	payload := PayloadFor(candidate())
	if payload.MatchedAlias != "Azerbaijan" || payload.Field != "title" || payload.Tier != "A" || payload.Kind != "text" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.URL != "https://news.example/a" || payload.Snippet == "" {
		t.Fatalf("payload missing link or snippet: %+v", payload)
	}
}

type stubSubscribers struct {
	rows map[int64]db.SubscriberRecord
	err  error
}

func (s stubSubscribers) GetSubscriber(_ context.Context, userID int64) (db.SubscriberRecord, error) {
	if s.err != nil {
		return db.SubscriberRecord{}, s.err
	}
	row, ok := s.rows[userID]
	if !ok {
		return db.SubscriberRecord{}, db.ErrNoRows
	}
	return row, nil
}

func TestStoreResolver(t *testing.T) {
	t.Parallel()

	chat := int64(555)
	email := " user@example.com "
	resolver := NewStoreResolver(stubSubscribers{rows: map[int64]db.SubscriberRecord{
		1: {UserID: 1, TelegramChatID: &chat, Email: &email, Active: true},
		2: {UserID: 2, Active: false},
		3: {UserID: 3, Active: true},
	}})
	ctx := context.Background()

	got, err := resolver.Recipient(ctx, 1)
	if err != nil || *got.TelegramChatID != 555 || got.Email != "user@example.com" {
		t.Fatalf("recipient 1 = %+v, %v", got, err)
	}

	got, err = resolver.Recipient(ctx, 42)
	if err != nil || got.TelegramChatID == nil || *got.TelegramChatID != 42 {
		t.Fatalf("default recipient = %+v, %v", got, err)
	}

	if _, err := resolver.Recipient(ctx, 2); !IsPermanent(err) {
		t.Fatalf("inactive subscriber err = %v, want permanent", err)
	}
	if _, err := resolver.Recipient(ctx, 3); !IsPermanent(err) {
		t.Fatalf("addressless subscriber err = %v, want permanent", err)
	}

	_, err = NewStoreResolver(stubSubscribers{err: errors.New("timeout")}).Recipient(ctx, 1)
	if err == nil || IsPermanent(err) {
		t.Fatalf("store failure err = %v, want transient", err)
	}
}
