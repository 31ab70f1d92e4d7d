// Package ledger records which (user, article) pairs reached a terminal
// delivery outcome. A dedup record is the only thing that suppresses a repeat
// notification, so it is written after delivery and never before.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/logging"
)

type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomePermanentFailure Outcome = "permanently_failed"
	OutcomeTransientFailure Outcome = "transiently_failed"
)

// Terminal outcomes close the pair for good.
func (o Outcome) Terminal() bool {
	return o == OutcomeDelivered || o == OutcomePermanentFailure
}

// Store is the storage contract. db.Pool implements it.
type Store interface {
	HasDedupRecord(ctx context.Context, userID, articleID int64) (bool, error)
	CommitDedupRecord(ctx context.Context, row db.NotificationRow) (bool, error)
	InsertNotification(ctx context.Context, row db.NotificationRow) error
	TryPairLock(ctx context.Context, userID, articleID int64) (db.PairSession, bool, error)
}

// writer is the subset shared by the pool and a held pair session.
type writer interface {
	CommitDedupRecord(ctx context.Context, row db.NotificationRow) (bool, error)
	InsertNotification(ctx context.Context, row db.NotificationRow) error
}

// Entry is one delivery attempt as it is written to the audit trail.
type Entry struct {
	UserID       int64
	KeywordID    int64
	ArticleID    int64
	Score        float64
	Tier         string
	MatchedField string
	MatchedAlias string
	Snippet      string
	Outcome      Outcome
	Error        string
	TickID       string
}

type Ledger struct {
	store  Store
	logger zerolog.Logger
}

func New(store Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logging.Component(logger, "ledger"),
	}
}

func (l *Ledger) Has(ctx context.Context, userID, articleID int64) (bool, error) {
	return l.store.HasDedupRecord(ctx, userID, articleID)
}

// Commit writes the dedup record and its audit row. A second commit for the
// same pair is a benign no-op and reports false.
func (l *Ledger) Commit(ctx context.Context, entry Entry) (bool, error) {
	return l.commit(ctx, l.store, entry)
}

// RecordAttempt appends an audit row without touching the dedup records. It is
// used for transient failures, which must stay eligible for the next tick.
func (l *Ledger) RecordAttempt(ctx context.Context, entry Entry) error {
	return recordAttempt(ctx, l.store, entry)
}

// Guard serializes delivery of one pair across workers and processes. ok is
// false when another worker holds the pair; the caller skips it this tick.
// The returned Pair must be released.
func (l *Ledger) Guard(ctx context.Context, userID, articleID int64) (*Pair, bool, error) {
	session, ok, err := l.store.TryPairLock(ctx, userID, articleID)
	if err != nil {
		return nil, false, fmt.Errorf("guard pair user_id=%d article_id=%d: %w", userID, articleID, err)
	}
	if !ok || session == nil {
		return nil, false, nil
	}
	return &Pair{ledger: l, session: session, userID: userID, articleID: articleID}, true, nil
}

// Pair is a guarded (user, article) pair. Its reads and writes go through the
// session that holds the guard.
type Pair struct {
	ledger    *Ledger
	session   db.PairSession
	userID    int64
	articleID int64
}

func (p *Pair) Has(ctx context.Context) (bool, error) {
	return p.session.HasDedupRecord(ctx, p.userID, p.articleID)
}

func (p *Pair) Commit(ctx context.Context, entry Entry) (bool, error) {
	if err := p.owns(entry); err != nil {
		return false, err
	}
	return p.ledger.commit(ctx, p.session, entry)
}

func (p *Pair) RecordAttempt(ctx context.Context, entry Entry) error {
	if err := p.owns(entry); err != nil {
		return err
	}
	return recordAttempt(ctx, p.session, entry)
}

func (p *Pair) Release() {
	p.session.Release()
}

func (p *Pair) owns(entry Entry) error {
	if entry.UserID != p.userID || entry.ArticleID != p.articleID {
		return fmt.Errorf("entry user_id=%d article_id=%d written through guard for user_id=%d article_id=%d",
			entry.UserID, entry.ArticleID, p.userID, p.articleID)
	}
	return nil
}

func (l *Ledger) commit(ctx context.Context, w writer, entry Entry) (bool, error) {
	if !entry.Outcome.Terminal() {
		return false, fmt.Errorf("commit user_id=%d article_id=%d: outcome %q is not terminal", entry.UserID, entry.ArticleID, entry.Outcome)
	}
	inserted, err := w.CommitDedupRecord(ctx, toRow(entry))
	if err != nil {
		return false, fmt.Errorf("commit dedup record: %w", err)
	}
	if !inserted {
		l.logger.Info().
			Int64("user_id", entry.UserID).
			Int64("article_id", entry.ArticleID).
			Msg("dedup record already present")
	}
	return inserted, nil
}

func recordAttempt(ctx context.Context, w writer, entry Entry) error {
	if entry.Outcome.Terminal() {
		return fmt.Errorf("record attempt user_id=%d article_id=%d: terminal outcome %q must be committed", entry.UserID, entry.ArticleID, entry.Outcome)
	}
	if err := w.InsertNotification(ctx, toRow(entry)); err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}
	return nil
}

func toRow(entry Entry) db.NotificationRow {
	var errMsg *string
	if msg := strings.TrimSpace(entry.Error); msg != "" {
		errMsg = &msg
	}
	return db.NotificationRow{
		NotificationUUID: uuid.NewString(),
		UserID:           entry.UserID,
		KeywordID:        entry.KeywordID,
		ArticleID:        entry.ArticleID,
		Score:            entry.Score,
		Tier:             entry.Tier,
		MatchedField:     entry.MatchedField,
		MatchedAlias:     entry.MatchedAlias,
		Snippet:          entry.Snippet,
		Outcome:          string(entry.Outcome),
		ErrorMessage:     errMsg,
		TickID:           entry.TickID,
	}
}
