// Package dispatch delivers match candidates and commits terminal outcomes to
// the dedup ledger. It never retries: a transient failure leaves the pair
// without a dedup record so the next scheduled tick tries again.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/ledger"
	"horse.fit/mediatrends/internal/logging"
	"horse.fit/mediatrends/internal/scoring"
	"horse.fit/mediatrends/internal/textscan"
)

const (
	DefaultTimeout     = 10 * time.Second
	ledgerWriteTimeout = 10 * time.Second
)

// Candidate is one scored (user, keyword, article) pairing from a tick.
type Candidate struct {
	UserID    int64
	KeywordID int64
	ArticleID int64
	Keyword   string
	Score     scoring.Score
	Evidence  *textscan.Evidence
	Article   ArticleRef
	TickID    string
}

type ArticleRef struct {
	Title       string
	URL         string
	SourceName  string
	Description string
}

// SkipReason explains why a candidate was not sent.
type SkipReason string

const (
	SkipAlreadyNotified SkipReason = "already_notified"
	SkipInFlight        SkipReason = "in_flight"
)

type Result struct {
	Outcome   ledger.Outcome
	Skipped   SkipReason
	Committed bool
	Err       error
}

type Dispatcher struct {
	ledger    *ledger.Ledger
	transport Transport
	resolver  RecipientResolver
	timeout   time.Duration
	logger    zerolog.Logger
}

func New(l *ledger.Ledger, transport Transport, resolver RecipientResolver, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		ledger:    l,
		transport: transport,
		resolver:  resolver,
		timeout:   timeout,
		logger:    logging.Component(logger, "dispatch"),
	}
}

// Dispatch sends one candidate. The pair is guarded for the duration of the
// call and the ledger is re-checked under the guard, so two workers racing on
// the same pair cannot both deliver. The recipient is resolved before the
// guard is taken; while the guard is held every ledger read and write goes
// through it, so one dispatch holds at most one database connection. The
// returned error is set only when the ledger itself could not be read or
// written; delivery failures are reported through Result.Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, c Candidate) (Result, error) {
	recipient, resolveErr := d.resolver.Recipient(ctx, c.UserID)

	pair, acquired, err := d.ledger.Guard(ctx, c.UserID, c.ArticleID)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{Skipped: SkipInFlight}, nil
	}
	defer pair.Release()

	has, err := pair.Has(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("recheck ledger: %w", err)
	}
	if has {
		return Result{Skipped: SkipAlreadyNotified}, nil
	}

	sendErr := resolveErr
	if sendErr == nil {
		sendErr = d.send(ctx, recipient, c)
	}
	outcome := classify(sendErr)
	entry := entryFor(c, outcome, sendErr)

	// Once a message may have left, the outcome is written even if the tick is
	// being cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()

	log := d.logger.With().
		Str("tick_id", c.TickID).
		Int64("user_id", c.UserID).
		Int64("keyword_id", c.KeywordID).
		Int64("article_id", c.ArticleID).
		Str("outcome", string(outcome)).
		Logger()

	if !outcome.Terminal() {
		log.Warn().Err(sendErr).Msg("delivery failed transiently; pair stays eligible")
		if err := pair.RecordAttempt(writeCtx, entry); err != nil {
			log.Error().Err(err).Msg("record transient attempt")
		}
		return Result{Outcome: outcome, Err: sendErr}, nil
	}

	committed, err := pair.Commit(writeCtx, entry)
	if err != nil {
		return Result{Outcome: outcome, Err: sendErr}, err
	}
	if outcome == ledger.OutcomePermanentFailure {
		log.Warn().Err(sendErr).Msg("delivery failed permanently; pair closed")
	} else {
		log.Info().Float64("score", c.Score.Value).Str("alias", entry.MatchedAlias).Msg("notification delivered")
	}
	return Result{Outcome: outcome, Committed: committed, Err: sendErr}, nil
}

func (d *Dispatcher) send(ctx context.Context, recipient Recipient, c Candidate) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.transport.Send(sendCtx, recipient, PayloadFor(c)); err != nil {
		if isTimeout(err) || sendCtx.Err() != nil {
			return fmt.Errorf("%s send timed out after %s: %w", d.transport.Name(), d.timeout, err)
		}
		return err
	}
	return nil
}

func classify(err error) ledger.Outcome {
	switch {
	case err == nil:
		return ledger.OutcomeDelivered
	case IsPermanent(err):
		return ledger.OutcomePermanentFailure
	default:
		return ledger.OutcomeTransientFailure
	}
}

// PayloadFor builds the message content for a candidate.
func PayloadFor(c Candidate) Payload {
	payload := Payload{
		ArticleID:   c.ArticleID,
		Title:       c.Article.Title,
		URL:         c.Article.URL,
		SourceName:  c.Article.SourceName,
		Description: c.Article.Description,
		Keyword:     c.Keyword,
		Score:       c.Score.Value,
		Kind:        string(c.Score.Kind),
		Tier:        string(c.Score.Tier),
	}
	if c.Evidence != nil {
		payload.MatchedAlias = c.Evidence.Alias
		payload.Snippet = c.Evidence.Snippet
		payload.Field = string(c.Evidence.Field)
	}
	return payload
}

func entryFor(c Candidate, outcome ledger.Outcome, sendErr error) ledger.Entry {
	entry := ledger.Entry{
		UserID:    c.UserID,
		KeywordID: c.KeywordID,
		ArticleID: c.ArticleID,
		Score:     c.Score.Value,
		Tier:      string(c.Score.Kind),
		Outcome:   outcome,
		TickID:    c.TickID,
	}
	if c.Score.Tier != "" {
		entry.Tier = string(c.Score.Tier)
	}
	if c.Evidence != nil {
		entry.MatchedField = string(c.Evidence.Field)
		entry.MatchedAlias = c.Evidence.Alias
		entry.Snippet = c.Evidence.Snippet
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	return entry
}
