package keyword

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/logging"
)

// ErrKeywordNotFound is returned for unknown keyword ids.
var ErrKeywordNotFound = errors.New("keyword not found")

const immediateStepTimeout = 2 * time.Minute

type Store interface {
	InsertKeyword(ctx context.Context, params db.InsertKeywordParams) (db.KeywordRecord, bool, error)
	GetKeyword(ctx context.Context, keywordID int64) (db.KeywordRecord, error)
	FindKeyword(ctx context.Context, userID int64, canonical string) (db.KeywordRecord, error)
	ListKeywordsByUser(ctx context.Context, userID int64) ([]db.KeywordRecord, error)
	ReplaceKeywordAliases(ctx context.Context, keywordID int64, aliases []string) (db.KeywordRecord, error)
	DeactivateKeyword(ctx context.Context, keywordID int64) (bool, error)
}

// Embedder stores the semantic vector of a keyword.
type Embedder interface {
	EmbedKeyword(ctx context.Context, keywordID int64, canonical string) error
}

// Matcher runs a match restricted to one keyword.
type Matcher interface {
	MatchKeyword(ctx context.Context, keywordID int64) error
}

// Service owns the keyword lifecycle. Aliases are generated here and only
// here; matching reads whatever was persisted.
type Service struct {
	store    Store
	expander *Expander
	embedder Embedder
	matcher  Matcher
	logger   zerolog.Logger
}

// NewService wires the lifecycle. embedder and matcher may be nil.
func NewService(store Store, expander *Expander, embedder Embedder, matcher Matcher, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		expander: expander,
		embedder: embedder,
		matcher:  matcher,
		logger:   logging.Component(logger, "keywords"),
	}
}

// Add registers a keyword for a user. A keyword the user already holds is
// reactivated with its stored aliases. In both cases the keyword is embedded
// and matched against recent articles right away; failures of those follow-up
// steps are logged and left to the scheduled stages.
func (s *Service) Add(ctx context.Context, userID int64, canonical string) (db.KeywordRecord, bool, error) {
	if userID == 0 {
		return db.KeywordRecord{}, false, fmt.Errorf("user id is required")
	}
	canonical = Clean(canonical)
	if canonical == "" {
		return db.KeywordRecord{}, false, ErrEmptyKeyword
	}

	params := db.InsertKeywordParams{UserID: userID, Canonical: canonical}
	existing, err := s.store.FindKeyword(ctx, userID, canonical)
	switch {
	case err == nil:
		// Reactivation keeps the stored aliases, so there is nothing to translate.
		params.Canonical = existing.Canonical
		params.Aliases = existing.Aliases
	case errors.Is(err, db.ErrNoRows):
		set, err := s.expander.Expand(ctx, canonical)
		if err != nil {
			return db.KeywordRecord{}, false, fmt.Errorf("expand aliases: %w", err)
		}
		params.Canonical = set.Canonical()
		params.Aliases = set.Aliases()
	default:
		return db.KeywordRecord{}, false, err
	}

	record, created, err := s.store.InsertKeyword(ctx, params)
	if err != nil {
		return db.KeywordRecord{}, false, err
	}

	s.logger.Info().
		Int64("keyword_id", record.KeywordID).
		Int64("user_id", userID).
		Bool("created", created).
		Int("aliases", len(record.Aliases)).
		Msg("keyword registered")

	s.followUp(ctx, record)
	return record, created, nil
}

// Refresh regenerates the aliases of an existing keyword. Notifications that
// were already committed are not affected.
func (s *Service) Refresh(ctx context.Context, keywordID int64) (db.KeywordRecord, error) {
	existing, err := s.get(ctx, keywordID)
	if err != nil {
		return db.KeywordRecord{}, err
	}

	set, err := s.expander.Expand(ctx, existing.Canonical)
	if err != nil {
		return db.KeywordRecord{}, fmt.Errorf("expand aliases: %w", err)
	}
	record, err := s.store.ReplaceKeywordAliases(ctx, keywordID, set.Aliases())
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return db.KeywordRecord{}, ErrKeywordNotFound
		}
		return db.KeywordRecord{}, err
	}

	s.logger.Info().
		Int64("keyword_id", keywordID).
		Int("aliases", len(record.Aliases)).
		Msg("keyword aliases refreshed")
	return record, nil
}

// Remove deactivates a keyword. Removing an inactive keyword is not an error.
func (s *Service) Remove(ctx context.Context, keywordID int64) error {
	if _, err := s.get(ctx, keywordID); err != nil {
		return err
	}
	changed, err := s.store.DeactivateKeyword(ctx, keywordID)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info().Int64("keyword_id", keywordID).Msg("keyword deactivated")
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]db.KeywordRecord, error) {
	return s.store.ListKeywordsByUser(ctx, userID)
}

func (s *Service) get(ctx context.Context, keywordID int64) (db.KeywordRecord, error) {
	record, err := s.store.GetKeyword(ctx, keywordID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return db.KeywordRecord{}, ErrKeywordNotFound
		}
		return db.KeywordRecord{}, err
	}
	return record, nil
}

func (s *Service) followUp(ctx context.Context, record db.KeywordRecord) {
	log := s.logger.With().Int64("keyword_id", record.KeywordID).Logger()

	if s.embedder != nil {
		embedCtx, cancel := context.WithTimeout(ctx, immediateStepTimeout)
		err := s.embedder.EmbedKeyword(embedCtx, record.KeywordID, record.Canonical)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("keyword embedding deferred to embed stage")
		}
	}

	if s.matcher != nil {
		matchCtx, cancel := context.WithTimeout(ctx, immediateStepTimeout)
		err := s.matcher.MatchKeyword(matchCtx, record.KeywordID)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("immediate match failed; next match tick covers it")
		}
	}
}
