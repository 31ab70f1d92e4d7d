// Package scheduler runs the pipeline stages on wall-clock cadences. Every
// stage fires at offset past each multiple of its interval (UTC), so with the
// default offsets a match tick starts after the scrape and embed runs of the
// same five minute slot. Runs of the same stage may overlap; stages are
// expected to be safe under that.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/config"
	"horse.fit/mediatrends/internal/globaltime"
	"horse.fit/mediatrends/internal/logging"
)

const (
	StageScrape  = "scrape"
	StageEmbed   = "embed"
	StageMatch   = "match"
	StageCleanup = "cleanup"
)

// Stage is one periodic job.
type Stage struct {
	Name   string
	Every  time.Duration
	Offset time.Duration
	Run    func(ctx context.Context) error
}

type Scheduler struct {
	stages  []Stage
	timeout time.Duration
	logger  zerolog.Logger

	// after is replaced in tests
	after func(d time.Duration) <-chan time.Time

	wg sync.WaitGroup
}

// Runners are the four pipeline stages wired by the daemon.
type Runners struct {
	Scrape  func(ctx context.Context) error
	Embed   func(ctx context.Context) error
	Match   func(ctx context.Context) error
	Cleanup func(ctx context.Context) error
}

// PipelineStages lays out the four stages with the configured cadences.
func PipelineStages(cfg config.ScheduleConfig, runners Runners) []Stage {
	return []Stage{
		{Name: StageScrape, Every: cfg.ScrapeEvery, Offset: cfg.ScrapeOffset, Run: runners.Scrape},
		{Name: StageEmbed, Every: cfg.EmbedEvery, Offset: cfg.EmbedOffset, Run: runners.Embed},
		{Name: StageMatch, Every: cfg.MatchEvery, Offset: cfg.MatchOffset, Run: runners.Match},
		{Name: StageCleanup, Every: cfg.CleanupEvery, Offset: cfg.CleanupOffset, Run: runners.Cleanup},
	}
}

func New(stages []Stage, stageTimeout time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("scheduler needs at least one stage")
	}
	if stageTimeout <= 0 {
		return nil, fmt.Errorf("stage timeout must be > 0")
	}
	seen := make(map[string]struct{}, len(stages))
	for _, stage := range stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			return nil, fmt.Errorf("stage name is required")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", name)
		}
		seen[name] = struct{}{}
		if stage.Run == nil {
			return nil, fmt.Errorf("stage %s has no runner", name)
		}
		if stage.Every <= 0 {
			return nil, fmt.Errorf("stage %s interval must be > 0", name)
		}
		if stage.Offset < 0 || stage.Offset >= stage.Every {
			return nil, fmt.Errorf("stage %s offset must be in [0, %s)", name, stage.Every)
		}
	}

	return &Scheduler{
		stages:  stages,
		timeout: stageTimeout,
		logger:  logging.Component(logger, "scheduler"),
		after:   time.After,
	}, nil
}

// NextRun returns the first instant strictly after now that lies offset past
// a multiple of every.
func NextRun(now time.Time, every, offset time.Duration) time.Time {
	next := now.Truncate(every).Add(offset)
	for !next.After(now) {
		next = next.Add(every)
	}
	return next
}

// Run blocks until ctx is cancelled, then waits for in-flight stage runs.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, stage := range s.stages {
		s.logger.Info().
			Str("stage", stage.Name).
			Dur("every", stage.Every).
			Dur("offset", stage.Offset).
			Time("next_run", NextRun(globaltime.UTC(), stage.Every, stage.Offset)).
			Msg("stage scheduled")
	}

	var loops sync.WaitGroup
	for _, stage := range s.stages {
		loops.Add(1)
		go func(stage Stage) {
			defer loops.Done()
			s.loop(ctx, stage)
		}(stage)
	}
	loops.Wait()
	s.wg.Wait()

	s.logger.Info().Msg("scheduler stopped")
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stage Stage) {
	for {
		now := globaltime.UTC()
		wait := NextRun(now, stage.Every, stage.Offset).Sub(now)
		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.RunStage(ctx, stage)
		}()
	}
}

// RunStage runs one stage immediately, bounded by the stage timeout. Errors
// are logged and returned; the next scheduled run is unaffected.
func (s *Scheduler) RunStage(ctx context.Context, stage Stage) error {
	runID := uuid.NewString()
	log := s.logger.With().Str("stage", stage.Name).Str("run_id", runID).Logger()

	stageCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := globaltime.UTC()
	err := s.safeRun(stageCtx, stage)
	elapsed := globaltime.UTC().Sub(started)

	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("stage failed")
		return err
	}
	log.Info().Dur("elapsed", elapsed).Msg("stage finished")
	return nil
}

// Stage returns the named stage.
func (s *Scheduler) Stage(name string) (Stage, bool) {
	for _, stage := range s.stages {
		if stage.Name == name {
			return stage, true
		}
	}
	return Stage{}, false
}

func (s *Scheduler) safeRun(ctx context.Context, stage Stage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name, recovered)
		}
	}()
	return stage.Run(ctx)
}
