package backtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SeedResult pairs one seed with the report its run produced.
type SeedResult struct {
	Seed   int64  `json:"seed"`
	Rank   int    `json:"rank"`
	Report Report `json:"report"`
}

// Sweep runs the same scenario across several seeds and ranks the outcomes.
// A robust risk configuration earns a similar report on every seed; a lucky
// one falls apart as soon as the walk changes.
type Sweep struct {
	scenario    Scenario
	artifactDir string
	parallel    int
	logger      zerolog.Logger
}

func NewSweep(sc Scenario, artifactDir string, logger zerolog.Logger) *Sweep {
	return &Sweep{
		scenario:    sc,
		artifactDir: artifactDir,
		parallel:    4,
		logger:      logger.With().Str("component", "backtest_sweep").Logger(),
	}
}

// SetParallelism caps how many runs execute at once.
func (s *Sweep) SetParallelism(n int) {
	if n > 0 {
		s.parallel = n
	}
}

// Run executes one backtest per seed and returns the results ranked best
// Sharpe first. Each run gets its own artifact directory keyed by seed.
func (s *Sweep) Run(ctx context.Context, seeds []int64) ([]SeedResult, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("sweep needs at least one seed")
	}

	s.logger.Info().
		Int("seeds", len(seeds)).
		Int("parallel", s.parallel).
		Msg("seed sweep starting")

	results := make([]SeedResult, len(seeds))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)

	for i, seed := range seeds {
		g.Go(func() error {
			sc := s.scenario
			sc.Seed = seed
			dir := filepath.Join(s.artifactDir, fmt.Sprintf("seed_%d", seed))
			eng, err := NewEngine(sc, dir, s.logger)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			run, err := eng.Run(ctx)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			results[i] = SeedResult{Seed: seed, Report: run.Report}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Report.SharpeRatio > results[j].Report.SharpeRatio
	})
	for i := range results {
		results[i].Rank = i + 1
	}

	s.logger.Info().
		Int("runs", len(results)).
		Int64("best_seed", results[0].Seed).
		Float64("best_sharpe", results[0].Report.SharpeRatio).
		Msg("seed sweep finished")

	return results, nil
}
