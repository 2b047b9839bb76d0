package main

import (
	"context"
	"database/sql"
	"flag"

	fxmodules "ladder-tracker/internal/fx"
	"ladder-tracker/internal/repository"
	"ladder-tracker/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

var (
	seasonID = flag.Int64("season", 0, "season id to recalculate (default: the active season)")
	rollback = flag.Int64("rollback", 0, "match id to roll back before recalculating")
	reason   = flag.String("reason", "manual recalculation", "reason recorded on the reset ledger entries")
)

func main() {
	flag.Parse()

	fx.New(
		fxmodules.Module,
		fx.Invoke(run),
	).Run()
}

func run(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	recalcSvc *service.RecalcService,
	rollbackSvc *service.RollbackService,
	seasonRepo *repository.SeasonRepository,
	db *sql.DB,
	logger zerolog.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer shutdowner.Shutdown()
				if err := execute(context.Background(), recalcSvc, rollbackSvc, seasonRepo, logger); err != nil {
					logger.Error().Err(err).Msg("run failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			return nil
		},
	})
}

func execute(
	ctx context.Context,
	recalcSvc *service.RecalcService,
	rollbackSvc *service.RollbackService,
	seasonRepo *repository.SeasonRepository,
	logger zerolog.Logger,
) error {
	if *rollback != 0 {
		eligibility, err := rollbackSvc.CanRollback(ctx, *rollback)
		if err != nil {
			return err
		}
		if !eligibility.Allowed {
			logger.Error().Str("reason", eligibility.Reason).Msg("rollback refused")
			return nil
		}
		// A successful rollback already recalculates the season.
		return rollbackSvc.Rollback(ctx, *rollback)
	}

	id := *seasonID
	if id == 0 {
		season, err := seasonRepo.GetActive(ctx)
		if err != nil {
			return err
		}
		id = season.ID
	}

	result, err := recalcSvc.RecalculateSeason(ctx, id, *reason, func(p service.RecalcProgress) {
		logger.Info().
			Str("status", string(p.Status)).
			Int("processed", p.ProcessedMatches).
			Int("total", p.TotalMatches).
			Int64("current_match_id", p.CurrentMatchID).
			Msg("recalculation progress")
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("run_id", result.RunID).
		Int64("season_id", result.SeasonID).
		Int("entries_created", result.EntriesCreated).
		Int("skipped_updates", result.SkippedUpdates).
		Msg("done")
	return nil
}
