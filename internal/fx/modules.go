package fx

import (
	"ladder-tracker/internal/config"
	"ladder-tracker/internal/database"
	"ladder-tracker/internal/logger"
	"ladder-tracker/internal/repository"
	"ladder-tracker/internal/service"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewMatchRepository),
	fx.Provide(repository.NewLedgerRepository),
	fx.Provide(repository.NewSeasonRepository),
	// svc
	fx.Provide(service.NewRecalcService),
	fx.Provide(service.NewRollbackService),
)
