package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

// MaybeRunDev brings the schema up to date in dev when MERCHCOIN_AUTO_MIGRATE
// is set. Postgres goes through goose; sqlite has no row-level security or
// SKIP LOCKED, so it gets the gorm model schema instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})

	if cfg.DB.IsSQLite() {
		if err := models.AutoMigrate(client.DB().WithContext(ctx)); err != nil {
			return fmt.Errorf("sqlite automigrate: %w", err)
		}
		logg.Info(ctx, "migrate.sqlite.completed")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	ctx = logg.WithField(ctx, "dir", DefaultDir)
	logg.Info(ctx, "migrate.goose.started")
	if err := Run(ctx, sqlDB, DefaultDir, CommandUp); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	logg.Info(ctx, "migrate.goose.completed")
	return nil
}
