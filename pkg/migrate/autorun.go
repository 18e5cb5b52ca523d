package migrate

import (
	"context"
	"fmt"

	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/logger"
)

// MaybeRunDev brings a dev database up to date at boot when
// FACE10AI_AUTO_MIGRATE is set. Other environments migrate with
// cmd/migrate. SQLite gets its schema from the models because the SQL files
// are Postgres-only.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	driver := client.Driver()
	ctx = logg.WithField(ctx, "driver", driver)

	var err error
	if driver == db.DriverSQLite {
		err = client.DB().WithContext(ctx).AutoMigrate(models.All()...)
	} else {
		err = upFromClient(ctx, client)
	}
	if err != nil {
		return fmt.Errorf("dev auto-migrate (%s): %w", driver, err)
	}
	logg.Info(ctx, "dev schema up to date")
	return nil
}

func upFromClient(ctx context.Context, client *db.Client) error {
	sqlDB, err := client.SQL()
	if err != nil {
		return err
	}
	return Run(ctx, sqlDB, "up")
}
