package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/migrate"
	"github.com/joho/godotenv"
)

const (
	cmdCreate   = "create"
	cmdValidate = "validate"
	cmdVersion  = "version"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", migrate.CommandUp, "migration command: up|down|status|redo|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate only touch the migrations directory
	if handled, err := runOffline(*cmd, *dir, *name); handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", *cmd, err)
			os.Exit(1)
		}
		return
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	if cfg.DB.IsSQLite() {
		fmt.Fprintln(os.Stderr, "goose migrations target postgres; sqlite schemas come from MERCHCOIN_AUTO_MIGRATE")
		os.Exit(1)
	}
	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	if err := runGoose(ctx, sqlDB, *cmd, *dir, *version); err != nil {
		logg.Error(ctx, "migrate.failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate.completed")
}

func runOffline(cmd, dir, name string) (bool, error) {
	switch cmd {
	case cmdCreate:
		if name == "" {
			return true, errors.New("missing -name")
		}
		path, err := migrate.CreateSQLMigration(dir, name, time.Now())
		if err != nil {
			return true, err
		}
		fmt.Println("created migration:", path)
		return true, nil
	case cmdValidate:
		if err := migrate.ValidateDir(dir); err != nil {
			return true, err
		}
		fmt.Println("migration validation passed")
		return true, nil
	}
	return false, nil
}

func runGoose(ctx context.Context, sqlDB *sql.DB, cmd, dir, version string) error {
	switch cmd {
	case migrate.CommandUp, migrate.CommandDown, migrate.CommandStatus, migrate.CommandRedo:
		return migrate.Run(ctx, sqlDB, dir, cmd)
	case cmdVersion:
		if version == "" {
			return errors.New("missing -version")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, dir, version)
	}
	return fmt.Errorf("unknown -cmd value %q", cmd)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
