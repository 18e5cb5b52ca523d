package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/migrate"
)

const usage = `usage: migrate <command> [args]

  up              apply all pending migrations
  down            roll back the latest migration
  status          print applied and pending migrations
  to <version>    migrate up or down to version (YYYYMMDDHHMMSS)
  new <title>     scaffold a migration in -dir
  lint            check the embedded migrations, or -dir when given
`

var errUsage = errors.New("invalid usage")

func main() {
	_ = godotenv.Load()
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	command, rest := args[0], args[1:]
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	dir := fs.String("dir", "", "migrations directory on disk")
	if err := fs.Parse(rest); err != nil {
		return errUsage
	}

	switch command {
	case "new":
		if fs.NArg() != 1 {
			return errUsage
		}
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.NewMigration(target, fs.Arg(0), time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, path)
		return nil
	case "lint":
		var err error
		if *dir != "" {
			err = migrate.Lint(os.DirFS(*dir), ".")
		} else {
			err = migrate.LintEmbedded()
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations ok")
		return nil
	case "up", "down", "status":
		return withDatabase(ctx, command, func(ctx context.Context, sqlDB *sql.DB) error {
			return migrate.Run(ctx, sqlDB, command)
		})
	case "to":
		if fs.NArg() != 1 {
			return errUsage
		}
		version, err := migrate.ParseVersion(fs.Arg(0))
		if err != nil {
			return err
		}
		return withDatabase(ctx, command, func(ctx context.Context, sqlDB *sql.DB) error {
			return migrate.MigrateTo(ctx, sqlDB, version)
		})
	default:
		return errUsage
	}
}

func withDatabase(ctx context.Context, command string, fn func(context.Context, *sql.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "command": command})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()

	sqlDB, err := client.SQL()
	if err != nil {
		return err
	}
	if err := fn(ctx, sqlDB); err != nil {
		logg.Error(ctx, "migration command failed", err)
		return err
	}
	logg.Info(ctx, "migration command finished")
	return nil
}
