package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/face10ai/credits-backend/internal/credits"
	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/logger"
)

// credits-admin sets an account balance and logs the difference as an admin transaction.
//
//	credits-admin -email ana@example.com -credits 50
func main() {
	logg := logger.New(logger.Options{ServiceName: "credits-admin"})
	_ = godotenv.Load()

	email := flag.String("email", "", "account email")
	target := flag.Int("credits", -1, "balance to set")
	note := flag.String("note", "", "transaction description")
	flag.Parse()

	if *email == "" || *target < 0 {
		fmt.Fprintln(os.Stderr, "usage: credits-admin -email <email> -credits <n> [-note text]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "credits-admin",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
	})
	ctx := logg.WithField(context.Background(), "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	svc, err := credits.NewService(credits.ServiceParams{
		Repo:              credits.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create credit service", err)
		os.Exit(1)
	}

	if err := run(ctx, svc, os.Stdout, *email, *target, *note); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type balanceSetter interface {
	AdminSetBalance(ctx context.Context, email string, target int, description string) (int, error)
}

func run(ctx context.Context, svc balanceSetter, out io.Writer, email string, target int, note string) error {
	delta, err := svc.AdminSetBalance(ctx, email, target, note)
	if err != nil {
		return fmt.Errorf("set balance for %s: %w", email, err)
	}
	_, err = fmt.Fprintf(out, "%s: balance set to %d (%+d)\n", email, target, delta)
	return err
}
