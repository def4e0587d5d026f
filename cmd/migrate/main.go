// Command migrate applies the embedded goose migrations to DATABASE_URL.
//
//	migrate up | down | status | version | redo
//	migrate up-to <version> | down-to <version>
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/logging"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		dbURL   string
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the escrow database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort after this long")

	run := func(command string, args cobra.PositionalArgs, short string) *cobra.Command {
		return &cobra.Command{
			Use:   command,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, argv []string) error {
				if dbURL == "" {
					return errors.New("DATABASE_URL or --database-url is required")
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				return migrate(ctx, dbURL, command, argv)
			},
		}
	}

	root.AddCommand(
		run("up", cobra.NoArgs, "Apply all pending migrations"),
		run("down", cobra.NoArgs, "Roll back the last migration"),
		run("status", cobra.NoArgs, "Show applied and pending migrations"),
		run("version", cobra.NoArgs, "Print the current schema version"),
		run("redo", cobra.NoArgs, "Roll back and re-apply the last migration"),
		run("up-to <version>", cobra.ExactArgs(1), "Migrate up to a specific version"),
		run("down-to <version>", cobra.ExactArgs(1), "Roll back to a specific version"),
	)
	return root
}

func migrate(ctx context.Context, dbURL, use string, args []string) error {
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	command, _, _ := strings.Cut(use, " ")
	if err := migrations.Run(ctx, db, command, args...); err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	logger.Info("migration complete", "command", command)
	return nil
}
