// Command migrate applies the SQL migrations to DATABASE_URL and prints the
// resulting table shapes.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"cheonkimoon/internal/config"
	"cheonkimoon/internal/db/migrations"
	"cheonkimoon/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	dryRun := flag.Bool("dry-run", false, "list embedded migrations without connecting")
	flag.Parse()

	if *dryRun {
		all, err := migrations.List()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, m := range all {
			fmt.Printf("%s (%d bytes)\n", m.Version, len(m.SQL))
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Database.URL == "" {
		logger.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	if err := conn.PingContext(ctx); err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	logger.Info("database connected")

	applied, err := migrations.Apply(ctx, conn)
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	if len(applied) == 0 {
		logger.Info("schema already up to date")
	} else {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}

	for _, table := range []string{"free_saju_records", "reading_logs"} {
		cols, err := migrations.Columns(ctx, conn, table)
		if err != nil {
			logger.Fatal("inspect table", zap.String("table", table), zap.Error(err))
		}
		if len(cols) == 0 {
			logger.Warn("table not found", zap.String("table", table))
			continue
		}
		fmt.Printf("%s:\n", table)
		for _, c := range cols {
			fmt.Printf("  - %s: %s\n", c.Name, c.DataType)
		}
	}
}
