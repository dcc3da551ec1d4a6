package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/safar/go-order-lifecycle/internal/config"
	"github.com/safar/go-order-lifecycle/internal/database"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fatal(logger, "usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		fatal(logger, "direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", "error", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		fatal(logger, "connect to database", "error", err)
	}
	defer db.Close()

	migrationDir := "migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		fatal(logger, "read migration directory", "error", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), fmt.Sprintf(".%s.sql", direction)) {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)
	if direction == "down" {
		for i, j := 0, len(migrationFiles)-1; i < j; i, j = i+1, j-1 {
			migrationFiles[i], migrationFiles[j] = migrationFiles[j], migrationFiles[i]
		}
	}

	for _, filename := range migrationFiles {
		content, err := os.ReadFile(filepath.Join(migrationDir, filename))
		if err != nil {
			fatal(logger, "read migration file", "file", filename, "error", err)
		}

		logger.Info("running migration", "file", filename)
		if _, err := db.Exec(string(content)); err != nil {
			fatal(logger, "execute migration", "file", filename, "error", err)
		}
	}

	logger.Info("migrations complete", "count", len(migrationFiles), "direction", direction)
}

func fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
