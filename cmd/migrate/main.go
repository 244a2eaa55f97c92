package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"punchclock/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)

	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pool.Close()

	files, err := filepath.Glob("migrations/*.sql")
	if err != nil {
		log.Fatal().Err(err).Msg("error listing migration files")
	}
	sort.Strings(files)
	if len(files) == 0 {
		log.Fatal().Msg("no migration files found")
	}

	for _, file := range files {
		migration, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("error reading migration file")
		}
		if _, err := pool.Exec(context.Background(), string(migration)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("error executing migration")
		}
		log.Info().Str("file", file).Msg("migration applied")
	}

	log.Info().Msg("migrations completed successfully")
}
