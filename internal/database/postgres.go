package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/radiusdt/adspend-kpi/internal/config"
)

// OpenPostgres returns a PostgreSQL handle that keeps no idle connections:
// each request dials its own connection and closing it ends the session.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	connConfig.ConnectTimeout = cfg.DialTimeout

	db := stdlib.OpenDB(*connConfig)
	configureUnpooled(db)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.DBName),
		zap.String("table", cfg.Table),
	)

	return db, nil
}

func configureUnpooled(db *sql.DB) {
	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(time.Minute)
}
