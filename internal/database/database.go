// Package database opens the Postgres connection and runs migrations,
// grounded on the teacher's pkg/database/gorm.go but migrating the run
// model set instead of the teacher's SaaS domain tables.
package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loomwork/loom/internal/config"
	"github.com/loomwork/loom/internal/models"
)

func NewGormDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
		PrepareStmt:                              true,
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info().Msg("database connected")
	return db, nil
}

// AutoMigrate creates or updates the run/node/server tables.
func AutoMigrate(db *gorm.DB) error {
	log.Info().Msg("running database migrations")
	err := db.AutoMigrate(
		&models.Run{},
		&models.RunNode{},
		&models.RegisteredServer{},
	)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations completed")
	return nil
}
