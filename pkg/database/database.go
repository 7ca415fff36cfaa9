package database

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nourish_backend/internal/model"
)

type Options struct {
	MaxIdleConns int
	MaxOpenConns int
}

// Open connects to PostgreSQL.
func Open(dsn string, opts Options, log zerolog.Logger) (*gorm.DB, error) {
	pgConfig := postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}

	gormConfig := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Error),
		PrepareStmt: false,
	}

	db, err := gorm.Open(postgres.New(pgConfig), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	log.Info().Msg("database connected")
	return db, nil
}

// Models lists every table owned by the service.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.SubscriptionRecord{},
		&model.BillingEvent{},
	}
}

func Migrate(db *gorm.DB, log zerolog.Logger, models ...interface{}) error {
	for _, m := range models {
		if !db.Migrator().HasTable(m) {
			if err := db.Migrator().CreateTable(m); err != nil {
				return fmt.Errorf("create table for %T: %w", m, err)
			}
			log.Info().Str("model", fmt.Sprintf("%T", m)).Msg("created table")
			continue
		}
		if err := db.Migrator().AutoMigrate(m); err != nil {
			return fmt.Errorf("migrate %T: %w", m, err)
		}
		log.Debug().Str("model", fmt.Sprintf("%T", m)).Msg("updated table")
	}
	return nil
}
