package database

import (
	"fmt"
	"strings"
	"time"

	"visaconnect-relay/internal/config"
	"visaconnect-relay/internal/models"
	"visaconnect-relay/pkg/logger"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	connectRetries    = 5
	connectRetryDelay = 2 * time.Second
	slowQueryLimit    = 200 * time.Millisecond
)

// gormWriter routes gorm's log lines into the service logger.
type gormWriter struct {
	log *logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "gorm")
}

// NewGormLogger reports slow queries and errors through log. Missing records are
// an expected outcome of lookups and are not logged.
func NewGormLogger(log *logger.Logger) gormlogger.Interface {
	return gormlogger.New(gormWriter{log: log}, gormlogger.Config{
		SlowThreshold:             slowQueryLimit,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// NewPostgresConnection opens the database, retrying while it comes up.
func NewPostgresConnection(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	var db *gorm.DB
	var err error
	for i := 0; i < connectRetries; i++ {
		db, err = gorm.Open(postgres.Open(cfg.URI), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			PrepareStmt:                              false,
			SkipDefaultTransaction:                   true,
			AllowGlobalUpdate:                        false,
			Logger:                                   NewGormLogger(log),
		})
		if err == nil {
			break
		}
		log.Warn("Failed to connect to database", "attempt", i+1, "maxAttempts", connectRetries, "error", err)
		time.Sleep(connectRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", connectRetries, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("PostgreSQL connection established")
	return db, nil
}

// Migrate creates or updates the relay schema. It works on any gorm dialect.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return addIndexes(db)
}

func addIndexes(db *gorm.DB) error {
	indexes := []struct {
		table   string
		columns []string
	}{
		{"conversation_participants", []string{"conversation_id"}},
	}

	for _, idx := range indexes {
		for _, column := range idx.columns {
			indexName := fmt.Sprintf("idx_%s_%s", idx.table, column)
			if err := db.Exec(fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				indexName, idx.table, column)).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
