package database

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ConnectorFunc func() (*gorm.DB, zerolog.Logger, error)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DbName   string
	SslMode  string
}

func LoadConfigFromEnv(log zerolog.Logger) Config {
	return Config{
		Host:     env.GetVariableOrDefault(log, "POSTGRES_HOST", ""),
		Port:     env.GetVariableOrDefault(log, "POSTGRES_PORT", "5432"),
		User:     env.GetVariableOrDefault(log, "POSTGRES_USER", ""),
		Password: env.GetVariableOrDefault(log, "POSTGRES_PASSWORD", ""),
		DbName:   env.GetVariableOrDefault(log, "POSTGRES_DBNAME", "diwise"),
		SslMode:  env.GetVariableOrDefault(log, "POSTGRES_SSLMODE", "disable"),
	}
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s password=%s", c.Host, c.Port, c.User, c.DbName, c.SslMode, c.Password)
}

func NewSQLiteConnector(log zerolog.Logger) ConnectorFunc {
	return NewSQLiteFileConnector(log, "file::memory:")
}

func NewSQLiteFileConnector(log zerolog.Logger, dsn string) ConnectorFunc {
	return func() (*gorm.DB, zerolog.Logger, error) {
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})

		if err == nil {
			sqldb, _ := db.DB()
			sqldb.SetMaxOpenConns(1)
		}

		return db, log, err
	}
}

const connectAttempts int = 5

func NewPostgreSQLConnector(ctx context.Context, log zerolog.Logger, cfg Config) ConnectorFunc {
	return func() (*gorm.DB, zerolog.Logger, error) {
		sublogger := log.With().Str("host", cfg.Host).Str("database", cfg.DbName).Logger()

		var err error

		for attempt := 1; attempt <= connectAttempts; attempt++ {
			sublogger.Info().Msg("connecting to database host")

			var db *gorm.DB
			db, err = gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{
				Logger: logger.New(
					&sublogger,
					logger.Config{
						SlowThreshold:             time.Second,
						LogLevel:                  logger.Warn,
						IgnoreRecordNotFoundError: true,
						Colorful:                  false,
					},
				),
			})
			if err == nil {
				return db, sublogger, nil
			}

			sublogger.Error().Err(err).Msgf("failed to connect to database (attempt %d of %d)", attempt, connectAttempts)

			select {
			case <-ctx.Done():
				return nil, sublogger, ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}

		return nil, sublogger, fmt.Errorf("unable to connect to database: %w", err)
	}
}
