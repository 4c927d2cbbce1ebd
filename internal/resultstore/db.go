package resultstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config selects and configures the GORM connection backing a GormStore
// (spec.md Configuration surface does not name a resultstore DSN; this is
// an operator-chosen addition, present only when a coordinator opts into
// persisted history).
type Config struct {
	Driver string // "sqlite" (default) or "postgres"
	DSN    string
	Logger *zap.Logger
}

// Open connects, applies the embedded job_results migration, and returns a
// ready-to-use *gorm.DB (spec.md SPEC_FULL.md resultstore component,
// grounded on server/internal/db.New's dual-dialector selection).
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("resultstore: logger is required")
	}

	gormCfg := &gorm.Config{Logger: newZapGORMLogger(cfg.Logger)}

	var (
		database *gorm.DB
		sqlDB    *sql.DB
		err      error
		drvName  string
	)

	switch cfg.Driver {
	case "sqlite", "":
		sqlDB, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("resultstore: open sqlite: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		database, err = gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, gormCfg)
		if err != nil {
			return nil, fmt.Errorf("resultstore: gorm open sqlite: %w", err)
		}
		drvName = "sqlite"

	case "postgres":
		database, err = gorm.Open(gormpostgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("resultstore: gorm open postgres: %w", err)
		}
		sqlDB, err = database.DB()
		if err != nil {
			return nil, fmt.Errorf("resultstore: sql.DB: %w", err)
		}
		drvName = "postgres"

	default:
		return nil, fmt.Errorf("resultstore: unsupported driver %q, use \"sqlite\" or \"postgres\"", cfg.Driver)
	}

	if err := runMigrations(sqlDB, drvName); err != nil {
		return nil, fmt.Errorf("resultstore: migrations: %w", err)
	}
	return database, nil
}

func runMigrations(sqlDB *sql.DB, driver string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	var m *migrate.Migrate
	switch driver {
	case "sqlite":
		drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("sqlite migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("migrator: %w", err)
		}
	case "postgres":
		drv, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
		if err != nil {
			return fmt.Errorf("postgres migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err != nil {
			return fmt.Errorf("migrator: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// zapGORMLogger routes GORM's internal logging through a *zap.Logger,
// logging only errors and slow queries at Warn by default (grounded on
// server/internal/db/logger.go, trimmed to the single fixed level this
// package's small schema needs).
type zapGORMLogger struct {
	log *zap.Logger
}

func newZapGORMLogger(log *zap.Logger) gormlogger.Interface {
	return &zapGORMLogger{log: log.Named("resultstore.gorm")}
}

func (l *zapGORMLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *zapGORMLogger) Info(_ context.Context, msg string, args ...interface{}) {
	l.log.Sugar().Infof(msg, args...)
}

func (l *zapGORMLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	l.log.Sugar().Warnf(msg, args...)
}

func (l *zapGORMLogger) Error(_ context.Context, msg string, args ...interface{}) {
	l.log.Sugar().Errorf(msg, args...)
}

func (l *zapGORMLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{zap.String("sql", sql), zap.Duration("elapsed", elapsed), zap.Int64("rows", rows)}
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.log.Error("gorm query error", append(fields, zap.Error(err))...)
	case elapsed > 200*time.Millisecond:
		l.log.Warn("gorm slow query", fields...)
	}
}
