// Package database handles opening, migrating and checking the local store.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/session-foundation/session-desktop-sub001/internal/config"
	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/observability"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CustomGormLogger integrates GORM with slog
type CustomGormLogger struct {
	logger *slog.Logger
	Config logger.Config
}

// LogMode sets the logging level and returns a new interface instance.
func (l *CustomGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newlogger := *l
	newlogger.Config.LogLevel = level
	return &newlogger
}

// Info logs an informational message with context.
func (l *CustomGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Warn logs a warning message with context.
func (l *CustomGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *CustomGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace logs trace-level information including SQL queries and execution time.
func (l *CustomGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.Config.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && l.Config.LogLevel >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		l.logger.ErrorContext(ctx, "GORM query error",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	case elapsed > l.Config.SlowThreshold && l.Config.SlowThreshold != 0 && l.Config.LogLevel >= logger.Warn:
		l.logger.WarnContext(ctx, "GORM slow query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	case l.Config.LogLevel >= logger.Info:
		l.logger.InfoContext(ctx, "GORM query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	}
}

// Store bundles the open database handle with capability flags discovered at
// startup.
type Store struct {
	DB *gorm.DB
	// FTSEnabled is false when the SQLite build lacks the FTS5 module. Message
	// writes then skip shadow-index maintenance and search is unavailable.
	FTSEnabled bool
}

// Open opens (or creates) the SQLite store, migrates the schema, sets up the
// full-text shadow table and runs the startup integrity check.
//
// A failed integrity check returns an IntegrityError; the caller surfaces the
// quit-vs-reset choice to the user.
func Open(cfg *config.Config) (*Store, error) {
	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create db folder: %w", err)
	}

	gormLogger := &CustomGormLogger{
		logger: observability.GlobalLogger.Logger,
		Config: logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single write transaction in flight at a time per store handle. Reads go
	// through the WAL without blocking.
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	if err := ensureIncrementalVacuum(db); err != nil {
		return nil, err
	}

	graceful := wasShutdownGraceful(db)

	if err := db.AutoMigrate(
		&models.Conversation{},
		&models.Message{},
		&models.Item{},
		&models.SeenMessageHash{},
		&models.LastHash{},
		&models.AttachmentDownloadJob{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	ftsEnabled, err := setupFullTextIndex(db)
	if err != nil {
		return nil, err
	}

	// Quick structural validation is skipped after a clean shutdown; a crash
	// triggers the full scan once.
	if err := CheckIntegrity(db, graceful); err != nil {
		return nil, err
	}

	// Cleared again only when Close completes, so a crash is detectable.
	if err := setGracefulShutdownFlag(db, false); err != nil {
		return nil, err
	}

	observability.GlobalLogger.Info("database opened",
		slog.String("path", dbPath),
		slog.Bool("previous_shutdown_graceful", graceful),
		slog.Bool("fts_enabled", ftsEnabled),
	)

	return &Store{DB: db, FTSEnabled: ftsEnabled}, nil
}

// Close persists the clean-shutdown flag and closes the handle. It must only
// be called after all background work (sweeps, vacuum chunks) has finished.
func (s *Store) Close() error {
	if err := setGracefulShutdownFlag(s.DB, true); err != nil {
		return err
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CheckIntegrity runs PRAGMA quick_check, or the full integrity_check when the
// previous shutdown was not graceful. Any result other than "ok" is fatal.
func CheckIntegrity(db *gorm.DB, previousShutdownGraceful bool) error {
	pragma := "integrity_check"
	if previousShutdownGraceful {
		pragma = "quick_check"
	}

	var results []string
	if err := db.Raw("PRAGMA " + pragma).Scan(&results).Error; err != nil {
		return models.NewIntegrityError("integrity check could not run", err)
	}
	if len(results) == 1 && results[0] == "ok" {
		return nil
	}
	return models.NewIntegrityError(
		fmt.Sprintf("integrity check (%s) failed: %s", pragma, strings.Join(results, "; ")), nil)
}

// Reset discards the store files entirely. Only valid while no handle is open;
// used for the discard-and-reset recovery choice.
func Reset(cfg *config.Config) error {
	dbPath := cfg.DatabasePath()
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// FTSTable is the name of the full-text shadow table, keyed by messages.rowid.
const FTSTable = "messages_fts"

func setupFullTextIndex(db *gorm.DB) (bool, error) {
	err := db.Exec(
		"CREATE VIRTUAL TABLE IF NOT EXISTS " + FTSTable + " USING fts5(body)",
	).Error
	if err == nil {
		return true, nil
	}
	if strings.Contains(err.Error(), "no such module") {
		observability.GlobalLogger.Warn("SQLite build lacks FTS5; message search disabled",
			slog.String("error", err.Error()))
		return false, nil
	}
	return false, fmt.Errorf("failed to create full-text index: %w", err)
}

// Switching auto_vacuum mode only takes effect after a full VACUUM, so that
// one-time cost is paid on the first startup after the setting changes.
func ensureIncrementalVacuum(db *gorm.DB) error {
	var mode int
	if err := db.Raw("PRAGMA auto_vacuum").Scan(&mode).Error; err != nil {
		return fmt.Errorf("failed to read auto_vacuum mode: %w", err)
	}
	const incremental = 2
	if mode == incremental {
		return nil
	}
	if err := db.Exec("PRAGMA auto_vacuum = INCREMENTAL").Error; err != nil {
		return fmt.Errorf("failed to set auto_vacuum: %w", err)
	}
	start := time.Now()
	if err := db.Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("initial vacuum failed: %w", err)
	}
	observability.GlobalLogger.Info("switched store to incremental auto_vacuum",
		slog.Duration("vacuum_took", time.Since(start)))
	return nil
}

func wasShutdownGraceful(db *gorm.DB) bool {
	var value string
	err := db.Raw("SELECT value FROM items WHERE id = ?", models.ItemGracefulShutdown).Scan(&value).Error
	if err != nil {
		// First run: the items table does not exist yet.
		return true
	}
	return value == "true"
}

func setGracefulShutdownFlag(db *gorm.DB, graceful bool) error {
	value := "false"
	if graceful {
		value = "true"
	}
	return db.Exec(
		"INSERT OR REPLACE INTO items (id, value) VALUES (?, ?)",
		models.ItemGracefulShutdown, value,
	).Error
}
