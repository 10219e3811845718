// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableStoreLogging     bool
	EnableSchedulerLogging bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableStoreLogging:     true,
		EnableSchedulerLogging: true,
	}
)

// StoreLogger provides structured logging for record store operations.
type StoreLogger struct {
	tableName string
	logger    *Logger
}

// NewStoreLogger creates a new StoreLogger for the given table.
func NewStoreLogger(tableName string) *StoreLogger {
	return &StoreLogger{
		tableName: tableName,
		logger:    GlobalLogger,
	}
}

// LogWrite logs a store mutation (insert, update or delete).
func (l *StoreLogger) LogWrite(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableStoreLogging {
		return
	}
	attrs := []any{
		slog.String("table", l.tableName),
		slog.String("operation", operation),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "store write", attrs...)
}

// LogRead logs a store read operation.
func (l *StoreLogger) LogRead(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableStoreLogging {
		return
	}
	attrs := []any{
		slog.String("table", l.tableName),
		slog.String("operation", operation),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "store read", attrs...)
}

// LogError logs a store error.
func (l *StoreLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableStoreLogging {
		return
	}
	l.logger.ErrorContext(ctx, "store error",
		slog.String("table", l.tableName),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// SchedulerLogger provides structured logging for the expiration scheduler and
// the vacuum manager.
type SchedulerLogger struct {
	component string
	logger    *Logger
}

// NewSchedulerLogger creates a new SchedulerLogger for the given component.
func NewSchedulerLogger(component string) *SchedulerLogger {
	return &SchedulerLogger{
		component: component,
		logger:    GlobalLogger,
	}
}

// LogEvent logs a lifecycle event (armed, sweep, paused, ...).
func (l *SchedulerLogger) LogEvent(ctx context.Context, event string, fields map[string]interface{}) {
	if !Config.EnableSchedulerLogging {
		return
	}
	attrs := []any{
		slog.String("component", l.component),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "scheduler event", attrs...)
}

// LogError logs a scheduler error event.
func (l *SchedulerLogger) LogError(ctx context.Context, event string, err error) {
	if !Config.EnableSchedulerLogging {
		return
	}
	l.logger.ErrorContext(ctx, "scheduler error",
		slog.String("component", l.component),
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

// LogAsyncOperationStart logs the start of an asynchronous operation.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_start"),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "async operation started", attrs...)
}

// LogAsyncOperationEnd logs the completion of an asynchronous operation.
func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_end"),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "async operation completed", attrs...)
}

// LogAsyncOperationError logs an error in an asynchronous operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.ErrorContext(ctx, "async operation failed", attrs...)
}
