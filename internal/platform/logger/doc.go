// Package logger builds the service's JSON slog logger and threads scoped
// loggers through contexts. HTTP requests get one carrying the trace ID;
// jobs get one carrying the task ID and type.
package logger
