package logging

import (
	"fmt"
	"log/slog"

	pionlogging "github.com/pion/logging"
)

type pionLoggerFactory struct {
	sl *slog.Logger
}

// NewPionLoggerFactory returns a pion LoggerFactory which writes to logger,
// or the default logger if logger is nil.
func NewPionLoggerFactory(logger *slog.Logger) pionlogging.LoggerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &pionLoggerFactory{sl: logger}
}

// NewLogger implements logging.LoggerFactory.
func (f *pionLoggerFactory) NewLogger(scope string) pionlogging.LeveledLogger {
	return &pionLogger{sl: f.sl.With("scope", scope)}
}

type pionLogger struct {
	sl *slog.Logger
}

// Trace implements logging.LeveledLogger.
func (p *pionLogger) Trace(msg string) {
	p.sl.Debug("pion-trace-log", "msg", msg)
}

// Tracef implements logging.LeveledLogger.
func (p *pionLogger) Tracef(format string, args ...any) {
	p.sl.Debug("pion-trace-log", "msg", fmt.Sprintf(format, args...))
}

// Debug implements logging.LeveledLogger.
func (p *pionLogger) Debug(msg string) {
	p.sl.Debug("pion-debug-log", "msg", msg)
}

// Debugf implements logging.LeveledLogger.
func (p *pionLogger) Debugf(format string, args ...any) {
	p.sl.Debug("pion-debug-log", "msg", fmt.Sprintf(format, args...))
}

// Info implements logging.LeveledLogger.
func (p *pionLogger) Info(msg string) {
	p.sl.Info("pion-info-log", "msg", msg)
}

// Infof implements logging.LeveledLogger.
func (p *pionLogger) Infof(format string, args ...any) {
	p.sl.Info("pion-info-log", "msg", fmt.Sprintf(format, args...))
}

// Warn implements logging.LeveledLogger.
func (p *pionLogger) Warn(msg string) {
	p.sl.Warn("pion-warn-log", "msg", msg)
}

// Warnf implements logging.LeveledLogger.
func (p *pionLogger) Warnf(format string, args ...any) {
	p.sl.Warn("pion-warn-log", "msg", fmt.Sprintf(format, args...))
}

// Error implements logging.LeveledLogger.
func (p *pionLogger) Error(msg string) {
	p.sl.Error("pion-error-log", "msg", msg)
}

// Errorf implements logging.LeveledLogger.
func (p *pionLogger) Errorf(format string, args ...any) {
	p.sl.Error("pion-error-log", "msg", fmt.Sprintf(format, args...))
}
