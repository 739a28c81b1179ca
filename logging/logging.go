package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

// Configure installs a default slog logger writing to writer, or stderr if
// writer is nil.
func Configure(format Format, level slog.Level, writer io.Writer) error {
	if writer == nil {
		writer = os.Stderr
	}
	ho := &slog.HandlerOptions{
		AddSource:   false,
		Level:       level,
		ReplaceAttr: nil,
	}
	switch format {
	case JSONFormat:
		slog.SetDefault(slog.New(slog.NewJSONHandler(writer, ho)))
	case TextFormat:
		slog.SetDefault(slog.New(slog.NewTextHandler(writer, ho)))
	default:
		return fmt.Errorf("unexpected logging format: %q", format)
	}
	return nil
}
