// Package enginelog configures structured logging for the engine. Every
// component logs through log/slog with a JSON handler over a
// size-rotating file.
package enginelog

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where and how engine logs are written.
type Config struct {
	Level         string // debug, info, warn, error
	FilePath      string
	MaxSizeMB     int
	MaxFiles      int
	WriteToStderr bool
}

// DefaultConfig returns sensible defaults rooted at dir (the engine base
// directory; the log file goes to its logs/ subdirectory).
func DefaultConfig(dir string) Config {
	return Config{
		Level:         "info",
		FilePath:      LogPath(dir),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup builds a *slog.Logger writing to a rotating file (and optionally
// stderr). The returned cleanup func must be called to flush and close the
// file on shutdown.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var output io.Writer = writer
	if cfg.WriteToStderr {
		output = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	logger := slog.New(handler)

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return logger, cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
