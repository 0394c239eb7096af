package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// newLogger logs in color to stderr and, if path is set, as text to path.
func newLogger(path string, verbose bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05.000",
		}),
	}

	closeFn := func() {}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return nil, nil, err
		}

		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
		closeFn = func() { f.Close() }
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeFn, nil
}
