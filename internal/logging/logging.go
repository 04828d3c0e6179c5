package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Setup installs a tint handler writing to w as the default logger and
// returns it. verbose enables debug records. Colors are only used when w is
// a terminal.
func Setup(w io.Writer, verbose bool) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return install(w, verbose, noColor)
}

// SetupFile is Setup with every record also appended to the file at path.
// Colors are off so the file stays plain text. The returned func reinstalls
// Setup(w, verbose) and closes the file.
func SetupFile(w io.Writer, verbose bool, path string) (*slog.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := install(io.MultiWriter(w, f), verbose, true)
	closeFile := func() error {
		Setup(w, verbose)
		return f.Close()
	}
	return logger, closeFile, nil
}

func install(w io.Writer, verbose, noColor bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	}))
	slog.SetDefault(logger)
	return logger
}
