package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the log output format.
type Format string

const (
	// FormatText outputs human-readable text.
	FormatText Format = "text"
	// FormatJSON outputs one JSON object per record.
	FormatJSON Format = "json"
)

// ParseFormat parses a format string. The empty string means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// Options configures the logger factory.
type Options struct {
	// EnvSpec is the spec taken from the environment.
	EnvSpec string
	// CLISpec is the spec taken from a command line flag. It takes
	// precedence over EnvSpec.
	CLISpec string
	// ConfigSpec is the spec taken from a config file, lowest
	// precedence.
	ConfigSpec string
	// Format is the output format, text by default.
	Format Format
	// Output is the log writer. Defaults to os.Stdout.
	Output io.Writer
}

// New builds a slog.Logger with per-component level filtering.
// Spec precedence follows Unix convention: CLI flag over environment
// variable over config file.
func New(opts Options) (*slog.Logger, error) {
	specStr := ""
	switch {
	case opts.CLISpec != "":
		specStr = opts.CLISpec
	case opts.EnvSpec != "":
		specStr = opts.EnvSpec
	case opts.ConfigSpec != "":
		specStr = opts.ConfigSpec
	}

	spec, err := ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	// The inner handler passes everything; the filtering handler is
	// the single point of level control.
	handlerOpts := &slog.HandlerOptions{
		Level: LevelTrace.ToSlog(),
	}

	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(output, handlerOpts)
	default:
		inner = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// Default builds a logger with default settings: info level, text
// format, stdout.
func Default() *slog.Logger {
	logger, _ := New(Options{})
	return logger
}

// FromEnv builds a logger from the BPFOBJ_LOG environment variable.
func FromEnv() (*slog.Logger, error) {
	return New(Options{
		EnvSpec: os.Getenv("BPFOBJ_LOG"),
	})
}
