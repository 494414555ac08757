package log

import (
	"errors"
	"fmt"
	stdlog "log"
	"strings"
)

// Config is a declarative description of a Logger, suitable for
// unmarshaling from brrr's own config.Config.
type Config struct {
	Level    string `json:"level"`
	Format   string `json:"format"`
	Output   string `json:"output"`
	FilePath string `json:"filePath,omitempty"`
}

// ParseLevel parses a level name case-insensitively. An empty string
// parses as InfoLevel.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg. An empty Format defaults to text;
// an empty Output defaults to console.
func ApplyConfig(cfg *Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var formatter Formatter
	switch cfg.Format {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	var output Output
	switch cfg.Output {
	case "", "console":
		output = NewConsoleOutput()
	case "file":
		if cfg.FilePath == "" {
			return nil, errors.New("log: file output requires filePath")
		}
		fo, err := NewFileOutput(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		output = fo
	case "null":
		output = NullOutput{}
	default:
		return nil, fmt.Errorf("log: unknown output %q", cfg.Output)
	}

	return NewLogger(WithLevel(level), WithFormatter(formatter), WithOutput(output)), nil
}

// stdLogWriter adapts a Logger to io.Writer so the standard library's log
// package (used internally by e.g. Pebble) can be routed through it.
type stdLogWriter struct {
	logger Logger
}

func (w stdLogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// RedirectStdLog routes the standard library's default logger through
// logger, so third-party packages that log via log.Print* end up in the
// same structured pipeline as everything else.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogWriter{logger: logger})
}
