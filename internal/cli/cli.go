// Package cli holds the command line plumbing shared by the rtcbuild binaries.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ringrtc/rtcbuild/internal/build"
	"github.com/ringrtc/rtcbuild/internal/config"
	"github.com/ringrtc/rtcbuild/internal/logging"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// UsageError marks errors caused by the command line itself. The usage text
// has already been printed when one is returned.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// Globals are the flags every binary accepts.
type Globals struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	// Environment is the process environment captured once at start-up.
	Environment subprocess.Environment
	// Stderr receives log output.
	Stderr io.Writer

	logger *slog.Logger
}

// Bind registers the global flags on cmd and installs the usage-printing
// flag error handler.
func (g *Globals) Bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "Path to a YAML configuration file (default: ./"+config.DefaultFileName+" if present)")
	cmd.PersistentFlags().StringVar(&g.LogLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	cmd.PersistentFlags().StringVar(&g.LogFormat, "log-format", defaultLogFormat, "Set log format (text, json)")

	cmd.SetFlagErrorFunc(Usage)
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		_, err := g.Logger()
		return err
	}
}

// Logger builds the logger selected by the flags. It is created once.
func (g *Globals) Logger() (*slog.Logger, error) {
	if g.logger != nil {
		return g.logger, nil
	}
	level, err := logging.ParseLevel(g.LogLevel)
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	format, err := logging.ParseFormat(g.LogFormat)
	if err != nil {
		return nil, &UsageError{Err: err}
	}

	w := g.Stderr
	if w == nil {
		w = os.Stderr
	}
	g.logger = logging.New(format, w, level)
	return g.logger, nil
}

// LoadConfig reads the configuration for the current working directory.
func (g *Globals) LoadConfig() (config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(g.ConfigPath, wd, g.Environment)
}

// ExitCode maps the error returned by a command onto a process exit status.
func ExitCode(err error) int {
	var usage *UsageError
	if errors.As(err, &usage) {
		return 1
	}
	return build.ExitCode(err)
}

// Execute runs root with args and returns the exit status. Errors are logged
// with logger unless they are usage errors, which cobra already reported.
func Execute(ctx context.Context, root *cobra.Command, args []string, g *Globals) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	logger, logErr := g.Logger()
	if logErr != nil {
		logger = logging.New(logging.FormatText, root.ErrOrStderr(), slog.LevelInfo)
	}
	var usage *UsageError
	switch {
	case errors.As(err, &usage):
		if logErr == nil {
			logger.Debug("invalid command line", "error", err)
		} else {
			root.PrintErrln("Error:", err)
		}
	case errors.Is(err, context.Canceled):
		logger.Warn("command interrupted", "error", err)
	default:
		logger.Error("command failed", "error", err)
	}
	return ExitCode(err)
}

// Usage prints err with the usage text of cmd and marks it as a usage error.
func Usage(cmd *cobra.Command, err error) error {
	cmd.PrintErrln("Error:", err)
	cmd.PrintErr(cmd.UsageString())
	return &UsageError{Err: err}
}

// NoArgs rejects positional arguments, printing usage like a flag error.
func NoArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	return Usage(cmd, errors.New("unexpected argument "+args[0]))
}
