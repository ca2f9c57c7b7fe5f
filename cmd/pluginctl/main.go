// Command pluginctl is the CLI front-end for the plugin configuration
// manager. It parses arguments, renders results, and maps errors to exit
// codes; all persistence semantics live in internal/config.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"plugin/manager/internal/config"
)

const (
	exitFailure    = 1
	exitConfigErr  = 2
	exitPermission = 3
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pluginctl: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var permErr *config.PermissionError
	if errors.As(err, &permErr) {
		return exitPermission
	}
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return exitConfigErr
	}
	return exitFailure
}

// defaultPaths resolves the standard locations under the user's home
// directory. The manager itself never consults the home directory; only this
// front-end does.
func defaultPaths() (pluginsDir, settingsPath string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	return filepath.Join(home, ".claude", "plugins"),
		filepath.Join(home, ".claude", "settings.json")
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
