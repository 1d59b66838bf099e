package main

import (
	"log/slog"
	"os"

	"github.com/WRAN-OEVSV/IEEE802.22/fanout"
	"github.com/WRAN-OEVSV/IEEE802.22/logging"
)

// setupLogger builds the service logger: a console handler plus the
// client-facing bridge. The bridge stays silent until a router is
// installed on it.
func setupLogger(verbosity int, format string) (*slog.Logger, *logging.Bridge) {
	bridge := logging.NewBridge(logging.VerbosityLevel(verbosity), fanout.PermissionLogs)

	logger := logging.New(verbosity, format, os.Stdout, bridge)
	return logger.With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	), bridge
}
