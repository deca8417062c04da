// Package log holds the shared go-kit logger.
package log

import (
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is a shared go-kit logger. Components should prefer a logger passed
// through their constructor over this global.
var Logger = kitlog.NewNopLogger()

// InitLogger initialises the global logger at the given level ("debug",
// "info", "warn", "error") and format ("logfmt" or "json").
func InitLogger(logFormat, logLevel string) (kitlog.Logger, error) {
	var lvl dslog.Level
	if err := lvl.Set(logLevel); err != nil {
		return nil, err
	}

	writer := kitlog.NewSyncWriter(os.Stderr)
	logger := dslog.NewGoKitWithWriter(logFormat, writer)
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
	logger = level.NewFilter(logger, lvl.Option)

	Logger = logger
	return logger, nil
}
