// Package applog wraps logrus the way the teacher's pkg/logger wrapped the
// standard library logger: a small set of package-level helpers plus a
// startup banner, so callers never import logrus directly.
package applog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel parses level ("debug", "info", "warn", "error") and applies it
// to the base logger; an unrecognized level is left at the previous
// setting.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	base.SetLevel(lvl)
}

// For returns a named component logger, mirroring logrus's WithField
// idiom used throughout the rest of this module (conn, listener, manager
// each carry their own "component" field).
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Base exposes the underlying logger for callers that need logrus's full
// API (e.g. hooks registered by cmd/rudpd).
func Base() *logrus.Logger {
	return base
}

// Banner prints the startup banner, grounded on the teacher's
// pkg/logger.Banner but without the ANSI color codes that assumed a
// specific terminal palette; logrus owns output formatting from here on.
func Banner(title, version string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", title, version)
}
