// Package logger mirrors the call shape of lxd's shared/logger package
// (logger.Info(msg, logger.Ctx{...})) but is backed directly by logrus
// rather than reimplementing a structured-logging facade. chand's own code
// never imports logrus directly — everything goes through here, matching
// how lxd's call sites only ever see logger.Ctx/Info/etc.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx is a set of structured key/value fields attached to a log line.
type Ctx map[string]any

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetDebug toggles debug-level logging (chand's --debug flag).
func SetDebug(enabled bool) {
	if enabled {
		std.SetLevel(logrus.DebugLevel)
		return
	}

	std.SetLevel(logrus.InfoLevel)
}

func fields(ctx Ctx) logrus.Fields {
	if len(ctx) == 0 {
		return nil
	}

	f := make(logrus.Fields, len(ctx))
	for k, v := range ctx {
		f[k] = v
	}

	return f
}

// Debug logs at debug level.
func Debug(msg string, ctx ...Ctx) { entry(ctx).Debug(msg) }

// Info logs at info level.
func Info(msg string, ctx ...Ctx) { entry(ctx).Info(msg) }

// Warn logs at warn level.
func Warn(msg string, ctx ...Ctx) { entry(ctx).Warn(msg) }

// Error logs at error level.
func Error(msg string, ctx ...Ctx) { entry(ctx).Error(msg) }

func entry(ctxs []Ctx) *logrus.Entry {
	if len(ctxs) == 0 {
		return logrus.NewEntry(std)
	}

	return std.WithFields(fields(ctxs[0]))
}
