package avcore

import "log"

// pkgLogger is the package-wide default logger. avcore is a library, not an
// application: it never depends on a particular logging framework. Hosts
// that want structured logging adapt their logger of choice to this
// interface and call SetLogger.
var pkgLogger Logger = log.Default()

// Logger is the minimal sink avcore writes diagnostics to.
type Logger interface {
	Printf(format string, v ...any)
}

// SetLogger replaces the package-wide logger. Not safe to call concurrently
// with playback; call it once during startup.
func SetLogger(logger Logger) {
	pkgLogger = logger
}
