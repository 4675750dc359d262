// Package corelog is the logging facade used throughout minicore. It
// wraps github.com/apex/log behind a package-level, lazily-initialized
// handler so a host application (e.g. a crash reporter) can redirect our
// log output to its own sink without every internal package importing
// apex/log directly.
package corelog

import (
	"sync"

	"github.com/apex/log"
)

var (
	once sync.Once
	l    *log.Entry
)

func logger() *log.Entry {
	once.Do(func() {
		l = log.WithField("component", "minicore")
	})
	return l
}

// SetHandler installs a custom apex/log handler, overriding the default
// CLI handler. Call before the first WriteCore invocation.
func SetHandler(h log.Handler) {
	log.SetHandler(h)
}

// SetLevel sets the minimum severity that gets logged.
func SetLevel(level log.Level) {
	log.SetLevel(level)
}

func Debugf(format string, args ...interface{}) { logger().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { logger().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { logger().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { logger().Errorf(format, args...) }
