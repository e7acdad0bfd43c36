package tome

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `tome` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal
//     operation - auth diagnostics, rollbacks, refresh attempts
// Warning:
//     unexpected panics even if handled and suppressed for partial operation
// Debug (LogFn with LogLevelDebug):
//     key events for trace debugging - cache hits, invalidations, tracker begin/end

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

var GlobalLogLevel = LogLevelUrgent

type LogFunction func(string, ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			glog.Infof("%s: %s\n", tag, m)
		}
	}
}

func SubLogFn(level int, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			log("%s: %s", tag, m)
		}
	}
}
