package board

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `board` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal operation,
//     with the exception of one time (infrequent) session data that is useful for monitoring
//     this includes:
//     - connection loss, auth denial, reconnect
//     - dropped outbound frames
//     - cache open and replay failures
// Warning:
//     unexpected panics even if handled and suppressed for partial operation
// Debug (glog.V(2)):
//     key events for trace debugging
//     this includes:
//     - key session events with ids that can be used to filter
//     - frequent events - e.g. pointer samples, presence writes, applied ops -
//       should be summarized rather than logged per data point
//
// Tags: [t] transport, [doc] document store, [cache] local cache, [index] local index,
// [p] presence, [tool] tool machine, [select] selection, [api] board api, [s] session,
// [relay] relay rooms

const LogLevelDebug = 2

type LogFunction func(string, ...any)

func LogFn(tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(LogLevelDebug) {
			m := fmt.Sprintf(format, a...)
			glog.Infof("[%s]%s\n", tag, m)
		}
	}
}

func SubLogFn(log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		log("%s: %s", tag, m)
	}
}
