package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic in the calling goroutine and logs it with
// the stack. Call it deferred:
//
//	defer observability.RecoverPanic(logger, "touch last used")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverPanicWithCallback is RecoverPanic followed by callback, which runs
// only when a panic was recovered
func RecoverPanicWithCallback(logger *Logger, where string, callback func(recovered interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if callback != nil {
			callback(r)
		}
	}
}

func logPanic(logger *Logger, where string, r interface{}) {
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("PANIC recovered")
}
