package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

// isDoneError is a panic raised because a session or room context ended
func isDoneError(r any) bool {
	switch v := r.(type) {
	case error:
		return errors.Is(v, context.Canceled) || v.Error() == "Done"
	case string:
		return v == "Done"
	default:
		return false
	}
}

// HandleError runs `do` and recovers a panic.
// Handlers are `func()` or `func(error)` and are called after a recovered panic.
func HandleError(do func(), handlers ...any) (r any) {
	defer func() {
		if r = recover(); r != nil {
			if !isDoneError(r) {
				glog.Warningf("Unexpected error: %s\n", panicJson(r, debug.Stack()))
			}
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%s", r)
			}
			for _, handler := range handlers {
				switch v := handler.(type) {
				case func():
					v()
				case func(error):
					v(err)
				}
			}
		}
	}()
	do()
	return
}

func panicJson(r any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			stackLines = append(stackLines, line)
		}
	}
	panicJson, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%s", r, r),
		"stack": stackLines,
	})
	return string(panicJson)
}

// Trace logs the duration of `do`. Callers wrap with it under glog.V(2).
func Trace(tag string, do func()) {
	trace(tag, func() string {
		do()
		return ""
	})
}

func TraceWithReturnError[R any](tag string, do func() (R, error)) (result R, returnErr error) {
	trace(tag, func() string {
		result, returnErr = do()
		if returnErr != nil {
			return fmt.Sprintf(" err = %s", returnErr)
		}
		return ""
	})
	return
}

func trace(tag string, do func() string) {
	start := time.Now()
	glog.Infof("[trace]%s start\n", tag)
	doTag := do()
	glog.Infof("[trace]%s end %.2fms%s\n", tag, float64(time.Since(start))/float64(time.Millisecond), doTag)
}
