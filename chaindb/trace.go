package chaindb

import (
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

// Logging convention in the `chaindb` package:
// Info:
//     abnormal events only. dropped frames, transport errors, channel closed,
//     recovered callback panics
// V(1):
//     lifecycle. event channel open/close, connect
// V(2):
//     one trace line per round trip, with timing

// runs `do` and recovers a panic into the handlers.
// handlers may be `func()` or `func(error)`
func HandleError(do func(), handlers ...any) (r any) {
	defer func() {
		if r = recover(); r != nil {
			glog.Infof("[chaindb]recovered = %s\n", errorJson(r, debug.Stack()))
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
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

func errorJson(err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			stackLines = append(stackLines, line)
		}
	}
	errorJson, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%v", err, err),
		"stack": stackLines,
	})
	return string(errorJson)
}

// traces only when glog v >= 2
func TraceWithReturnError[R any](tag string, do func() (R, error)) (result R, returnErr error) {
	if !glog.V(2) {
		return do()
	}
	start := time.Now()
	glog.Infof("[%-5s]%s\n", "start", tag)
	result, returnErr = do()
	millis := float32(time.Since(start)) / float32(time.Millisecond)
	if returnErr != nil {
		glog.Infof("[%-5s]%s (%.2fms) err = %s\n", "end", tag, millis, returnErr)
	} else {
		glog.Infof("[%-5s]%s (%.2fms)\n", "end", tag, millis)
	}
	return
}

func TraceError(tag string, do func() error) error {
	_, err := TraceWithReturnError(tag, func() (struct{}, error) {
		return struct{}{}, do()
	})
	return err
}

func callbackName(f any) string {
	return runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
}
