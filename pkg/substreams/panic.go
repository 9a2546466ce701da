package substreams

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/davidmdm/x/xruntime"

	"github.com/yokecd/substreams/internal/abi"
)

// Failure is the value a module panics with when it aborts a call. It carries the location
// that is reported to the host.
type Failure struct {
	Message  string
	File     string
	Line     int
	reported bool
}

func (failure *Failure) Error() string {
	if failure.File == "" {
		return failure.Message
	}
	return fmt.Sprintf("%s (%s:%d)", failure.Message, failure.File, failure.Line)
}

var hook struct {
	once   sync.Once
	report func(abi.Panic)
}

// RegisterPanicHook enables reporting failures to the host. It is safe to call more than once.
func RegisterPanicHook() {
	hook.once.Do(func() {
		hook.report = func(report abi.Panic) {
			abi.Current().RegisterPanic(report)
		}
	})
}

// Guard must be deferred by every entry point. It reports a panic to the host, once,
// and then lets the panic continue so that the call aborts.
func Guard() {
	r := recover()
	if r == nil {
		return
	}

	failure, ok := r.(*Failure)
	if !ok {
		file, line := panicSite()
		failure = &Failure{Message: panicMessage(r), File: file, Line: line}
	}

	report(failure)
	panic(failure)
}

// Fatal aborts the call with err.
func Fatal(err error) {
	fail(err.Error())
}

// Fatalf aborts the call with a formatted message.
func Fatalf(format string, args ...any) {
	fail(fmt.Sprintf(format, args...))
}

func fail(msg string) {
	file, line := callSite()
	failure := &Failure{Message: msg, File: file, Line: line}
	report(failure)
	panic(failure)
}

func report(failure *Failure) {
	if failure.reported || hook.report == nil {
		return
	}
	failure.reported = true

	// Go does not expose column information.
	hook.report(abi.Panic{
		Message: failure.Message,
		File:    failure.File,
		Line:    uint32(max(failure.Line, 0)),
	})
	abi.Current().Println("panic: " + failure.Error() + "\n" + xruntime.CallStack(-1).String())
}

func panicMessage(value any) string {
	switch value := value.(type) {
	case error:
		var failure *Failure
		if errors.As(value, &failure) {
			return failure.Message
		}
		return value.Error()
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

// panicSite finds the frame that panicked from within a deferred function.
func panicSite() (string, int) {
	pcs := make([]uintptr, 64)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(2, pcs)])

	panicking := false
	for {
		frame, more := frames.Next()
		if panicking && !strings.HasPrefix(frame.Function, "runtime.") {
			return frame.File, frame.Line
		}
		if frame.Function == "runtime.gopanic" {
			panicking = true
		}
		if !more {
			return "", 0
		}
	}
}

// callSite finds the first frame outside of this runtime, which is where the module called into it.
func callSite() (string, int) {
	pcs := make([]uintptr, 64)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])

	for {
		frame, more := frames.Next()
		if !isRuntimeFrame(frame.Function) {
			return frame.File, frame.Line
		}
		if !more {
			return "", 0
		}
	}
}

const modulePath = "github.com/yokecd/substreams/"

var runtimePackages = []string{
	"pkg/substreams",
	"pkg/substreams/store",
	"pkg/substreams/pb",
	"internal/abi",
	"internal/wasm",
}

func isRuntimeFrame(function string) bool {
	if strings.HasPrefix(function, "runtime.") {
		return true
	}
	pkg, ok := strings.CutPrefix(packagePath(function), modulePath)
	if !ok {
		return false
	}
	return slices.Contains(runtimePackages, pkg)
}

// packagePath strips the function and receiver from a fully qualified function name.
func packagePath(function string) string {
	slash := strings.LastIndexByte(function, '/')
	if dot := strings.IndexByte(function[slash+1:], '.'); dot >= 0 {
		return function[:slash+1+dot]
	}
	return function
}
