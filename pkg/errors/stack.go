package errors

import (
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 32

type stack []uintptr

// callers captures the stack of its caller's caller, so frame 0 of
// fullStack is the function that invoked callers.
func callers() stack {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2, pcs)
	return pcs[:n]
}

// fullStack renders one "function file:line" line per frame, runtime frames
// dropped.
func (s stack) fullStack() []string {
	frames := runtime.CallersFrames(s)
	var lines []string
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			lines = append(lines, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return lines
}

const pkgPrefix = "moff.io/moff-login/pkg/errors."

// origin picks the frame used as the rate limiting key: the first frame
// outside the reporting helpers, i.e. the code that produced the error.
func (s stack) origin() string {
	frames := runtime.CallersFrames(s)
	for {
		frame, more := frames.Next()
		name := strings.TrimPrefix(frame.Function, pkgPrefix)
		inHelpers := name != frame.Function && !strings.HasPrefix(name, "Test")
		if !inHelpers && !strings.HasPrefix(frame.Function, "runtime.") {
			return fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line)
		}
		if !more {
			return "unknown"
		}
	}
}
