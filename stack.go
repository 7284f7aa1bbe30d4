package trcagent

import (
	"runtime"
	"strconv"
	"strings"
)

// Frame is a single call in a stack trace.
type Frame struct {
	Function string `json:"function"`
	FileLine string `json:"fileline"`
}

const maxStackDepth = 64

// captureStack returns the stack of the calling goroutine, skipping the given
// number of frames, as well as any frames from this package.
func captureStack(skip int) []Frame {
	var pc [maxStackDepth]uintptr
	n := runtime.Callers(skip+1, pc[:])
	if n <= 0 {
		return nil
	}

	var (
		frames = runtime.CallersFrames(pc[:n])
		stack  = make([]Frame, 0, n)
	)
	for {
		fr, more := frames.Next()
		if !ignoreStackFrameFunction(fr.Function) {
			stack = append(stack, Frame{
				Function: fr.Function,
				FileLine: fr.File + ":" + strconv.Itoa(fr.Line),
			})
		}
		if !more {
			break
		}
	}

	return stack
}

func ignoreStackFrameFunction(function string) bool {
	switch {
	case function == "":
		return true
	case function == "runtime.goexit":
		return true
	case strings.HasPrefix(function, "github.com/peterbourgon/trcagent."):
		return true
	default:
		return false
	}
}
