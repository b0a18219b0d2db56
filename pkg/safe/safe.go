package safe

import (
	"log/slog"
	"runtime/debug"
	"strings"
)

// Run executes fn, recovering and logging any panic so a crashing
// goroutine cannot take down the process.
func Run(fn func()) {
	RunWithComponent(fn, "safe.Run")
}

// RunWithComponent is Run with an explicit component name for the log entry.
func RunWithComponent(fn func(), component string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered",
				slog.Any("recover", r),
				slog.String("component", component),
				slog.String("stack", stackTrace(20)),
			)
		}
	}()

	fn()
}

// stackTrace returns the current stack, trimmed to maxFrames lines.
func stackTrace(maxFrames int) string {
	lines := strings.Split(string(debug.Stack()), "\n")

	var out []string
	for i, line := range lines {
		if i >= maxFrames {
			out = append(out, "... (truncated)")
			break
		}
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, " | ")
}
