package agent

import (
	"runtime"

	"apex-build/internal/broker"
	"apex-build/internal/inspector"
)

// Console mirrors the original's console module: four log-level helpers
// that capture the Go call stack, encode their arguments through the
// shared Inspector registry, and fan the message out via the Broker
// (spec.md §6 console helpers).
type Console struct {
	agent *Agent
}

// Console returns the Agent's console helper.
func (a *Agent) Console() Console { return Console{agent: a} }

// Debug logs at "debug" level.
func (c Console) Debug(args ...any) { c.log("debug", args) }

// Log logs at "log" level.
func (c Console) Log(args ...any) { c.log("log", args) }

// Warn logs at "warning" level (the wire level name, not "warn").
func (c Console) Warn(args ...any) { c.log("warning", args) }

// Error logs at "error" level.
func (c Console) Error(args ...any) { c.log("error", args) }

func (c Console) log(level string, args []any) {
	group := inspector.AnonGroup()
	params := make([]inspector.RemoteObject, 0, len(args))
	for _, a := range args {
		params = append(params, c.agent.Registry.Encode(a, group))
	}

	c.agent.Broker.ConsoleLog(broker.ConsoleMessage{
		Level:      level,
		Type:       "log",
		Parameters: params,
		StackTrace: captureStack(),
	})
}

// captureStack walks the Go call stack above log's own two frames (log and
// the exported Debug/Log/Warn/Error wrapper), mirroring
// console.py's sys._getframe(2) walk.
func captureStack() []broker.StackEntry {
	var stack []broker.StackEntry
	for skip := 3; ; skip++ {
		pc, file, line, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		name := "?"
		if fn != nil {
			name = fn.Name()
		}
		stack = append(stack, broker.StackEntry{
			FunctionName: name,
			URL:          file,
			LineNumber:   line,
			ColumnNumber: 0,
		})
		if len(stack) >= 32 {
			break
		}
	}
	return stack
}
