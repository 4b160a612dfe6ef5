// Package session implements the per-client protocol dispatcher: the
// JSON-RPC method table for the Console, Debugger, Profiler, Runtime, and
// Page domains (spec.md §4.4).
package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"apex-build/internal/errs"
)

// Request is one inbound JSON-RPC call.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the single reply owed to each Request.
type Response struct {
	ID     int64     `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// Event is an unsolicited {method, params} push.
type Event struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// RPCError is the wire shape of a protocol-level failure.
type RPCError struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func errorf(format string, args ...any) *RPCError {
	return &RPCError{Message: fmt.Sprintf(format, args...), Data: map[string]any{}}
}

// wrapErr translates a boundary error into the wire RPCError shape, tagging
// it with the spec.md §7 taxonomy code errors.Is recognizes against
// internal/errs's sentinels, so a client can distinguish e.g. a
// TerminationGuard refusal from a hard ProtocolError instead of pattern
// matching the message text.
func wrapErr(err error) *RPCError {
	code := "Protocol"
	switch {
	case errors.Is(err, errs.ErrLookupMiss):
		code = "LookupMiss"
	case errors.Is(err, errs.ErrTerminationGuard):
		code = "TerminationGuard"
	case errors.Is(err, errs.ErrEvaluation):
		code = "Evaluation"
	case errors.Is(err, errs.ErrNotAttached):
		code = "NotAttached"
	case errors.Is(err, errs.ErrUnknownMethod):
		code = "UnknownMethod"
	case errors.Is(err, errs.ErrProtocol):
		code = "Protocol"
	}
	return &RPCError{Message: err.Error(), Data: map[string]any{"code": code}}
}

type setBreakpointByURLParams struct {
	URL        string `json:"url"`
	LineNumber int    `json:"lineNumber"`
}

type removeBreakpointParams struct {
	BreakpointID string `json:"breakpointId"`
}

type setBreakpointsActiveParams struct {
	Active bool `json:"active"`
}

type locationParam struct {
	ScriptID   string `json:"scriptId"`
	LineNumber int    `json:"lineNumber"`
}

type continueToLocationParams struct {
	Location locationParam `json:"location"`
}

type evaluateOnCallFrameParams struct {
	CallFrameID string `json:"callFrameId"`
	Expression  string `json:"expression"`
}

type getFunctionDetailsParams struct {
	FunctionID string `json:"functionId"`
}

type setOverlayMessageParams struct {
	Message string `json:"message"`
}

type getScriptSourceParams struct {
	ScriptID string `json:"scriptId"`
}

type startProfileParams struct {
	Title string `json:"title"`
}

type getCPUProfileParams struct {
	UID string `json:"uid"`
}

type getPropertiesParams struct {
	ObjectID               string `json:"objectId"`
	AccessorPropertiesOnly bool   `json:"accessorPropertiesOnly"`
}

type releaseObjectGroupParams struct {
	ObjectGroup string `json:"objectGroup"`
}

type callArgument struct {
	Value any `json:"value"`
}

type callFunctionOnParams struct {
	ObjectID            string         `json:"objectId"`
	FunctionDeclaration string         `json:"functionDeclaration"`
	Arguments           []callArgument `json:"arguments"`
}
