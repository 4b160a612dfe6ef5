package tracer

import "apex-build/internal/inspector"

// snapshotChain walks from frame outward to the embedding boundary (the nil
// parent a CallContext chain naturally terminates at — see the package
// doc), producing one FrameSnapshot per activation.
func (t *Tracer) snapshotChain(frame *Frame) []FrameSnapshot {
	var out []FrameSnapshot
	for f := frame; f != nil; f = f.parent {
		out = append(out, FrameSnapshot{
			FrameID:      f.id,
			FunctionName: f.info.FunctionName,
			Location: Location{
				ScriptID:   f.info.ScriptID,
				LineNumber: internalToWire(f.line),
			},
			ScopeChain: []ScopeEntry{
				{Kind: "local", Object: t.encodeScope(f.scope.Locals())},
				{Kind: "global", Object: t.encodeScope(f.scope.Globals())},
			},
		})
	}
	return out
}

// encodeScope registers a scope's variable map under the backtrace group so
// it is released in one shot at resume. Scope objects are encoded with no
// preview, matching spec.md §4.1's preview=false for scope chains.
func (t *Tracer) encodeScope(vars map[string]any) inspector.RemoteObject {
	ro := t.registry.Encode(vars, backtraceGroup)
	ro.Preview = nil
	return ro
}

// findFrame locates the frame with the given id within the currently paused
// chain. Returns nil if nothing matches (LookupMiss) or nothing is paused.
func (t *Tracer) findFrame(frameID string) *Frame {
	t.mu.Lock()
	root := t.currentFrame
	t.mu.Unlock()
	for f := root; f != nil; f = f.parent {
		if f.id == frameID {
			return f
		}
	}
	return nil
}
