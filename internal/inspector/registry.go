package inspector

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
)

// entry is one live registry slot: the boxed value plus the set of group
// tags it was saved under. Release(group) drops the entry as soon as any
// one of those groups is released.
type entry struct {
	value  any
	groups map[string]struct{}
}

// Registry hands out stable object ids for values that need one (anything
// encoded as RemoteObject type "object" or "function") and answers property
// and function-detail lookups against them.
//
// Identity is reference identity: two calls to Save with pointers, maps,
// slices, channels, or funcs that share the same underlying allocation
// receive the same id. Go has no analogue of Python's id() for plain
// (non-pointer) struct or scalar values — those have no address stable
// across copies, so each Save of a bare struct value mints a fresh id. A
// caller that needs stable identity for a struct should hand the Registry a
// pointer to it, the same way the wire protocol itself only ever refers to
// "object"-typed values by id.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*entry
	identity map[uintptr]string
	nextID   int64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*entry),
		identity: make(map[uintptr]string),
	}
}

// Save registers value under group and returns its object id, reusing the
// existing id if value (by reference identity) is already registered.
// Non-reference-kind values always mint a new id.
func (r *Registry) Save(value any, group string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if addr, ok := referenceAddr(value); ok {
		if id, found := r.identity[addr]; found {
			r.byID[id].groups[group] = struct{}{}
			return id
		}
		id := r.mint()
		r.byID[id] = &entry{value: value, groups: map[string]struct{}{group: {}}}
		r.identity[addr] = id
		return id
	}

	id := r.mint()
	r.byID[id] = &entry{value: value, groups: map[string]struct{}{group: {}}}
	return id
}

func (r *Registry) mint() string {
	r.nextID++
	return strconv.FormatInt(r.nextID, 10)
}

// Lookup returns the value registered under id.
func (r *Registry) Lookup(id string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Release unconditionally drops every entry saved under group, regardless
// of whether that entry is also a member of another group. Releasing an
// unknown or already-empty group is a silent no-op, matching the original's
// save_properties memoization: a client is free to release a group twice or
// release one it never populated.
func (r *Registry) Release(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.byID {
		if _, ok := e.groups[group]; !ok {
			continue
		}
		delete(r.byID, id)
		for addr, mappedID := range r.identity {
			if mappedID == id {
				delete(r.identity, addr)
				break
			}
		}
	}
}

// GroupOf returns one of the groups id is currently a member of, so a caller
// resolving id's nested properties can register them under the same group
// the client will eventually release, rather than minting an orphaned one.
// Returns "" if id has no live entry.
func (r *Registry) GroupOf(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return ""
	}
	for g := range e.groups {
		return g
	}
	return ""
}

// Count reports how many entries are currently live, for metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// referenceAddr reports the identity address of value's underlying
// allocation, for the reference kinds that have one.
func referenceAddr(value any) (uintptr, bool) {
	if value == nil {
		return 0, false
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	case reflect.Slice:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	case reflect.Func:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	default:
		return 0, false
	}
}

// describeAddr renders a human-readable fallback description for values
// whose Stringer/GoString is absent, approximating the original's repr().
func describeAddr(value any) string {
	return fmt.Sprintf("%#v", value)
}

var anonGroupSeq int64

// AnonGroup mints a unique group tag for callers (e.g. a one-shot
// evaluateOnCallFrame) that need a Save destination but manage their own
// lifetime rather than joining a client's named object group.
func AnonGroup() string {
	n := atomic.AddInt64(&anonGroupSeq, 1)
	return fmt.Sprintf("anon-%d", n)
}
