package inspector

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strconv"

	"apex-build/internal/errs"
)

// ExtractProperties resolves the properties of the object registered under
// id, in the order the original assigns priority: slot-listed (struct)
// fields first, then per-instance attributes (AttrHolder), then exported
// methods not shadowed by either. Collections (slice/array/map) yield
// index-or-key-named entries instead.
//
// Nested aggregate values (a struct field, map value, or slice element that
// is itself an object/function) are registered under the same group id
// belongs to, so a later releaseObjectGroup for that group reclaims the
// whole tree instead of leaking the nested entries under a throwaway group.
//
// An id with no live entry (never saved, or already released) is not an
// error: it yields an empty property list, matching getProperties'
// behavior once the owning object group is released (spec.md §8 scenario
// 6 — "Runtime.getProperties {objectId} -> empty list", not an RPC error).
func (r *Registry) ExtractProperties(id string) []PropertyDescriptor {
	value, ok := r.Lookup(id)
	if !ok {
		return nil
	}

	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	group := r.GroupOf(id)
	if group == "" {
		group = AnonGroup()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return r.collectionProperties(v, group)
	case reflect.Map:
		return r.mapProperties(v, group)
	case reflect.Struct:
		return r.structProperties(value, v, group)
	default:
		return nil
	}
}

func (r *Registry) collectionProperties(v reflect.Value, group string) []PropertyDescriptor {
	n := v.Len()
	props := make([]PropertyDescriptor, 0, n)
	for i := 0; i < n; i++ {
		child := r.Encode(v.Index(i).Interface(), group)
		props = append(props, PropertyDescriptor{
			Name:         strconv.Itoa(i),
			Value:        &child,
			Writable:     false,
			Configurable: false,
			Enumerable:   true,
			IsOwn:        true,
		})
	}
	return props
}

func (r *Registry) mapProperties(v reflect.Value, group string) []PropertyDescriptor {
	keys := v.MapKeys()
	names := make([]string, len(keys))
	index := make(map[string]reflect.Value, len(keys))
	for i, k := range keys {
		name := fmt.Sprintf("%v", k.Interface())
		names[i] = name
		index[name] = k
	}
	sort.Strings(names)

	props := make([]PropertyDescriptor, 0, len(names))
	for _, name := range names {
		elem := v.MapIndex(index[name]).Interface()
		child := r.Encode(elem, group)
		props = append(props, PropertyDescriptor{
			Name:         name,
			Value:        &child,
			Writable:     true,
			Configurable: true,
			Enumerable:   true,
			IsOwn:        true,
		})
	}
	return props
}

// structProperties resolves fields (tier 1: slot-listed), AttrHolder
// entries (tier 2: per-instance), then exported methods not shadowed by a
// field or attribute name (tier 3: type attributes).
func (r *Registry) structProperties(original any, v reflect.Value, group string) []PropertyDescriptor {
	seen := make(map[string]struct{})
	var props []PropertyDescriptor

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || isUnderscorePrefixed(f.Name) {
			continue
		}
		child := r.Encode(v.Field(i).Interface(), group)
		props = append(props, PropertyDescriptor{
			Name:         f.Name,
			Value:        &child,
			Writable:     v.Field(i).CanSet(),
			Configurable: true,
			Enumerable:   true,
			IsOwn:        true,
		})
		seen[f.Name] = struct{}{}
	}

	if holder, ok := original.(AttrHolder); ok {
		names := make([]string, 0, len(holder.InstanceAttrs()))
		attrs := holder.InstanceAttrs()
		for name := range attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, shadowed := seen[name]; shadowed || isUnderscorePrefixed(name) {
				continue
			}
			child := r.Encode(attrs[name], group)
			props = append(props, PropertyDescriptor{
				Name:         name,
				Value:        &child,
				Writable:     true,
				Configurable: true,
				Enumerable:   true,
				IsOwn:        true,
			})
			seen[name] = struct{}{}
		}
	}

	methodType := reflect.TypeOf(original)
	for i := 0; i < methodType.NumMethod(); i++ {
		m := methodType.Method(i)
		if _, shadowed := seen[m.Name]; shadowed || isUnderscorePrefixed(m.Name) {
			continue
		}
		boundMethod := reflect.ValueOf(original).Method(i).Interface()
		child := r.Encode(boundMethod, group)
		props = append(props, PropertyDescriptor{
			Name:         m.Name,
			Value:        &child,
			Writable:     false,
			Configurable: false,
			Enumerable:   false,
			IsOwn:        false,
		})
	}

	return props
}

func isUnderscorePrefixed(name string) bool {
	return len(name) > 0 && name[0] == '_'
}

// GetFunctionDetails resolves the name and source location of the function
// registered under id, using the Go runtime's symbol table in place of the
// original's introspectable function object (Go does not retain parameter
// identifier names at runtime, so unlike the Python original, description
// text is necessarily derived from the symbol name and file:line alone).
func (r *Registry) GetFunctionDetails(id, scriptID string) (FunctionDetails, error) {
	value, ok := r.Lookup(id)
	if !ok {
		return FunctionDetails{}, fmt.Errorf("%w: object id %q", errs.ErrLookupMiss, id)
	}
	return functionDetails(value, scriptID), nil
}

func functionDetails(value any, scriptID string) FunctionDetails {
	pc := reflect.ValueOf(value).Pointer()
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return FunctionDetails{Name: functionName(value), DisplayName: functionName(value)}
	}
	_, line := fn.FileLine(pc)
	name := shortFuncName(fn.Name())
	return FunctionDetails{
		Name:        name,
		DisplayName: name,
		Location:    Location{ScriptID: scriptID, LineNumber: toWireLine(line)},
	}
}

func functionName(value any) string {
	pc := reflect.ValueOf(value).Pointer()
	if fn := runtime.FuncForPC(pc); fn != nil {
		return shortFuncName(fn.Name())
	}
	return "anonymous"
}

// shortFuncName strips the package path and receiver qualification runtime
// symbol names carry, e.g. "apex-build/internal/tracer.(*Tracer).Attach"
// becomes "Attach".
func shortFuncName(full string) string {
	name := full
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}

// toWireLine converts Go's 1-based runtime line numbers to the protocol's
// 0-based wire convention (spec.md §6).
func toWireLine(line int) int {
	if line <= 0 {
		return 0
	}
	return line - 1
}
