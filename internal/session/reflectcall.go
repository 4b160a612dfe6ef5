package session

import (
	"fmt"
	"reflect"
)

// invokeMethod calls target's zero-argument exported method named name and
// returns its first return value, the minimal shim Runtime.callFunctionOn's
// "remoteFunction" variant needs (spec.md §4.4).
func invokeMethod(target any, name string) (any, error) {
	v := reflect.ValueOf(target)
	m := v.MethodByName(name)
	if !m.IsValid() {
		return nil, fmt.Errorf("no such method %q", name)
	}
	if m.Type().NumIn() != 0 {
		return nil, fmt.Errorf("method %q requires arguments, unsupported", name)
	}
	results := m.Call(nil)
	if len(results) == 0 {
		return nil, nil
	}
	return results[0].Interface(), nil
}
