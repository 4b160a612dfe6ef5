package inspector

import (
	"fmt"
	"reflect"
	"strings"
)

// Encode classifies value and returns its wire RemoteObject, registering it
// in group if it is an aggregate or function. Primitives (bool, numbers,
// strings) are returned as inline literals and never touch the registry,
// matching the original's encode(): only values it calls save_properties on
// get an objectId.
func (r *Registry) Encode(value any, group string) RemoteObject {
	if value == nil {
		return RemoteObject{Type: TypeObject, Subtype: SubtypeNull, Description: "null"}
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Bool:
		return RemoteObject{Type: TypeBoolean, Value: v.Bool()}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return RemoteObject{Type: TypeNumber, Value: value}

	case reflect.String:
		s := v.String()
		return RemoteObject{Type: TypeString, Value: s, Description: truncate(s)}

	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return RemoteObject{Type: TypeObject, Subtype: SubtypeNull, Description: "null"}
		}
		return r.encodeObject(value, group)

	case reflect.Func:
		if v.IsNil() {
			return RemoteObject{Type: TypeObject, Subtype: SubtypeNull, Description: "null"}
		}
		return r.encodeFunction(value, group)

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return RemoteObject{Type: TypeObject, Subtype: SubtypeNull, Description: "null"}
		}
		return r.encodeCollection(value, group, v)

	case reflect.Map:
		if v.Kind() == reflect.Map && v.IsNil() {
			return RemoteObject{Type: TypeObject, Subtype: SubtypeNull, Description: "null"}
		}
		return r.encodeCollection(value, group, v)

	case reflect.Struct, reflect.Chan:
		return r.encodeObject(value, group)

	default:
		return RemoteObject{Type: TypeObject, Description: truncate(describeAddr(value))}
	}
}

func (r *Registry) encodeObject(value any, group string) RemoteObject {
	id := r.Save(value, group)
	className := typeName(value)
	return RemoteObject{
		Type:        TypeObject,
		ClassName:   className,
		Description: truncate(describeValue(value)),
		ObjectID:    id,
	}
}

func (r *Registry) encodeFunction(value any, group string) RemoteObject {
	id := r.Save(value, group)
	name := functionName(value)
	return RemoteObject{
		Type:        TypeFunction,
		Description: truncate("func " + name),
		ObjectID:    id,
	}
}

func (r *Registry) encodeCollection(value any, group string, v reflect.Value) RemoteObject {
	id := r.Save(value, group)
	length := v.Len()
	className := typeName(value)
	return RemoteObject{
		Type:        TypeObject,
		Subtype:     SubtypeArray,
		ClassName:   className,
		Description: truncate(fmt.Sprintf("%s [%d]", className, length)),
		ObjectID:    id,
		Preview:     r.collectionPreview(v),
	}
}

// collectionPreview summarizes a slice/array/map's first maxPreviewEntries
// entries, flagging Overflow if more remain.
func (r *Registry) collectionPreview(v reflect.Value) *Preview {
	p := &Preview{}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		n := v.Len()
		limit := n
		if limit > maxPreviewEntries {
			limit = maxPreviewEntries
			p.Overflow = true
		}
		for i := 0; i < limit; i++ {
			elem := v.Index(i).Interface()
			child := r.Encode(elem, AnonGroup())
			p.Properties = append(p.Properties, PropertyPreview{
				Name:  fmt.Sprintf("%d", i),
				Value: previewValue(child),
				Type:  child.Type,
			})
		}
	case reflect.Map:
		keys := v.MapKeys()
		limit := len(keys)
		if limit > maxPreviewEntries {
			limit = maxPreviewEntries
			p.Overflow = true
		}
		for i := 0; i < limit; i++ {
			k := keys[i]
			elem := v.MapIndex(k).Interface()
			child := r.Encode(elem, AnonGroup())
			p.Properties = append(p.Properties, PropertyPreview{
				Name:  fmt.Sprintf("%v", k.Interface()),
				Value: previewValue(child),
				Type:  child.Type,
			})
		}
	}
	return p
}

func previewValue(ro RemoteObject) string {
	if ro.ObjectID != "" {
		return ro.Description
	}
	return fmt.Sprintf("%v", ro.Value)
}

func typeName(value any) string {
	t := reflect.TypeOf(value)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.String()
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func describeValue(value any) string {
	if s, ok := value.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%+v", value)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxDescriptionRunes {
		return s
	}
	return string(r[:maxDescriptionRunes]) + ellipsis
}
