// Package inspector assigns stable identifiers to live values, serializes
// them into the protocol's RemoteObject shape, exposes their properties on
// demand, and reclaims identifiers on group release.
package inspector

// ObjectType is the wire-level RemoteObject.type tag.
type ObjectType string

const (
	TypeBoolean   ObjectType = "boolean"
	TypeNumber    ObjectType = "number"
	TypeString    ObjectType = "string"
	TypeFunction  ObjectType = "function"
	TypeUndefined ObjectType = "undefined"
	TypeObject    ObjectType = "object"
)

// Subtype further qualifies a TypeObject RemoteObject.
type Subtype string

const (
	SubtypeArray Subtype = "array"
	SubtypeNull  Subtype = "null"
)

// maxDescriptionRunes bounds RemoteObject.Description; longer values are
// truncated with an ellipsis marker per spec.
const maxDescriptionRunes = 50

const ellipsis = "…"

// RemoteObject is the wire encoding of a value: a literal Value for
// primitives, or an ObjectID referencing a live registry entry for
// aggregates and functions.
type RemoteObject struct {
	Type        ObjectType `json:"type"`
	Subtype     Subtype    `json:"subtype,omitempty"`
	ClassName   string     `json:"className,omitempty"`
	Description string     `json:"description,omitempty"`
	Value       any        `json:"value,omitempty"`
	ObjectID    string     `json:"objectId,omitempty"`
	Preview     *Preview   `json:"preview,omitempty"`
}

// Preview is a structured summary of an aggregate's first entries.
type Preview struct {
	Overflow   bool              `json:"overflow"`
	Properties []PropertyPreview `json:"properties"`
}

// PropertyPreview is one entry inside a Preview.
type PropertyPreview struct {
	Name  string     `json:"name"`
	Value string     `json:"value"`
	Type  ObjectType `json:"type"`
}

// maxPreviewEntries bounds how many entries a Preview carries before
// Preview.Overflow is set.
const maxPreviewEntries = 10

// PropertyDescriptor describes one property yielded by ExtractProperties.
type PropertyDescriptor struct {
	Name         string        `json:"name"`
	Value        *RemoteObject `json:"value,omitempty"`
	Get          *RemoteObject `json:"get,omitempty"`
	Set          *RemoteObject `json:"set,omitempty"`
	Writable     bool          `json:"writable"`
	Configurable bool          `json:"configurable"`
	Enumerable   bool          `json:"enumerable"`
	WasThrown    bool          `json:"wasThrown"`
	IsOwn        bool          `json:"isOwn"`
}

// FunctionDetails is the result of GetFunctionDetails.
type FunctionDetails struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Location    Location `json:"location"`
}

// Location identifies a position within a loaded script, 0-based on the wire.
type Location struct {
	ScriptID   string `json:"scriptId"`
	LineNumber int    `json:"lineNumber"`
}

// AttrHolder lets a value supply per-instance attributes distinct from its
// declared fields, mirroring the Python original's instance __dict__ tier of
// property resolution (spec.md §4.2, tier 2). Go structs have no dynamic
// per-instance storage by default; a type opts into that tier by
// implementing this interface.
type AttrHolder interface {
	InstanceAttrs() map[string]any
}
