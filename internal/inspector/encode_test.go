package inspector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePrimitivesNeverRegister(t *testing.T) {
	r := NewRegistry()

	ro := r.Encode(true, "g")
	assert.Equal(t, TypeBoolean, ro.Type)
	assert.Empty(t, ro.ObjectID)

	ro = r.Encode(42, "g")
	assert.Equal(t, TypeNumber, ro.Type)
	assert.Empty(t, ro.ObjectID)

	ro = r.Encode("hi", "g")
	assert.Equal(t, TypeString, ro.Type)
	assert.Equal(t, "hi", ro.Value)

	assert.Equal(t, 0, r.Count(), "primitives must never consume a registry slot")
}

func TestEncodeNilIsNullSubtype(t *testing.T) {
	r := NewRegistry()
	ro := r.Encode(nil, "g")
	assert.Equal(t, TypeObject, ro.Type)
	assert.Equal(t, SubtypeNull, ro.Subtype)

	var w *widget
	ro = r.Encode(w, "g")
	assert.Equal(t, SubtypeNull, ro.Subtype)
}

func TestEncodeSliceIsArraySubtypeAndRegisters(t *testing.T) {
	r := NewRegistry()
	xs := []int{1, 2, 3}
	ro := r.Encode(xs, "g")
	assert.Equal(t, TypeObject, ro.Type)
	assert.Equal(t, SubtypeArray, ro.Subtype)
	require.NotEmpty(t, ro.ObjectID)
	assert.Contains(t, ro.Description, "[3]")
}

func TestEncodeMapIsArraySubtype(t *testing.T) {
	r := NewRegistry()
	m := map[string]int{"a": 1}
	ro := r.Encode(m, "g")
	assert.Equal(t, TypeObject, ro.Type)
	assert.Equal(t, SubtypeArray, ro.Subtype, "ordered and unordered collections both report subtype array")
}

func TestEncodeFunctionType(t *testing.T) {
	r := NewRegistry()
	fn := func() {}
	ro := r.Encode(fn, "g")
	assert.Equal(t, TypeFunction, ro.Type)
	require.NotEmpty(t, ro.ObjectID)
}

func TestDescriptionTruncatesAtFiftyRunes(t *testing.T) {
	r := NewRegistry()
	s := strings.Repeat("x", 80)
	ro := r.Encode(s, "g")
	assert.True(t, len([]rune(ro.Description)) <= maxDescriptionRunes+1)
	assert.True(t, strings.HasSuffix(ro.Description, ellipsis))
}

func TestPreviewOverflowsPastTenEntries(t *testing.T) {
	r := NewRegistry()
	xs := make([]int, 15)
	for i := range xs {
		xs[i] = i
	}
	ro := r.Encode(xs, "g")
	require.NotNil(t, ro.Preview)
	assert.True(t, ro.Preview.Overflow)
	assert.Len(t, ro.Preview.Properties, maxPreviewEntries)
}

func TestPreviewNoOverflowUnderTen(t *testing.T) {
	r := NewRegistry()
	xs := []int{1, 2, 3}
	ro := r.Encode(xs, "g")
	require.NotNil(t, ro.Preview)
	assert.False(t, ro.Preview.Overflow)
	assert.Len(t, ro.Preview.Properties, 3)
}
