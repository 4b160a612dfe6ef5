package inspector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name  string
	Count int
}

func TestSaveIsIdempotentForReferenceKinds(t *testing.T) {
	r := NewRegistry()
	w := &widget{Name: "gear", Count: 3}

	id1 := r.Save(w, "group-a")
	id2 := r.Save(w, "group-a")
	assert.Equal(t, id1, id2, "saving the same pointer twice must return the same object id")

	got, ok := r.Lookup(id1)
	require.True(t, ok)
	assert.Same(t, w, got)
}

func TestSaveMintsFreshIDForBareStructValues(t *testing.T) {
	r := NewRegistry()
	a := widget{Name: "gear", Count: 3}
	b := widget{Name: "gear", Count: 3}

	idA := r.Save(a, "g")
	idB := r.Save(b, "g")
	assert.NotEqual(t, idA, idB, "bare struct values have no address identity in Go")
}

func TestReleaseDropsGroupMembersOnly(t *testing.T) {
	r := NewRegistry()
	w1 := &widget{Name: "one"}
	w2 := &widget{Name: "two"}

	id1 := r.Save(w1, "group-a")
	id2 := r.Save(w2, "group-b")

	r.Release("group-a")

	_, ok1 := r.Lookup(id1)
	assert.False(t, ok1, "group-a member should be gone")

	_, ok2 := r.Lookup(id2)
	assert.True(t, ok2, "group-b member should survive releasing group-a")
}

func TestReleaseUnknownGroupIsNoOp(t *testing.T) {
	r := NewRegistry()
	w := &widget{Name: "solo"}
	id := r.Save(w, "group-a")

	assert.NotPanics(t, func() { r.Release("never-used") })

	_, ok := r.Lookup(id)
	assert.True(t, ok)
}

func TestReleaseTwiceIsSafe(t *testing.T) {
	r := NewRegistry()
	w := &widget{Name: "solo"}
	r.Save(w, "group-a")

	r.Release("group-a")
	assert.NotPanics(t, func() { r.Release("group-a") })
}

func TestReleaseDropsEntryEvenWithOtherGroupMembership(t *testing.T) {
	r := NewRegistry()
	w := &widget{Name: "shared"}
	id1 := r.Save(w, "group-a")
	id2 := r.Save(w, "group-b")
	require.Equal(t, id1, id2)

	r.Release("group-a")
	_, ok := r.Lookup(id1)
	assert.False(t, ok, "releasing any one of an entry's groups must drop it, full stop")
}
