package index_test

import (
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/leengari/recordstore/internal/index"
	"github.com/leengari/recordstore/internal/schema"
	"github.com/leengari/recordstore/internal/storageio"
)

var emailField = schema.Field{ID: 3, Name: "email", Type: schema.String}

func TestAddFindRemove(t *testing.T) {
	idx := index.New(emailField)

	assert.Assert(t, idx.Add("a@example.com", 10))
	assert.Assert(t, idx.Add("a@example.com", 20))
	assert.Assert(t, idx.Add("b@example.com", 30))

	locs := idx.Find("a@example.com")
	assert.DeepEqual(t, locs, []uint64{10, 20})

	assert.Assert(t, idx.RemoveOne("a@example.com", 10))
	assert.DeepEqual(t, idx.Find("a@example.com"), []uint64{20})

	removed := idx.RemoveAll("b@example.com")
	assert.Equal(t, removed, 1)
	assert.Assert(t, idx.Find("b@example.com") == nil)
}

func TestAddRejectsDuplicatePair(t *testing.T) {
	idx := index.New(emailField)
	assert.Assert(t, idx.Add("x@example.com", 1))
	assert.Assert(t, !idx.Add("x@example.com", 1))
	assert.Equal(t, idx.Size(), 1)
}

func TestNewPanicsOnArrayField(t *testing.T) {
	defer func() {
		r := recover()
		assert.Assert(t, r != nil)
	}()
	index.New(schema.Field{ID: 1, Name: "tags", Type: schema.String, Array: true})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := index.New(emailField)
	idx.Add("a@example.com", 10)
	idx.Add("a@example.com", 20)
	idx.Add("b@example.com", 30)

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, idx.Save(buf))

	assert.NilError(t, buf.Seek(0))
	loaded := index.New(emailField)
	assert.NilError(t, loaded.Load(buf))

	assert.DeepEqual(t, loaded.Find("a@example.com"), []uint64{10, 20})
	assert.DeepEqual(t, loaded.Find("b@example.com"), []uint64{30})
}

func TestLoadRejectsCorruptHash(t *testing.T) {
	idx := index.New(emailField)
	idx.Add("a@example.com", 10)

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, idx.Save(buf))

	corrupted := append([]byte(nil), buf.Bytes()...)
	corrupted[len(corrupted)-1] ^= 0xFF

	loaded := index.New(emailField)
	err := loaded.Load(storageio.NewMemoryBlock(corrupted))
	assert.ErrorIs(t, err, index.ErrCorrupt)
}

func TestSetStoreLoadRoundTrip(t *testing.T) {
	idField := schema.Field{ID: 1, Name: "id", Type: schema.Uint64}
	set := index.NewSet(idField, emailField)

	assert.NilError(t, set.RegisterValueLocation(1, uint64(99), 100))
	assert.NilError(t, set.RegisterValueLocation(3, "a@example.com", 100))

	dir := t.TempDir()
	assert.NilError(t, set.Store(dir))

	loaded := index.NewSet(idField, emailField)
	assert.NilError(t, loaded.Load(dir))

	locs, err := loaded.Find(1, uint64(99))
	assert.NilError(t, err)
	assert.DeepEqual(t, locs, []uint64{100})

	locs, err = loaded.Find(3, "a@example.com")
	assert.NilError(t, err)
	assert.DeepEqual(t, locs, []uint64{100})
}

func TestSetFindUnknownFieldErrors(t *testing.T) {
	set := index.NewSet(emailField)
	_, err := set.Find(99, "x")
	assert.ErrorContains(t, err, "not indexed")
}

func TestFileNameIsFilesystemSafe(t *testing.T) {
	f := schema.Field{ID: 7, Name: "weird field!name", Type: schema.String}
	name := index.FileName(f)
	assert.Equal(t, filepath.Ext(name), ".index")
	assert.Assert(t, !containsAny(name, " !"))
}

func containsAny(s, chars string) bool {
	for _, c := range chars {
		for _, sc := range s {
			if sc == c {
				return true
			}
		}
	}
	return false
}
