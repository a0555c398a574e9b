package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTable_PutGet(t *testing.T) {
	m := NewMemTable()

	_, ok := m.Get("a")
	require.False(t, ok)

	m.Put("a", "1")
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	m.Put("a", "2")
	v, ok = m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestMemTable_DeleteWritesTombstone(t *testing.T) {
	m := NewMemTable()
	m.Put("a", "1")
	m.Delete("a")

	v, ok := m.Get("a")
	require.True(t, ok, "deleted key must still be present as a tombstone, not absent")
	assert.Equal(t, TOMBSTONE, v)
}

func TestMemTable_Len(t *testing.T) {
	m := NewMemTable()
	assert.Equal(t, 0, m.Len())

	m.Put("a", "1")
	m.Put("b", "2")
	assert.Equal(t, 2, m.Len())

	m.Delete("a")
	assert.Equal(t, 2, m.Len(), "a tombstone still counts toward length")
}

func TestMemTable_SortedEntries(t *testing.T) {
	m := NewMemTable()
	m.Put("charlie", "3")
	m.Put("alpha", "1")
	m.Put("bravo", "2")

	entries := m.SortedEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "alpha", entries[0].key)
	assert.Equal(t, "bravo", entries[1].key)
	assert.Equal(t, "charlie", entries[2].key)
}

func TestSortEntries(t *testing.T) {
	entries := []kvEntry{{key: "z", value: "1"}, {key: "a", value: "2"}, {key: "m", value: "3"}}
	sortEntries(entries)
	assert.Equal(t, "a", entries[0].key)
	assert.Equal(t, "m", entries[1].key)
	assert.Equal(t, "z", entries[2].key)
}
