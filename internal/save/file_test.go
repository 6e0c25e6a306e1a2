package save

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "saves"))
	require.NoError(t, err)

	payload := []byte(`{"tick":42,"market":{"cash":"100.5"}}`)
	require.NoError(t, store.Put(ctx, Record{Slot: "Slot-1", Version: 1, Tick: 42, Payload: payload}))

	rec, err := store.Get(ctx, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, "slot-1", rec.Slot)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, uint64(42), rec.Tick)
	assert.JSONEq(t, string(payload), string(rec.Payload))
	assert.False(t, rec.UpdatedAt.IsZero())

	matches, err := filepath.Glob(filepath.Join(store.dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files are renamed away")
}

func TestFileStoreOverwriteAndList(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, Record{Slot: "a", Version: 1, Tick: 1, Payload: []byte(`{}`), UpdatedAt: old}))
	require.NoError(t, store.Put(ctx, Record{Slot: "b", Version: 1, Tick: 2, Payload: []byte(`{}`), UpdatedAt: old.Add(time.Hour)}))
	require.NoError(t, store.Put(ctx, Record{Slot: "a", Version: 1, Tick: 9, Payload: []byte(`{"x":1}`), UpdatedAt: old.Add(2 * time.Hour)}))
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "notes.txt"), []byte("ignored"), 0o600))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Slot)
	assert.Equal(t, uint64(9), list[0].Tick)
	assert.Nil(t, list[0].Payload)
	assert.Equal(t, "b", list[1].Slot)
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrSlotNotFound))
	assert.True(t, errors.Is(store.Delete(ctx, "missing"), ErrSlotNotFound))
	assert.True(t, errors.Is(store.Put(ctx, Record{Slot: "../escape", Payload: []byte(`{}`)}), ErrInvalidSlot))
	assert.True(t, errors.Is(store.Put(ctx, Record{Slot: "ok"}), ErrEmptyPayload))
	assert.Error(t, store.Put(ctx, Record{Slot: "ok", Payload: []byte(`{broken`)}))

	require.NoError(t, store.Put(ctx, Record{Slot: "gone", Payload: []byte(`[]`)}))
	require.NoError(t, store.Delete(ctx, "gone"))
	_, err = store.Get(ctx, "gone")
	assert.True(t, errors.Is(err, ErrSlotNotFound))

	_, err = NewFileStore("  ")
	assert.Error(t, err)
}

func TestNormalizeSlot(t *testing.T) {
	for _, ok := range []string{"autosave", " Slot_2 ", "a"} {
		_, err := NormalizeSlot(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "-lead", "a/b", "white space"} {
		_, err := NormalizeSlot(bad)
		assert.True(t, errors.Is(err, ErrInvalidSlot), bad)
	}
}
