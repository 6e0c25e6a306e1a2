package save

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tycoon/internal/db"
)

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TYCOON_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TYCOON_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.EnsureSchema(ctx, pool))

	store := NewPostgresStore(pool)
	_ = store.Delete(ctx, "pgtest")
	require.NoError(t, store.Put(ctx, Record{Slot: "pgtest", Version: 1, Tick: 7, Payload: []byte(`{"tick":7}`)}))
	require.NoError(t, store.Put(ctx, Record{Slot: "pgtest", Version: 1, Tick: 8, Payload: []byte(`{"tick":8}`)}))

	rec, err := store.Get(ctx, "pgtest")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), rec.Tick)
	assert.JSONEq(t, `{"tick":8}`, string(rec.Payload))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	require.NoError(t, store.Delete(ctx, "pgtest"))
	_, err = store.Get(ctx, "pgtest")
	assert.True(t, errors.Is(err, ErrSlotNotFound))
}
