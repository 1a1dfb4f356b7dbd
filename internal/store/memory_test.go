package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Put(ctx, "bucket", "a.json", []byte("[]"), ContentTypeJSON))

	data, err := m.Get(ctx, "bucket", "a.json")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	ct, err := m.ContentType("bucket", "a.json")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, ct)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	body := []byte("abc")
	require.NoError(t, m.Put(ctx, "b", "k", body, ContentTypeCSV))
	body[0] = 'x'

	data, err := m.Get(ctx, "b", "k")
	require.NoError(t, err)
	data[1] = 'y'

	again, err := m.Get(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Get(ctx, "missing", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, "b", "k", nil, ContentTypeCSV))
	_, err = m.Size(ctx, "b", "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListPrefixOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, k := range []string{
		"findings/2024-05-01/part-b.json",
		"findings/2024-05-01/part-a.json",
		"findings/2024-05-02/part-a.json",
		"reports/findings_report-2024-05-01.csv",
		"findings/2024-05-01/part-c.json",
	} {
		require.NoError(t, m.Put(ctx, "bucket", k, []byte("x"), ContentTypeJSON))
	}

	keys, err := m.List(ctx, "bucket", "findings/2024-05-01/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"findings/2024-05-01/part-a.json",
		"findings/2024-05-01/part-b.json",
		"findings/2024-05-01/part-c.json",
	}, keys)
}

func TestMemoryStore_ListEmptyBucket(t *testing.T) {
	keys, err := NewMemoryStore().List(context.Background(), "nothing", "findings/")
	require.NoError(t, err)
	assert.NotNil(t, keys)
	assert.Empty(t, keys)
}

func TestMemoryStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Put(ctx, "b", "k", []byte("one"), ContentTypeCSV))
	require.NoError(t, m.Put(ctx, "b", "k", []byte("three"), ContentTypeCSV))

	size, err := m.Size(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	keys, err := m.List(ctx, "b", "")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestMemoryStore_PresignGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Put(ctx, "bucket", "reports/r.csv", []byte("x"), ContentTypeCSV))

	u, err := m.PresignGet(ctx, "bucket", "reports/r.csv", 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "memory://bucket/reports/r.csv?"))
	assert.Contains(t, u, "expires=2h0m0s")

	_, err = m.PresignGet(ctx, "bucket", "missing.csv", time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestURI(t *testing.T) {
	assert.Equal(t, "s3://bucket/findings/x.json", URI("bucket", "findings/x.json"))
}
