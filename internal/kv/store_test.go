package kv

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v, err := s.Get(ctx, "blocks", "1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Put(ctx, "blocks", "1", []byte("a")))
	require.NoError(t, s.Put(ctx, "files", "1", []byte("b")))

	v, err = s.Get(ctx, "blocks", "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	require.NoError(t, s.Delete(ctx, "blocks", "1"))
	require.NoError(t, s.Delete(ctx, "blocks", "1"))
	v, err = s.Get(ctx, "blocks", "1")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = s.Get(ctx, "files", "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), v, "namespaces are independent")
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := []byte("abc")
	require.NoError(t, s.Put(ctx, "n", "k", in))
	in[0] = 'X'

	out, err := s.Get(ctx, "n", "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
	out[1] = 'Y'

	again, _ := s.Get(ctx, "n", "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "n", "a", []byte{1}))
	require.NoError(t, s.Put(ctx, "n", "b", []byte{2}))
	require.NoError(t, s.Put(ctx, "other", "c", []byte{3}))

	m, err := s.List(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": {1}, "b": {2}}, m)

	m, err = s.List(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestMemoryStore_Update(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Update(ctx, "n", "k", func(old []byte) ([]byte, error) {
		assert.Nil(t, old)
		return []byte("1"), nil
	}))

	boom := errors.New("boom")
	err := s.Update(ctx, "n", "k", func(old []byte) ([]byte, error) {
		return []byte("2"), boom
	})
	assert.ErrorIs(t, err, boom)

	v, _ := s.Get(ctx, "n", "k")
	assert.Equal(t, "1", string(v), "failed update writes nothing")
}

func TestMemoryStore_UpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "n", "count", func(old []byte) ([]byte, error) {
				return append(old, 'x'), nil
			})
		}()
	}
	wg.Wait()

	v, _ := s.Get(ctx, "n", "count")
	assert.Len(t, v, 50)
}
