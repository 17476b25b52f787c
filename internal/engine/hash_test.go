package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gholt/redistore/internal/kverrors"
)

func TestHashSetGetLen(t *testing.T) {
	h, _ := newTestHash(t)
	n, err := h.HSet([]byte("k"), []byte("f1"), []byte("v1"))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = h.HSet([]byte("k"), []byte("f1"), []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	v, err := h.HGet([]byte("k"), []byte("f1"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))

	l, err := h.HLen([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, 1, l)
}

func TestHashSetnx(t *testing.T) {
	h, _ := newTestHash(t)
	ok, err := h.HSetnx([]byte("k"), []byte("f"), []byte("v1"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.HSetnx([]byte("k"), []byte("f"), []byte("v2"))
	require.NoError(t, err)
	require.False(t, ok)

	v, err := h.HGet([]byte("k"), []byte("f"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
}

func TestHashDelAndGetAll(t *testing.T) {
	h, _ := newTestHash(t)
	require.NoError(t, h.HMSet([]byte("k"), [][]byte{[]byte("a"), []byte("b")}, [][]byte{[]byte("1"), []byte("2")}))

	fields, values, err := h.HGetall([]byte("k"))
	require.NoError(t, err)
	require.Len(t, fields, 2)
	require.Len(t, values, 2)

	n, err := h.HDel([]byte("k"), [][]byte{[]byte("a")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = h.HGet([]byte("k"), []byte("a"))
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.KindNotFound))
}

func TestHashIncrby(t *testing.T) {
	h, _ := newTestHash(t)
	n, err := h.HIncrby([]byte("k"), []byte("f"), 5)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
	n, err = h.HIncrby([]byte("k"), []byte("f"), -2)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestHashExpiryMakesFieldsInvisible(t *testing.T) {
	h, setClock := newTestHash(t)
	_, err := h.HSet([]byte("k"), []byte("f"), []byte("v"))
	require.NoError(t, err)
	require.NoError(t, h.Expire([]byte("k"), 5))

	setClock(1000 + 6)
	_, err = h.HGet([]byte("k"), []byte("f"))
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.KindNotFound))
}
