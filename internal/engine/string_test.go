package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gholt/redistore/internal/kverrors"
)

func TestStringSetGet(t *testing.T) {
	s, _ := newTestString(t)
	require.NoError(t, s.Set([]byte("k"), []byte("hello world")))
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(v))
}

func TestStringGetAbsentIsNotFound(t *testing.T) {
	s, _ := newTestString(t)
	_, err := s.Get([]byte("missing"))
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.KindNotFound))
}

func TestStringSetrangeAndDecrbyInvalidArgument(t *testing.T) {
	s, _ := newTestString(t)
	require.NoError(t, s.Set([]byte("K"), []byte("hello world")))
	n, err := s.Setrange([]byte("K"), 6, []byte("REDIS"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	v, err := s.Get([]byte("K"))
	require.NoError(t, err)
	require.Equal(t, "hello REDIS", string(v))

	_, err = s.Decrby([]byte("K"), 1)
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.KindInvalidArgument))
}

func TestStringIncrbyOnAbsentKey(t *testing.T) {
	s, _ := newTestString(t)
	n, err := s.Incrby([]byte("N"), 5)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
	v, err := s.Get([]byte("N"))
	require.NoError(t, err)
	require.Equal(t, "5", string(v))
}

func TestStringSetExAndExpiry(t *testing.T) {
	s, setClock := newTestString(t)
	require.NoError(t, s.SetEx([]byte("k"), []byte("v"), 10))
	ttl, err := s.TTL([]byte("k"))
	require.NoError(t, err)
	require.EqualValues(t, 10, ttl)

	setClock(1000 + 11)
	_, err = s.Get([]byte("k"))
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.KindNotFound))
}

func TestStringSetExRejectsNonPositiveTTL(t *testing.T) {
	s, _ := newTestString(t)
	err := s.SetEx([]byte("k"), []byte("v"), 0)
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.KindInvalidArgument))
}

func TestStringAppendAndStrlen(t *testing.T) {
	s, _ := newTestString(t)
	n, err := s.Append([]byte("k"), []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	n, err = s.Append([]byte("k"), []byte(" world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	l, err := s.Strlen([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, 11, l)
}

func TestStringMSetAndMSetnx(t *testing.T) {
	s, _ := newTestString(t)
	require.NoError(t, s.MSet(map[string][]byte{"a": []byte("1"), "b": []byte("2")}))
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	ok, err := s.MSetnx(map[string][]byte{"a": []byte("x"), "c": []byte("3")})
	require.NoError(t, err)
	require.False(t, ok, "MSetnx must fail entirely when any key already exists")
	_, err = s.Get([]byte("c"))
	require.Error(t, err)

	ok, err = s.MSetnx(map[string][]byte{"c": []byte("3"), "d": []byte("4")})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStringBitOpAnd(t *testing.T) {
	s, _ := newTestString(t)
	require.NoError(t, s.Set([]byte("a"), []byte{0xff, 0x0f}))
	require.NoError(t, s.Set([]byte("b"), []byte{0x0f, 0xff}))
	n, err := s.BitOp(BitOpAnd, []byte("dest"), []byte("a"), []byte("b"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	v, err := s.Get([]byte("dest"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x0f, 0x0f}, v)
}

func TestStringDeleteReportsPriorExistence(t *testing.T) {
	s, _ := newTestString(t)
	ok, err := s.Delete([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set([]byte("k"), []byte("v")))
	ok, err = s.Delete([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
}
