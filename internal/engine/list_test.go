package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func toStrings(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}

func TestListPushRangeLen(t *testing.T) {
	l, _ := newTestList(t)
	n, err := l.RPush([]byte("k"), [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	length, err := l.LLen([]byte("k"))
	require.NoError(t, err)
	require.EqualValues(t, 3, length)

	vals, err := l.LRange([]byte("k"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, toStrings(vals))
}

func TestListLPushOrder(t *testing.T) {
	l, _ := newTestList(t)
	_, err := l.LPush([]byte("k"), [][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)

	vals, err := l.LRange([]byte("k"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, toStrings(vals))
}

func TestListNegativeRange(t *testing.T) {
	l, _ := newTestList(t)
	_, err := l.RPush([]byte("k"), [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")})
	require.NoError(t, err)

	vals, err := l.LRange([]byte("k"), -2, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, toStrings(vals))
}

func TestListPopBothEnds(t *testing.T) {
	l, _ := newTestList(t)
	_, err := l.RPush([]byte("k"), [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)

	v, err := l.LPop([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "a", string(v))

	v, err = l.RPop([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "c", string(v))

	length, err := l.LLen([]byte("k"))
	require.NoError(t, err)
	require.EqualValues(t, 1, length)
}

func TestListIndexAndSet(t *testing.T) {
	l, _ := newTestList(t)
	_, err := l.RPush([]byte("k"), [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)

	v, err := l.LIndex([]byte("k"), 1)
	require.NoError(t, err)
	require.Equal(t, "b", string(v))

	require.NoError(t, l.LSet([]byte("k"), 1, []byte("B")))
	v, err = l.LIndex([]byte("k"), 1)
	require.NoError(t, err)
	require.Equal(t, "B", string(v))
}

func TestListInsertBeforeAfter(t *testing.T) {
	l, _ := newTestList(t)
	_, err := l.RPush([]byte("k"), [][]byte{[]byte("a"), []byte("c")})
	require.NoError(t, err)

	n, err := l.LInsert([]byte("k"), true, []byte("c"), []byte("b"))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	vals, err := l.LRange([]byte("k"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, toStrings(vals))
}

func TestListRemCounts(t *testing.T) {
	l, _ := newTestList(t)
	_, err := l.RPush([]byte("k"), [][]byte{[]byte("a"), []byte("b"), []byte("a"), []byte("a")})
	require.NoError(t, err)

	n, err := l.LRem([]byte("k"), 2, []byte("a"))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	vals, err := l.LRange([]byte("k"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, toStrings(vals))
}

func TestListTrim(t *testing.T) {
	l, _ := newTestList(t)
	_, err := l.RPush([]byte("k"), [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")})
	require.NoError(t, err)

	require.NoError(t, l.LTrim([]byte("k"), 1, 2))

	vals, err := l.LRange([]byte("k"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, toStrings(vals))
}
