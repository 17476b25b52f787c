package engine

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func sortedStrings(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	sort.Strings(out)
	return out
}

func TestSetAddRemCard(t *testing.T) {
	s, _ := newTestSet(t)
	n, err := s.SAdd([]byte("A"), [][]byte{[]byte("a"), []byte("b"), []byte("a")})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	card, err := s.SCard([]byte("A"))
	require.NoError(t, err)
	require.Equal(t, 2, card)

	n, err = s.SRem([]byte("A"), [][]byte{[]byte("a")})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSetIsmember(t *testing.T) {
	s, _ := newTestSet(t)
	_, err := s.SAdd([]byte("A"), [][]byte{[]byte("x")})
	require.NoError(t, err)

	ok, err := s.SIsmember([]byte("A"), []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SIsmember([]byte("A"), []byte("y"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetDiffWithExpiry(t *testing.T) {
	s, setClock := newTestSet(t)
	_, err := s.SAdd([]byte("A"), [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")})
	require.NoError(t, err)
	_, err = s.SAdd([]byte("B"), [][]byte{[]byte("c")})
	require.NoError(t, err)
	_, err = s.SAdd([]byte("C"), [][]byte{[]byte("a"), []byte("c"), []byte("e")})
	require.NoError(t, err)

	diff, err := s.SDiff([][]byte{[]byte("A"), []byte("B"), []byte("C")})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "d"}, sortedStrings(diff))

	require.NoError(t, s.Expire([]byte("C"), 1))
	setClock(1000 + 2)

	diff, err = s.SDiff([][]byte{[]byte("A"), []byte("B"), []byte("C")})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "d"}, sortedStrings(diff))
}

func TestSetMove(t *testing.T) {
	s, _ := newTestSet(t)
	_, err := s.SAdd([]byte("src"), [][]byte{[]byte("m")})
	require.NoError(t, err)

	ok, err := s.SMove([]byte("src"), []byte("dst"), []byte("m"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SIsmember([]byte("src"), []byte("m"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.SIsmember([]byte("dst"), []byte("m"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSetInterstore(t *testing.T) {
	s, _ := newTestSet(t)
	_, err := s.SAdd([]byte("A"), [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	_, err = s.SAdd([]byte("B"), [][]byte{[]byte("b"), []byte("c"), []byte("d")})
	require.NoError(t, err)

	n, err := s.SInterstore([]byte("dest"), [][]byte{[]byte("A"), []byte("B")})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	members, err := s.SMembers([]byte("dest"))
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, sortedStrings(members))
}
