package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZSetAddRangeAscending(t *testing.T) {
	z, _ := newTestZSet(t)
	n, err := z.ZAdd([]byte("k"), []ScoredMember{
		{Member: []byte("a"), Score: -1.5},
		{Member: []byte("b"), Score: 0},
		{Member: []byte("c"), Score: 2.25},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	members, err := z.ZRange([]byte("k"), 0, -1)
	require.NoError(t, err)
	require.Len(t, members, 3)
	require.Equal(t, "a", string(members[0].Member))
	require.Equal(t, "b", string(members[1].Member))
	require.Equal(t, "c", string(members[2].Member))

	score, err := z.ZScore([]byte("k"), []byte("a"))
	require.NoError(t, err)
	require.Equal(t, -1.5, score)
}

func TestZSetAddUpdateScoreMovesRank(t *testing.T) {
	z, _ := newTestZSet(t)
	_, err := z.ZAdd([]byte("k"), []ScoredMember{
		{Member: []byte("a"), Score: 1},
		{Member: []byte("b"), Score: 2},
	})
	require.NoError(t, err)

	// re-adding "a" with a higher score must drop its old score-index
	// record, not leave a stale duplicate behind.
	n, err := z.ZAdd([]byte("k"), []ScoredMember{{Member: []byte("a"), Score: 5}})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	members, err := z.ZRange([]byte("k"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, []string{string(members[0].Member), string(members[1].Member)})

	rank, err := z.ZRank([]byte("k"), []byte("a"))
	require.NoError(t, err)
	require.EqualValues(t, 1, rank)
}

func TestZSetIncrby(t *testing.T) {
	z, _ := newTestZSet(t)
	score, err := z.ZIncrby([]byte("k"), []byte("m"), 3.5)
	require.NoError(t, err)
	require.Equal(t, 3.5, score)

	score, err = z.ZIncrby([]byte("k"), []byte("m"), -1)
	require.NoError(t, err)
	require.Equal(t, 2.5, score)
}

func TestZSetRem(t *testing.T) {
	z, _ := newTestZSet(t)
	_, err := z.ZAdd([]byte("k"), []ScoredMember{
		{Member: []byte("a"), Score: 1},
		{Member: []byte("b"), Score: 2},
	})
	require.NoError(t, err)

	n, err := z.ZRem([]byte("k"), [][]byte{[]byte("a")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	card, err := z.ZCard([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, 1, card)

	_, err = z.ZScore([]byte("k"), []byte("a"))
	require.Error(t, err)
}

func TestZSetUnionstoreSum(t *testing.T) {
	z, _ := newTestZSet(t)
	_, err := z.ZAdd([]byte("A"), []ScoredMember{{Member: []byte("x"), Score: 1}, {Member: []byte("y"), Score: 2}})
	require.NoError(t, err)
	_, err = z.ZAdd([]byte("B"), []ScoredMember{{Member: []byte("x"), Score: 3}})
	require.NoError(t, err)

	n, err := z.ZUnionstore([]byte("dest"), [][]byte{[]byte("A"), []byte("B")}, nil, ZAggSum)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	score, err := z.ZScore([]byte("dest"), []byte("x"))
	require.NoError(t, err)
	require.Equal(t, 4.0, score)
}

func TestZSetInterstoreMax(t *testing.T) {
	z, _ := newTestZSet(t)
	_, err := z.ZAdd([]byte("A"), []ScoredMember{{Member: []byte("x"), Score: 1}, {Member: []byte("y"), Score: 9}})
	require.NoError(t, err)
	_, err = z.ZAdd([]byte("B"), []ScoredMember{{Member: []byte("x"), Score: 5}})
	require.NoError(t, err)

	n, err := z.ZInterstore([]byte("dest"), [][]byte{[]byte("A"), []byte("B")}, nil, ZAggMax)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	score, err := z.ZScore([]byte("dest"), []byte("x"))
	require.NoError(t, err)
	require.Equal(t, 5.0, score)
}

func TestZSetRangebyscore(t *testing.T) {
	z, _ := newTestZSet(t)
	_, err := z.ZAdd([]byte("k"), []ScoredMember{
		{Member: []byte("a"), Score: 1},
		{Member: []byte("b"), Score: 2},
		{Member: []byte("c"), Score: 3},
	})
	require.NoError(t, err)

	members, err := z.ZRangebyscore([]byte("k"), 1, 2, false, true)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "b", string(members[0].Member))
}
