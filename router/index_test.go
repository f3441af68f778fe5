package router

import (
	"sync"
	"testing"

	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = solana.PublicKey{1}
	tokenB = solana.PublicKey{2}
	tokenC = solana.PublicKey{3}
	tokenD = solana.PublicKey{4}
)

func indexPool(id byte, mint0, mint1 solana.PublicKey) clmm.Pool {
	return clmm.Pool{ID: solana.PublicKey{0xf0, id}, TokenMint0: mint0, TokenMint1: mint1}
}

func TestPoolIndex(t *testing.T) {
	ab := indexPool(1, tokenA, tokenB)
	bc := indexPool(2, tokenB, tokenC)
	ac := indexPool(3, tokenA, tokenC)
	ab2 := indexPool(4, tokenA, tokenB)

	ix := NewPoolIndex()
	assert.Nil(t, ix.PoolsForToken(tokenA))

	ix.AddPools(ab, bc, ac, ab2)
	assert.Equal(t, []solana.PublicKey{ab.ID, ac.ID, ab2.ID}, ix.PoolsForToken(tokenA))
	assert.Equal(t, []solana.PublicKey{ab.ID, bc.ID, ab2.ID}, ix.PoolsForToken(tokenB))
	assert.Nil(t, ix.PoolsForToken(tokenD))

	t.Run("returned slices are copies", func(t *testing.T) {
		ids := ix.PoolsForToken(tokenC)
		ids[0] = solana.PublicKey{}
		assert.Equal(t, []solana.PublicKey{bc.ID, ac.ID}, ix.PoolsForToken(tokenC))
	})

	t.Run("paths", func(t *testing.T) {
		paths := ix.Paths(tokenA, tokenC, 2)
		require.Len(t, paths, 3)
		assert.Equal(t, []Hop{{Pool: ac.ID, TokenIn: tokenA}}, paths[0])
		assert.ElementsMatch(t, [][]Hop{
			{{Pool: ab.ID, TokenIn: tokenA}, {Pool: bc.ID, TokenIn: tokenB}},
			{{Pool: ab2.ID, TokenIn: tokenA}, {Pool: bc.ID, TokenIn: tokenB}},
		}, paths[1:])

		assert.Len(t, ix.Paths(tokenA, tokenC, 1), 1)
		assert.Empty(t, ix.Paths(tokenA, tokenA, 3))
		assert.Empty(t, ix.Paths(tokenA, tokenD, 3))

		// C to B: directly, or through A by either A/B pool
		assert.Len(t, ix.Paths(tokenC, tokenB, 3), 3)
	})

	t.Run("remove", func(t *testing.T) {
		ix.RemovePools(ac.ID, ab2.ID, solana.PublicKey{0xff})
		assert.Equal(t, []solana.PublicKey{ab.ID}, ix.PoolsForToken(tokenA))
		paths := ix.Paths(tokenA, tokenC, 3)
		require.Len(t, paths, 1)
		assert.Len(t, paths[0], 2)
	})
}

func TestPoolIndex_ConcurrentReads(t *testing.T) {
	ix := NewPoolIndex()
	ix.AddPools(indexPool(1, tokenA, tokenB))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					ix.AddPools(indexPool(byte(10+i), tokenB, tokenC))
					continue
				}
				// the A/B pool is never removed, so every snapshot holds it
				assert.Contains(t, ix.PoolsForToken(tokenA), solana.PublicKey{0xf0, 1})
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, ix.PoolsForToken(tokenC), 4)
}
