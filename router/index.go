package router

import (
	"bytes"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/defistate/defistate-clmm/engine"
	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/gagliardetto/solana-go"
)

type pair struct {
	mint0, mint1 solana.PublicKey
}

// indexView is an immutable snapshot of the index.
type indexView struct {
	pairs   map[solana.PublicKey]pair
	byToken map[solana.PublicKey][]solana.PublicKey
}

// PoolIndex maps tokens to the pools that trade them.
// Writes take a mutex and rebuild a snapshot; reads load the snapshot without locking.
type PoolIndex struct {
	mu    sync.Mutex
	pairs map[solana.PublicKey]pair
	view  atomic.Pointer[indexView]
}

func NewPoolIndex() *PoolIndex {
	ix := &PoolIndex{pairs: make(map[solana.PublicKey]pair)}
	ix.updateView()
	return ix
}

// updateView MUST be called with ix.mu held.
func (ix *PoolIndex) updateView() {
	v := &indexView{
		pairs:   make(map[solana.PublicKey]pair, len(ix.pairs)),
		byToken: make(map[solana.PublicKey][]solana.PublicKey),
	}
	for id, p := range ix.pairs {
		v.pairs[id] = p
		v.byToken[p.mint0] = append(v.byToken[p.mint0], id)
		v.byToken[p.mint1] = append(v.byToken[p.mint1], id)
	}
	for _, ids := range v.byToken {
		slices.SortFunc(ids, compareKeys)
	}
	ix.view.Store(v)
}

// AddPools indexes pools by their two mints.
func (ix *PoolIndex) AddPools(pools ...clmm.Pool) {
	if len(pools) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, p := range pools {
		ix.pairs[p.ID] = pair{mint0: p.TokenMint0, mint1: p.TokenMint1}
	}
	ix.updateView()
}

// RemovePools drops pools from the index; unknown ids are ignored.
func (ix *PoolIndex) RemovePools(ids ...solana.PublicKey) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ids {
		delete(ix.pairs, id)
	}
	ix.updateView()
}

// Sync indexes every pool held by e.
func (ix *PoolIndex) Sync(e *engine.Engine) error {
	ids := e.Pools()
	pools := make([]clmm.Pool, 0, len(ids))
	for _, id := range ids {
		p, err := e.Pool(id)
		if err != nil {
			return err
		}
		pools = append(pools, p)
	}
	ix.AddPools(pools...)
	return nil
}

// PoolsForToken returns the pools trading mint, sorted. The slice is a copy.
func (ix *PoolIndex) PoolsForToken(mint solana.PublicKey) []solana.PublicKey {
	ids := ix.view.Load().byToken[mint]
	if len(ids) == 0 {
		return nil
	}
	return slices.Clone(ids)
}

// Paths returns every route from tokenIn to tokenOut of at most maxHops hops that visits no token
// twice, shortest first.
func (ix *PoolIndex) Paths(tokenIn, tokenOut solana.PublicKey, maxHops int) [][]Hop {
	v := ix.view.Load()
	var (
		paths   [][]Hop
		current []Hop
		visited = map[solana.PublicKey]bool{tokenIn: true}
	)

	var walk func(token solana.PublicKey)
	walk = func(token solana.PublicKey) {
		if len(current) == maxHops {
			return
		}
		for _, id := range v.byToken[token] {
			p := v.pairs[id]
			next := p.mint1
			if next == token {
				next = p.mint0
			}
			if visited[next] {
				continue
			}
			current = append(current, Hop{Pool: id, TokenIn: token})
			if next == tokenOut {
				paths = append(paths, slices.Clone(current))
			} else {
				visited[next] = true
				walk(next)
				delete(visited, next)
			}
			current = current[:len(current)-1]
		}
	}
	if tokenIn != tokenOut {
		walk(tokenIn)
	}

	slices.SortStableFunc(paths, func(a, b []Hop) int { return len(a) - len(b) })
	return paths
}

func compareKeys(a, b solana.PublicKey) int {
	return bytes.Compare(a[:], b[:])
}
