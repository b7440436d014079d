// Package sampling produces node flows: lazy, finite-per-epoch sequences of
// sampled multi-hop neighborhoods over a graph partition.
package sampling

import (
	"context"
	"math/rand"
	"sync"

	"github.com/Baizx98/PaGraph/pkg/graph"
)

type Config struct {
	// BatchSize is the number of seed nodes per flow.
	BatchSize int

	// NumHops is the number of sampled aggregation layers per flow.
	NumHops int

	// NumNeighbors bounds how many in-neighbors are sampled per node per
	// hop. Nodes with degree <= NumNeighbors keep all their neighbors.
	NumNeighbors int

	// Workers is the size of the sampling worker pool. Defaults to 8.
	Workers int

	// Prefetch is the number of flows built ahead of the consumer.
	// Defaults to 2*Workers.
	Prefetch int
}

// NeighborSampler cuts a shuffled seed set into batches and expands each
// batch into a NodeFlow. One Epoch call yields exactly
// ceil(len(seeds)/BatchSize) flows and then closes; call Epoch again for the
// next epoch (the shuffle order advances deterministically from the seed
// passed to New).
type NeighborSampler struct {
	part  *graph.Partition
	seeds []int64
	cfg   Config

	seed  int64
	epoch int64
}

func New(part *graph.Partition, seeds []int64, seed int64, cfg Config) *NeighborSampler {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 2 * cfg.Workers
	}
	return &NeighborSampler{part: part, seeds: seeds, cfg: cfg, seed: seed}
}

// FlowsPerEpoch is the number of node flows one epoch yields.
func (s *NeighborSampler) FlowsPerEpoch() int {
	if len(s.seeds) == 0 {
		return 0
	}
	return (len(s.seeds) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
}

// Epoch starts one pass over the (re-shuffled) seed set and returns the flow
// sequence. Flows arrive in batch order; sampling runs on a fixed worker
// pool and is overlapped with the consumer via the prefetch buffer.
//
// The channel closes after the last flow. Cancelling ctx abandons the epoch.
func (s *NeighborSampler) Epoch(ctx context.Context) <-chan *NodeFlow {
	epoch := s.epoch
	s.epoch += 1

	shuffled := make([]int64, len(s.seeds))
	copy(shuffled, s.seeds)
	shuffleRng := rand.New(rand.NewSource(s.seed + epoch))
	shuffleRng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	numBatches := s.FlowsPerEpoch()

	type numbered struct {
		nth  int
		flow *NodeFlow
	}

	jobs := make(chan int)
	built := make(chan numbered, s.cfg.Workers)
	out := make(chan *NodeFlow, s.cfg.Prefetch)

	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for nth := range jobs {
				lo := nth * s.cfg.BatchSize
				hi := lo + s.cfg.BatchSize
				if len(shuffled) < hi {
					hi = len(shuffled)
				}
				// Each batch owns an rng derived from (seed, epoch, batch),
				// so the flow content does not depend on worker scheduling.
				rng := rand.New(rand.NewSource(s.seed + epoch*1_000_003 + int64(nth)*31))
				flow := s.expand(shuffled[lo:hi], rng)
				select {
				case built <- numbered{nth: nth, flow: flow}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for nth := 0; nth < numBatches; nth++ {
			select {
			case jobs <- nth:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(built)
	}()

	// reorder: workers finish out of order, the consumer sees batch order.
	go func() {
		defer close(out)
		pending := map[int]*NodeFlow{}
		next := 0
		for b := range built {
			pending[b.nth] = b.flow
			for {
				flow, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case out <- flow:
				case <-ctx.Done():
					return
				}
				next += 1
			}
		}
	}()

	return out
}

// expand builds the flow for one seed batch, sampling top-down from the
// seeds and deduplicating nodes within each layer.
func (s *NeighborSampler) expand(seedBatch []int64, rng *rand.Rand) *NodeFlow {
	numLayers := s.cfg.NumHops + 1
	layers := make([][]int64, numLayers)
	neigh := make([][][]int, s.cfg.NumHops)

	top := make([]int64, len(seedBatch))
	copy(top, seedBatch)
	layers[numLayers-1] = top

	for h := s.cfg.NumHops - 1; 0 <= h; h-- {
		dst := layers[h+1]
		var lower []int64
		pos := map[int64]int{}
		place := func(v int64) int {
			p, ok := pos[v]
			if !ok {
				p = len(lower)
				pos[v] = p
				lower = append(lower, v)
			}
			return p
		}

		links := make([][]int, len(dst))
		for j, v := range dst {
			sampled := s.sampleNeighbors(v, rng)
			ps := make([]int, 0, len(sampled)+1)
			ps = append(ps, place(v)) // self
			for _, u := range sampled {
				ps = append(ps, place(u))
			}
			links[j] = ps
		}

		layers[h] = lower
		neigh[h] = links
	}

	return &NodeFlow{Layers: layers, Neigh: neigh}
}

// sampleNeighbors picks at most NumNeighbors in-neighbors of v without
// replacement.
func (s *NeighborSampler) sampleNeighbors(v int64, rng *rand.Rand) []int64 {
	all := s.part.InNeighbors(v)
	if len(all) <= s.cfg.NumNeighbors {
		return all
	}
	picked := rng.Perm(len(all))[:s.cfg.NumNeighbors]
	sampled := make([]int64, 0, s.cfg.NumNeighbors)
	for _, nth := range picked {
		sampled = append(sampled, all[nth])
	}
	return sampled
}
