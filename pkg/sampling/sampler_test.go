package sampling_test

import (
	"context"
	"testing"

	"github.com/Baizx98/PaGraph/pkg/cmp"
	"github.com/Baizx98/PaGraph/pkg/graph"
	"github.com/Baizx98/PaGraph/pkg/sampling"
)

// ring of 10 nodes: node v has in-neighbors v-1, v-2 (mod 10).
func ringPartition(t *testing.T) *graph.Partition {
	t.Helper()
	const n = 10
	indptr := make([]int64, n+1)
	indices := make([]int64, 0, 2*n)
	for v := int64(0); v < n; v++ {
		indices = append(indices, ((v-1)+n)%n, ((v-2)+n)%n)
		indptr[v+1] = indptr[v] + 2
	}
	t2fid := make([]int64, n)
	for v := range t2fid {
		t2fid[v] = int64(v)
	}
	part := &graph.Partition{
		Rank:      0,
		Indptr:    indptr,
		Indices:   indices,
		T2FID:     t2fid,
		TrainNIDs: []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		Labels:    make([]int64, n),
	}
	if err := part.Validate(); err != nil {
		t.Fatal(err)
	}
	return part
}

func collect(t *testing.T, flows <-chan *sampling.NodeFlow) []*sampling.NodeFlow {
	t.Helper()
	var got []*sampling.NodeFlow
	for flow := range flows {
		got = append(got, flow)
	}
	return got
}

func TestNeighborSampler(t *testing.T) {
	ctx := context.Background()
	part := ringPartition(t)

	t.Run("one epoch yields ceil(len(seeds)/batchSize) flows", func(t *testing.T) {
		s := sampling.New(part, part.TrainNIDs, 0, sampling.Config{
			BatchSize: 3, NumHops: 2, NumNeighbors: 2,
		})

		if s.FlowsPerEpoch() != 4 { // ceil(10/3)
			t.Fatalf("FlowsPerEpoch: got %d, want 4", s.FlowsPerEpoch())
		}
		flows := collect(t, s.Epoch(ctx))
		if len(flows) != 4 {
			t.Errorf("epoch yielded %d flows, want 4", len(flows))
		}
	})

	t.Run("every seed appears exactly once per epoch, shuffled", func(t *testing.T) {
		s := sampling.New(part, part.TrainNIDs, 7, sampling.Config{
			BatchSize: 4, NumHops: 1, NumNeighbors: 1,
		})

		var seen []int64
		for _, flow := range collect(t, s.Epoch(ctx)) {
			seen = append(seen, flow.Seeds()...)
		}
		if !cmp.SliceEqUnordered(seen, part.TrainNIDs) {
			t.Errorf("seeds per epoch: got %v, want a permutation of %v", seen, part.TrainNIDs)
		}
	})

	t.Run("flows have NumHops+1 layers and the seed batch on top", func(t *testing.T) {
		s := sampling.New(part, part.TrainNIDs, 1, sampling.Config{
			BatchSize: 5, NumHops: 3, NumNeighbors: 2,
		})

		for _, flow := range collect(t, s.Epoch(ctx)) {
			if flow.NumHops() != 3 {
				t.Errorf("flow has %d hops, want 3", flow.NumHops())
			}
			if len(flow.Seeds()) == 0 || 5 < len(flow.Seeds()) {
				t.Errorf("seed batch sized %d, want 1..5", len(flow.Seeds()))
			}
		}
	})

	t.Run("each destination aggregates itself and at most NumNeighbors more", func(t *testing.T) {
		const numNeighbors = 1
		s := sampling.New(part, part.TrainNIDs, 2, sampling.Config{
			BatchSize: 5, NumHops: 2, NumNeighbors: numNeighbors,
		})

		for _, flow := range collect(t, s.Epoch(ctx)) {
			for h := 0; h < flow.NumHops(); h++ {
				for j, ps := range flow.Neigh[h] {
					if len(ps) > numNeighbors+1 {
						t.Errorf("hop %d dst %d has %d sources, want <= %d",
							h, j, len(ps), numNeighbors+1)
					}
					dst := flow.Layers[h+1][j]
					if flow.Layers[h][ps[0]] != dst {
						t.Errorf("hop %d dst %d: first source should be the node itself", h, j)
					}
				}
			}
		}
	})

	t.Run("two samplers with the same seed produce the same flow sequence", func(t *testing.T) {
		cfg := sampling.Config{BatchSize: 3, NumHops: 2, NumNeighbors: 1}
		a := sampling.New(part, part.TrainNIDs, 42, cfg)
		b := sampling.New(part, part.TrainNIDs, 42, cfg)

		flowsA := collect(t, a.Epoch(ctx))
		flowsB := collect(t, b.Epoch(ctx))

		if len(flowsA) != len(flowsB) {
			t.Fatalf("flow counts differ: %d vs %d", len(flowsA), len(flowsB))
		}
		for nth := range flowsA {
			for h := range flowsA[nth].Layers {
				if !cmp.SliceEq(flowsA[nth].Layers[h], flowsB[nth].Layers[h]) {
					t.Errorf("flow %d layer %d differs: %v vs %v",
						nth, h, flowsA[nth].Layers[h], flowsB[nth].Layers[h])
				}
			}
		}
	})

	t.Run("epochs reshuffle but remain restartable", func(t *testing.T) {
		cfg := sampling.Config{BatchSize: 10, NumHops: 1, NumNeighbors: 1}
		s := sampling.New(part, part.TrainNIDs, 3, cfg)

		first := collect(t, s.Epoch(ctx))
		second := collect(t, s.Epoch(ctx))

		if len(first) != 1 || len(second) != 1 {
			t.Fatalf("expected 1 flow per epoch, got %d and %d", len(first), len(second))
		}
		if !cmp.SliceEqUnordered(first[0].Seeds(), second[0].Seeds()) {
			t.Error("an epoch must cover the full seed set")
		}
		if cmp.SliceEq(first[0].Seeds(), second[0].Seeds()) {
			t.Log("epochs produced identical order; suspicious but possible")
		}
	})
}
