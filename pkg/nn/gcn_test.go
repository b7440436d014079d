package nn_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/Baizx98/PaGraph/pkg/graph"
	"github.com/Baizx98/PaGraph/pkg/nn"
	"github.com/Baizx98/PaGraph/pkg/sampling"
)

// tiny partition: 6 nodes, each with 2 in-neighbors on a ring.
func testPartition(t *testing.T) *graph.Partition {
	t.Helper()
	const n = 6
	indptr := make([]int64, n+1)
	indices := make([]int64, 0, 2*n)
	for v := int64(0); v < n; v++ {
		indices = append(indices, ((v-1)+n)%n, (v+1)%n)
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
		TrainNIDs: []int64{0, 1, 2, 3, 4, 5},
		Labels:    []int64{0, 1, 2, 0, 1, 2},
	}
	if err := part.Validate(); err != nil {
		t.Fatal(err)
	}
	return part
}

func testGraphData(t *testing.T, part *graph.Partition, featSize int) (*nn.Matrix, []float32) {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	feats := nn.NewMatrix(part.NumNodes(), featSize)
	for k := range feats.Data {
		feats.Data[k] = rng.Float32()*2 - 1
	}
	norm := make([]float32, part.NumNodes())
	for v := range norm {
		deg := len(part.InNeighbors(int64(v)))
		norm[v] = 1 / float32(deg+1)
	}
	return feats, norm
}

func fullFlow(t *testing.T, part *graph.Partition, hops int) *sampling.NodeFlow {
	t.Helper()
	s := sampling.New(part, part.TrainNIDs, 5, sampling.Config{
		BatchSize:    part.NumNodes(),
		NumHops:      hops,
		NumNeighbors: part.NumNodes(), // keep every neighbor
	})
	flow := <-s.Epoch(context.Background())
	if flow == nil {
		t.Fatal("sampler yielded no flow")
	}
	return flow
}

func batchLabels(part *graph.Partition, seeds []int64) []int64 {
	labels := make([]int64, len(seeds))
	for j, v := range seeds {
		labels[j] = part.Labels[v]
	}
	return labels
}

func TestGCNSamplingGradients(t *testing.T) {
	t.Run("analytic gradients match finite differences", func(t *testing.T) {
		part := testPartition(t)
		feats, norm := testGraphData(t, part, 3)
		cfg := nn.GCNConfig{
			FeatSize: 3, Hidden: 4, Classes: 3, Layers: 2, Dropout: 0, Seed: 11,
		}
		model := nn.NewGCNSampling(cfg)
		flow := fullFlow(t, part, cfg.Layers)
		labels := batchLabels(part, flow.Seeds())

		logits, cache, err := model.Forward(flow, feats, norm, true)
		if err != nil {
			t.Fatal(err)
		}
		_, dLogits := nn.SoftmaxCrossEntropy(logits, labels)
		model.ZeroGrad()
		model.Backward(cache, dLogits)

		analytic := make([]float32, len(model.Grads()))
		copy(analytic, model.Grads())

		lossAt := func() float64 {
			lg, _, err := model.Forward(flow, feats, norm, false)
			if err != nil {
				t.Fatal(err)
			}
			loss, _ := nn.SoftmaxCrossEntropy(lg, labels)
			return float64(loss)
		}

		const eps = 1e-2
		params := model.Params()
		// a spread of parameter indices across all layers
		for _, k := range []int{0, 1, 5, 11, 12, 15, len(params) - 1, len(params) - 3} {
			orig := params[k]
			params[k] = orig + eps
			up := lossAt()
			params[k] = orig - eps
			down := lossAt()
			params[k] = orig

			numeric := (up - down) / (2 * eps)
			diff := math.Abs(numeric - float64(analytic[k]))
			scale := math.Max(1e-2, math.Abs(numeric)+math.Abs(float64(analytic[k])))
			if 0.1 < diff/scale {
				t.Errorf(
					"param %d: analytic %.5f vs numeric %.5f",
					k, analytic[k], numeric,
				)
			}
		}
	})
}

func TestGCNSamplingMatchesInfer(t *testing.T) {
	t.Run("with all neighbors kept, the sampling model equals the full-graph model", func(t *testing.T) {
		part := testPartition(t)
		feats, norm := testGraphData(t, part, 4)
		cfg := nn.GCNConfig{
			FeatSize: 4, Hidden: 5, Classes: 3, Layers: 2, Dropout: 0, Seed: 21,
		}
		model := nn.NewGCNSampling(cfg)
		infer := nn.NewGCNInfer(cfg)
		if err := infer.SetParams(model.Params()); err != nil {
			t.Fatal(err)
		}

		flow := fullFlow(t, part, cfg.Layers)
		sampled, _, err := model.Forward(flow, feats, norm, false)
		if err != nil {
			t.Fatal(err)
		}
		full := infer.Forward(part, feats, norm)

		for j, v := range flow.Seeds() {
			for c := 0; c < cfg.Classes; c++ {
				got := sampled.At(j, c)
				want := full.At(int(v), c)
				if 1e-4 < math.Abs(float64(got-want)) {
					t.Errorf("node %d class %d: sampled %.6f vs full %.6f", v, c, got, want)
				}
			}
		}
	})
}

func TestReplicaConsistency(t *testing.T) {
	t.Run("replicas seeded alike and fed identical averaged gradients stay bit-identical", func(t *testing.T) {
		part := testPartition(t)
		feats, norm := testGraphData(t, part, 3)
		cfg := nn.GCNConfig{
			FeatSize: 3, Hidden: 4, Classes: 3, Layers: 2, Dropout: 0.2, Seed: 0,
		}

		a := nn.NewGCNSampling(cfg)
		b := nn.NewGCNSampling(cfg)
		optA := nn.NewAdam(1e-2, 1e-4)
		optB := nn.NewAdam(1e-2, 1e-4)

		flow := fullFlow(t, part, cfg.Layers)
		labels := batchLabels(part, flow.Seeds())

		for step := 0; step < 3; step++ {
			for _, run := range []struct {
				model *nn.GCNSampling
				opt   *nn.Adam
			}{{a, optA}, {b, optB}} {
				logits, cache, err := run.model.Forward(flow, feats, norm, true)
				if err != nil {
					t.Fatal(err)
				}
				_, dLogits := nn.SoftmaxCrossEntropy(logits, labels)
				run.model.ZeroGrad()
				run.model.Backward(cache, dLogits)
				run.opt.Step(run.model.Params(), run.model.Grads())
			}
		}

		pa, pb := a.Params(), b.Params()
		for k := range pa {
			if pa[k] != pb[k] {
				t.Fatalf("parameter %d diverged: %v vs %v", k, pa[k], pb[k])
			}
		}
	})
}

func TestTrainingReducesLoss(t *testing.T) {
	t.Run("a few optimizer steps on a fixed batch reduce the loss", func(t *testing.T) {
		part := testPartition(t)
		feats, norm := testGraphData(t, part, 3)
		cfg := nn.GCNConfig{
			FeatSize: 3, Hidden: 8, Classes: 3, Layers: 2, Dropout: 0, Seed: 33,
		}
		model := nn.NewGCNSampling(cfg)
		opt := nn.NewAdam(5e-2, 0)

		flow := fullFlow(t, part, cfg.Layers)
		labels := batchLabels(part, flow.Seeds())

		var first, last float32
		for step := 0; step < 30; step++ {
			logits, cache, err := model.Forward(flow, feats, norm, true)
			if err != nil {
				t.Fatal(err)
			}
			loss, dLogits := nn.SoftmaxCrossEntropy(logits, labels)
			if step == 0 {
				first = loss
			}
			last = loss
			model.ZeroGrad()
			model.Backward(cache, dLogits)
			opt.Step(model.Params(), model.Grads())
		}

		if last >= first {
			t.Errorf("loss did not improve: first %.4f, last %.4f", first, last)
		}
	})
}
