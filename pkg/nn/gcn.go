package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Baizx98/PaGraph/pkg/graph"
	"github.com/Baizx98/PaGraph/pkg/sampling"
)

// GCNConfig describes the network shape shared by the training and the
// inference variants.
type GCNConfig struct {
	// FeatSize is the width of the input feature rows.
	FeatSize int

	// Hidden is the width of the hidden layers.
	Hidden int

	// Classes is the number of output classes.
	Classes int

	// Layers is the number of graph convolution layers, which equals the
	// number of sampled hops a node flow must carry.
	Layers int

	// Dropout is the drop probability applied to each layer's input during
	// training. 0 disables it.
	Dropout float32

	// Preprocess marks the input features as already aggregated: the first
	// layer then skips neighbor aggregation and reads each node's own row.
	Preprocess bool

	// Seed makes parameter init and dropout deterministic per worker.
	Seed int64
}

func (c GCNConfig) dims() []int {
	d := make([]int, c.Layers+1)
	d[0] = c.FeatSize
	for l := 1; l < c.Layers; l++ {
		d[l] = c.Hidden
	}
	d[c.Layers] = c.Classes
	return d
}

// NumParams is the length of the flat parameter vector for this shape.
func (c GCNConfig) NumParams() int {
	d := c.dims()
	total := 0
	for l := 0; l < c.Layers; l++ {
		total += d[l]*d[l+1] + d[l+1]
	}
	return total
}

// GCNSampling is the training variant: it consumes node flows, aggregating
// sampled in-neighbor activations scaled by the destination's normalization
// coefficient before each linear transform, with ReLU between layers and
// dropout on every layer input.
type GCNSampling struct {
	cfg    GCNConfig
	dims   []int
	params []float32
	grads  []float32
	rng    *rand.Rand
}

func NewGCNSampling(cfg GCNConfig) *GCNSampling {
	m := &GCNSampling{
		cfg:    cfg,
		dims:   cfg.dims(),
		params: make([]float32, cfg.NumParams()),
		grads:  make([]float32, cfg.NumParams()),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	m.glorotInit()
	return m
}

func (m *GCNSampling) Config() GCNConfig { return m.cfg }

// Params exposes the flat parameter vector. Mutating it (the optimizer
// does) changes the model.
func (m *GCNSampling) Params() []float32 { return m.params }

// Grads exposes the flat gradient vector, laid out like Params. Workers
// average it across the process group before each optimizer step.
func (m *GCNSampling) Grads() []float32 { return m.grads }

func (m *GCNSampling) ZeroGrad() {
	for k := range m.grads {
		m.grads[k] = 0
	}
}

// SetParams overwrites the parameters, e.g. from a checkpoint.
func (m *GCNSampling) SetParams(p []float32) error {
	if len(p) != len(m.params) {
		return fmt.Errorf("parameter vector sized %d does not fit model (want %d)", len(p), len(m.params))
	}
	copy(m.params, p)
	return nil
}

func (m *GCNSampling) glorotInit() {
	off := 0
	for l := 0; l < m.cfg.Layers; l++ {
		in, out := m.dims[l], m.dims[l+1]
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		for k := 0; k < in*out; k++ {
			m.params[off+k] = (m.rng.Float32()*2 - 1) * limit
		}
		off += in*out + out // biases stay zero
	}
}

// weight returns views of layer l's weight matrix and bias aliasing the
// given flat vector (params or grads).
func (m *GCNSampling) weight(flat []float32, l int) (*Matrix, []float32) {
	off := 0
	for k := 0; k < l; k++ {
		off += m.dims[k]*m.dims[k+1] + m.dims[k+1]
	}
	in, out := m.dims[l], m.dims[l+1]
	w := &Matrix{Rows: in, Cols: out, Data: flat[off : off+in*out]}
	b := flat[off+in*out : off+in*out+out]
	return w, b
}

// FlowCache keeps the intermediate activations of one forward pass for the
// matching Backward call. It is consumed once and discarded, like the flow.
type FlowCache struct {
	flow   *sampling.NodeFlow
	norm   []float32
	inputs []*Matrix   // per layer: its input after dropout
	aggs   []*Matrix   // per layer: aggregated input
	zs     []*Matrix   // per layer: pre-activation output
	masks  [][]float32 // per layer: dropout mask (0 or 1/(1-p)), nil in eval
}

// Forward runs the model over one node flow. feats is the worker's cached
// dense feature matrix indexed by local node id; norm its per-node
// normalization coefficients. train enables dropout.
func (m *GCNSampling) Forward(
	flow *sampling.NodeFlow, feats *Matrix, norm []float32, train bool,
) (*Matrix, *FlowCache, error) {
	if flow.NumHops() != m.cfg.Layers {
		return nil, nil, fmt.Errorf(
			"node flow carries %d hops, model needs %d", flow.NumHops(), m.cfg.Layers,
		)
	}

	cache := &FlowCache{
		flow:   flow,
		norm:   norm,
		inputs: make([]*Matrix, m.cfg.Layers),
		aggs:   make([]*Matrix, m.cfg.Layers),
		zs:     make([]*Matrix, m.cfg.Layers),
		masks:  make([][]float32, m.cfg.Layers),
	}

	// input layer: gather feature rows of the deepest nodes
	h := NewMatrix(len(flow.Layers[0]), m.dims[0])
	for j, v := range flow.Layers[0] {
		copy(h.Row(j), feats.Row(int(v)))
	}

	var z *Matrix
	for l := 0; l < m.cfg.Layers; l++ {
		if train && 0 < m.cfg.Dropout {
			cache.masks[l] = m.dropoutInPlace(h)
		}
		cache.inputs[l] = h

		agg := m.aggregate(flow, l, h, norm)
		cache.aggs[l] = agg

		w, b := m.weight(m.params, l)
		z = NewMatrix(agg.Rows, m.dims[l+1])
		matmul(z, agg, w)
		for i := 0; i < z.Rows; i++ {
			axpyRow(z.Row(i), 1, b)
		}
		cache.zs[l] = z

		if l < m.cfg.Layers-1 {
			next := NewMatrix(z.Rows, z.Cols)
			for k, v := range z.Data {
				if 0 < v {
					next.Data[k] = v
				}
			}
			h = next
		}
	}

	return z, cache, nil
}

// Backward pushes the loss gradient dLogits back through the cached pass,
// accumulating into Grads.
func (m *GCNSampling) Backward(cache *FlowCache, dLogits *Matrix) {
	dZ := dLogits
	for l := m.cfg.Layers - 1; 0 <= l; l-- {
		w, _ := m.weight(m.params, l)
		dW, dB := m.weight(m.grads, l)

		matmulTransA(dW, cache.aggs[l], dZ)
		for i := 0; i < dZ.Rows; i++ {
			axpyRow(dB, 1, dZ.Row(i))
		}

		dAgg := NewMatrix(dZ.Rows, m.dims[l])
		matmulTransB(dAgg, dZ, w)

		dIn := m.scatter(cache.flow, l, dAgg, cache.norm)
		if cache.masks[l] != nil {
			for k := range dIn.Data {
				dIn.Data[k] *= cache.masks[l][k]
			}
		}

		if 0 < l {
			// input of layer l was dropout(relu(z_{l-1}))
			z := cache.zs[l-1]
			for k := range dIn.Data {
				if z.Data[k] <= 0 {
					dIn.Data[k] = 0
				}
			}
			dZ = dIn
		}
	}
}

// aggregate computes layer l's aggregated input: for each destination, the
// sum of its own and its sampled neighbors' activations, scaled by the
// destination's norm coefficient.
func (m *GCNSampling) aggregate(
	flow *sampling.NodeFlow, l int, h *Matrix, norm []float32,
) *Matrix {
	dst := flow.Layers[l+1]
	agg := NewMatrix(len(dst), h.Cols)

	if m.cfg.Preprocess && l == 0 {
		// features are pre-aggregated: pass each node's own row through
		for j, ps := range flow.Neigh[l] {
			copy(agg.Row(j), h.Row(ps[0]))
		}
		return agg
	}

	for j, ps := range flow.Neigh[l] {
		nv := norm[dst[j]]
		row := agg.Row(j)
		for _, p := range ps {
			axpyRow(row, nv, h.Row(p))
		}
	}
	return agg
}

// scatter is the adjoint of aggregate.
func (m *GCNSampling) scatter(
	flow *sampling.NodeFlow, l int, dAgg *Matrix, norm []float32,
) *Matrix {
	dst := flow.Layers[l+1]
	dIn := NewMatrix(len(flow.Layers[l]), dAgg.Cols)

	if m.cfg.Preprocess && l == 0 {
		for j, ps := range flow.Neigh[l] {
			axpyRow(dIn.Row(ps[0]), 1, dAgg.Row(j))
		}
		return dIn
	}

	for j, ps := range flow.Neigh[l] {
		nv := norm[dst[j]]
		for _, p := range ps {
			axpyRow(dIn.Row(p), nv, dAgg.Row(j))
		}
	}
	return dIn
}

// dropoutInPlace zeroes entries of h with probability Dropout and scales
// the survivors by 1/(1-Dropout). Returns the applied mask.
func (m *GCNSampling) dropoutInPlace(h *Matrix) []float32 {
	keep := 1 / (1 - m.cfg.Dropout)
	mask := make([]float32, len(h.Data))
	for k := range h.Data {
		if m.rng.Float32() < m.cfg.Dropout {
			h.Data[k] = 0
		} else {
			mask[k] = keep
			h.Data[k] *= keep
		}
	}
	return mask
}

// GCNInfer is the full-graph inference variant: same parameter layout as
// GCNSampling, no sampling and no dropout. It aggregates over every
// in-neighbor of every local node.
type GCNInfer struct {
	cfg    GCNConfig
	dims   []int
	params []float32
}

func NewGCNInfer(cfg GCNConfig) *GCNInfer {
	cfg.Dropout = 0
	return &GCNInfer{cfg: cfg, dims: cfg.dims(), params: make([]float32, cfg.NumParams())}
}

// SetParams copies a parameter vector trained by GCNSampling.
func (m *GCNInfer) SetParams(p []float32) error {
	if len(p) != len(m.params) {
		return fmt.Errorf("parameter vector sized %d does not fit model (want %d)", len(p), len(m.params))
	}
	copy(m.params, p)
	return nil
}

// Forward evaluates all local nodes of the partition and returns their
// logits, one row per local node id.
func (m *GCNInfer) Forward(part *graph.Partition, feats *Matrix, norm []float32) *Matrix {
	n := part.NumNodes()

	h := NewMatrix(n, m.dims[0])
	copy(h.Data, feats.Data)

	var z *Matrix
	for l := 0; l < m.cfg.Layers; l++ {
		agg := NewMatrix(n, h.Cols)
		if m.cfg.Preprocess && l == 0 {
			copy(agg.Data, h.Data)
		} else {
			for v := 0; v < n; v++ {
				nv := norm[v]
				row := agg.Row(v)
				axpyRow(row, nv, h.Row(v))
				for _, u := range part.InNeighbors(int64(v)) {
					axpyRow(row, nv, h.Row(int(u)))
				}
			}
		}

		off := 0
		for k := 0; k < l; k++ {
			off += m.dims[k]*m.dims[k+1] + m.dims[k+1]
		}
		in, out := m.dims[l], m.dims[l+1]
		w := &Matrix{Rows: in, Cols: out, Data: m.params[off : off+in*out]}
		b := m.params[off+in*out : off+in*out+out]

		z = NewMatrix(n, out)
		matmul(z, agg, w)
		for i := 0; i < n; i++ {
			axpyRow(z.Row(i), 1, b)
		}

		if l < m.cfg.Layers-1 {
			next := NewMatrix(z.Rows, z.Cols)
			for k, v := range z.Data {
				if 0 < v {
					next.Data[k] = v
				}
			}
			h = next
		}
	}
	return z
}
