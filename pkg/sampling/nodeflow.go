package sampling

// NodeFlow is a sampled multi-hop computation subgraph used as one training
// mini-batch.
//
// Layers[len-1] is the seed batch; Layers[0] is the deepest (input) layer.
// Node ids within a layer are unique. Neigh[h][j] lists positions into
// Layers[h] whose activations feed Layers[h+1][j]; the destination node
// itself is always among them, so an isolated node still receives its own
// signal.
type NodeFlow struct {
	Layers [][]int64
	Neigh  [][][]int
}

// NumHops is the number of aggregation steps encoded in the flow.
func (f *NodeFlow) NumHops() int {
	return len(f.Layers) - 1
}

// Seeds returns the batch of seed nodes the flow is rooted at.
func (f *NodeFlow) Seeds() []int64 {
	return f.Layers[len(f.Layers)-1]
}
