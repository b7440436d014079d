// Package graph holds the worker-local shard of the training graph and its
// on-disk layout.
//
// A pre-partitioned dataset directory looks like:
//
//	<dataset>/
//	    meta.yaml          global metadata (feature size, node count, ...)
//	    features.data      global feature rows, float32
//	    norm.data          global normalization coefficients, float32
//	    ready              marker: the dataset is fully written
//	    part-0/
//	        meta.yaml      partition metadata
//	        adj.indptr     CSR row pointers, int64
//	        adj.indices    CSR in-neighbor ids, int64
//	        t2fid.ids      local node id -> global feature id, int64
//	        train.nids     local training node ids, int64
//	        train.labels   labels aligned with train.nids, int64
//	    part-1/
//	    ...
package graph

import (
	"errors"
	"fmt"
)

var ErrBadPartition = errors.New("inconsistent partition")

// Partition is one worker's slice of the training graph.
//
// Local node ids are contiguous from 0. The adjacency is CSR over in-edges:
// InNeighbors(v) lists the nodes whose messages v aggregates.
type Partition struct {
	Rank int

	// CSR adjacency. len(Indptr) == NumNodes()+1.
	Indptr  []int64
	Indices []int64

	// T2FID maps a local node id to its global feature id.
	T2FID []int64

	// TrainNIDs are the local node ids carrying a training label.
	TrainNIDs []int64

	// Labels is sized max(TrainNIDs)+1 and sparsely populated: only the
	// entries at TrainNIDs are meaningful, the rest are zero.
	Labels []int64
}

func (p *Partition) NumNodes() int {
	return len(p.Indptr) - 1
}

func (p *Partition) NumEdges() int {
	return len(p.Indices)
}

// InNeighbors returns the in-neighbor ids of local node v. The returned
// slice aliases the CSR storage and must not be mutated.
func (p *Partition) InNeighbors(v int64) []int64 {
	return p.Indices[p.Indptr[v]:p.Indptr[v+1]]
}

// Validate checks the structural invariants of the partition: CSR
// monotonicity, index ranges, the id remapping covering every local node,
// and the label vector sized to the training id set.
func (p *Partition) Validate() error {
	if len(p.Indptr) < 1 {
		return fmt.Errorf("%w: empty indptr", ErrBadPartition)
	}
	if p.Indptr[0] != 0 {
		return fmt.Errorf("%w: indptr does not start at 0", ErrBadPartition)
	}
	n := int64(p.NumNodes())
	for i := 1; i < len(p.Indptr); i++ {
		if p.Indptr[i] < p.Indptr[i-1] {
			return fmt.Errorf("%w: indptr is not monotone at %d", ErrBadPartition, i)
		}
	}
	if p.Indptr[n] != int64(len(p.Indices)) {
		return fmt.Errorf(
			"%w: indptr ends at %d but there are %d edges",
			ErrBadPartition, p.Indptr[n], len(p.Indices),
		)
	}
	for _, u := range p.Indices {
		if u < 0 || n <= u {
			return fmt.Errorf("%w: edge endpoint %d out of range [0, %d)", ErrBadPartition, u, n)
		}
	}
	if int64(len(p.T2FID)) != n {
		return fmt.Errorf(
			"%w: t2fid maps %d nodes, partition has %d",
			ErrBadPartition, len(p.T2FID), n,
		)
	}

	var maxTrain int64 = -1
	for _, v := range p.TrainNIDs {
		if v < 0 || n <= v {
			return fmt.Errorf("%w: training node %d out of range [0, %d)", ErrBadPartition, v, n)
		}
		if maxTrain < v {
			maxTrain = v
		}
	}
	if int64(len(p.Labels)) != maxTrain+1 {
		return fmt.Errorf(
			"%w: label vector has %d entries, want %d",
			ErrBadPartition, len(p.Labels), maxTrain+1,
		)
	}
	return nil
}
