// Package server is the in-memory feature store served by
// cmd/pagraph-store: named dense tensors indexed by global node id, exposed
// over HTTP for trainer workers to gather from.
package server

import (
	"fmt"
	"path/filepath"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
	"github.com/Baizx98/PaGraph/pkg/graph"
)

// Tensor is one named dense tensor, row-major.
type Tensor struct {
	Width int
	Data  []float32
}

func (t Tensor) NumRows() int {
	return len(t.Data) / t.Width
}

// Row returns row gid, aliasing the tensor storage. ok is false when gid is
// out of range.
func (t Tensor) Row(gid int64) (row []float32, ok bool) {
	if gid < 0 || int64(t.NumRows()) <= gid {
		return nil, false
	}
	return t.Data[gid*int64(t.Width) : (gid+1)*int64(t.Width)], true
}

// Registry holds every tensor the store serves. It is written once at load
// time and read-only afterwards, so concurrent handlers need no locking.
type Registry struct {
	tensors map[string]Tensor
}

func NewRegistry() *Registry {
	return &Registry{tensors: map[string]Tensor{}}
}

func (r *Registry) Put(name string, t Tensor) error {
	if t.Width < 1 {
		return xe.Wrap(fmt.Errorf("tensor %q has width %d", name, t.Width))
	}
	if len(t.Data)%t.Width != 0 {
		return xe.Wrap(fmt.Errorf(
			"tensor %q holds %d values, not divisible by width %d", name, len(t.Data), t.Width,
		))
	}
	r.tensors[name] = t
	return nil
}

func (r *Registry) Get(name string) (Tensor, bool) {
	t, ok := r.tensors[name]
	return t, ok
}

// Names lists the registered tensors.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tensors))
	for name := range r.tensors {
		names = append(names, name)
	}
	return names
}

// LoadFromDataset reads the global feature and norm tensors of a
// pre-partitioned dataset directory.
func LoadFromDataset(dataset string) (*Registry, error) {
	meta, err := graph.LoadDatasetMeta(dataset)
	if err != nil {
		return nil, err
	}

	reg := NewRegistry()

	feats, err := graph.ReadFloat32s(filepath.Join(dataset, "features.data"))
	if err != nil {
		return nil, err
	}
	if err := reg.Put("features", Tensor{Width: meta.FeatSize, Data: feats}); err != nil {
		return nil, err
	}
	if int64(len(feats)) != meta.NumNodes*int64(meta.FeatSize) {
		return nil, xe.Wrap(fmt.Errorf(
			"features.data holds %d values, want %d nodes x %d",
			len(feats), meta.NumNodes, meta.FeatSize,
		))
	}

	norm, err := graph.ReadFloat32s(filepath.Join(dataset, "norm.data"))
	if err != nil {
		return nil, err
	}
	if err := reg.Put("norm", Tensor{Width: 1, Data: norm}); err != nil {
		return nil, err
	}
	if int64(len(norm)) != meta.NumNodes {
		return nil, xe.Wrap(fmt.Errorf(
			"norm.data holds %d values, want %d", len(norm), meta.NumNodes,
		))
	}

	return reg, nil
}
