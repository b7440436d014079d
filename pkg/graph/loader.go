package graph

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
)

// DatasetMeta is <dataset>/meta.yaml: global facts shared by all partitions.
type DatasetMeta struct {
	NumNodes   int64 `yaml:"num_nodes"`
	FeatSize   int   `yaml:"feat_size"`
	Partitions int   `yaml:"partitions"`
}

// PartitionMeta is <dataset>/part-<rank>/meta.yaml.
type PartitionMeta struct {
	Rank     int   `yaml:"rank"`
	NumNodes int64 `yaml:"num_nodes"`
	NumEdges int64 `yaml:"num_edges"`
}

const ReadyMarker = "ready"

func PartitionDir(dataset string, rank int) string {
	return filepath.Join(dataset, fmt.Sprintf("part-%d", rank))
}

// LoadDatasetMeta reads <dataset>/meta.yaml.
func LoadDatasetMeta(dataset string) (DatasetMeta, error) {
	var meta DatasetMeta
	buf, err := os.ReadFile(filepath.Join(dataset, "meta.yaml"))
	if err != nil {
		return meta, xe.Wrap(err)
	}
	if err := yaml.Unmarshal(buf, &meta); err != nil {
		return meta, xe.WrapWithNote("dataset meta.yaml", err)
	}
	return meta, nil
}

// LoadPartition reads the partition assigned to rank from the dataset
// directory. Missing or corrupt files are fatal to the caller: there is no
// partial success.
//
// The label vector is densified here, as the trainer expects it: it is sized
// max(TrainNIDs)+1 and zero outside the training ids.
func LoadPartition(dataset string, rank int) (*Partition, error) {
	dir := PartitionDir(dataset, rank)

	var meta PartitionMeta
	buf, err := os.ReadFile(filepath.Join(dir, "meta.yaml"))
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if err := yaml.Unmarshal(buf, &meta); err != nil {
		return nil, xe.WrapWithNote(dir, err)
	}
	if meta.Rank != rank {
		return nil, xe.Wrap(fmt.Errorf(
			"%w: directory %s holds partition of rank %d", ErrBadPartition, dir, meta.Rank,
		))
	}

	indptr, err := ReadInt64s(filepath.Join(dir, "adj.indptr"))
	if err != nil {
		return nil, err
	}
	indices, err := ReadInt64s(filepath.Join(dir, "adj.indices"))
	if err != nil {
		return nil, err
	}
	t2fid, err := ReadInt64s(filepath.Join(dir, "t2fid.ids"))
	if err != nil {
		return nil, err
	}
	trainNIDs, err := ReadInt64s(filepath.Join(dir, "train.nids"))
	if err != nil {
		return nil, err
	}
	trainLabels, err := ReadInt64s(filepath.Join(dir, "train.labels"))
	if err != nil {
		return nil, err
	}
	if len(trainLabels) != len(trainNIDs) {
		return nil, xe.Wrap(fmt.Errorf(
			"%w: %d labels for %d training nodes", ErrBadPartition, len(trainLabels), len(trainNIDs),
		))
	}

	var maxTrain int64 = -1
	for _, v := range trainNIDs {
		if maxTrain < v {
			maxTrain = v
		}
	}
	labels := make([]int64, maxTrain+1)
	for nth, v := range trainNIDs {
		if v < 0 {
			return nil, xe.Wrap(fmt.Errorf("%w: negative training node id %d", ErrBadPartition, v))
		}
		labels[v] = trainLabels[nth]
	}

	part := &Partition{
		Rank:      rank,
		Indptr:    indptr,
		Indices:   indices,
		T2FID:     t2fid,
		TrainNIDs: trainNIDs,
		Labels:    labels,
	}
	if err := part.Validate(); err != nil {
		return nil, xe.WrapWithNote(dir, err)
	}
	return part, nil
}

// WritePartition persists part under the dataset directory, in the layout
// LoadPartition reads. Labels are stored sparse, aligned with TrainNIDs.
func WritePartition(dataset string, part *Partition) error {
	if err := part.Validate(); err != nil {
		return xe.Wrap(err)
	}

	dir := PartitionDir(dataset, part.Rank)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xe.Wrap(err)
	}

	meta := PartitionMeta{
		Rank:     part.Rank,
		NumNodes: int64(part.NumNodes()),
		NumEdges: int64(part.NumEdges()),
	}
	buf, err := yaml.Marshal(meta)
	if err != nil {
		return xe.Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.yaml"), buf, 0o644); err != nil {
		return xe.Wrap(err)
	}

	trainLabels := make([]int64, len(part.TrainNIDs))
	for nth, v := range part.TrainNIDs {
		trainLabels[nth] = part.Labels[v]
	}

	for _, item := range []struct {
		name string
		vals []int64
	}{
		{"adj.indptr", part.Indptr},
		{"adj.indices", part.Indices},
		{"t2fid.ids", part.T2FID},
		{"train.nids", part.TrainNIDs},
		{"train.labels", trainLabels},
	} {
		if err := WriteInt64s(filepath.Join(dir, item.name), item.vals); err != nil {
			return err
		}
	}
	return nil
}

// WriteDatasetMeta persists <dataset>/meta.yaml.
func WriteDatasetMeta(dataset string, meta DatasetMeta) error {
	buf, err := yaml.Marshal(meta)
	if err != nil {
		return xe.Wrap(err)
	}
	if err := os.MkdirAll(dataset, 0o755); err != nil {
		return xe.Wrap(err)
	}
	return xe.Wrap(os.WriteFile(filepath.Join(dataset, "meta.yaml"), buf, 0o644))
}

// MarkReady drops the readiness marker file, signalling that every partition
// and feature file is fully written.
func MarkReady(dataset string) error {
	return xe.Wrap(os.WriteFile(filepath.Join(dataset, ReadyMarker), nil, 0o644))
}
