// Package train drives the sampling-based training loop of one worker.
package train

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Baizx98/PaGraph/pkg/checkpoint"
	"github.com/Baizx98/PaGraph/pkg/db/runs"
	"github.com/Baizx98/PaGraph/pkg/dist"
	xe "github.com/Baizx98/PaGraph/pkg/errors"
	"github.com/Baizx98/PaGraph/pkg/graph"
	"github.com/Baizx98/PaGraph/pkg/nn"
	"github.com/Baizx98/PaGraph/pkg/sampling"
)

type Config struct {
	// Epochs is how many passes over the partition's train set to run.
	Epochs int

	// LogEvery is the step interval of rank 0's progress lines. Defaults
	// to 20.
	LogEvery int

	// CheckpointEvery is the epoch interval of rank 0's snapshots.
	// Defaults to 5.
	CheckpointEvery int

	// CheckpointDir is where snapshots land. Empty disables them.
	CheckpointDir string
}

// Trainer runs epochs of sample / forward / backward / all-reduce / step
// over one partition, in lockstep with the other ranks of its group.
//
// All ranks advance through the same number of optimizer steps per epoch and
// average gradients every step, so parameters stay bit-identical across
// replicas from the initial broadcast onward.
type Trainer struct {
	group   *dist.Group
	part    *graph.Partition
	sampler *sampling.NeighborSampler
	model   *nn.GCNSampling
	opt     *nn.Adam

	feats *nn.Matrix
	norm  []float32

	rec   runs.Recorder
	run   runs.Run
	log   *log.Logger
	cfg   Config
	steps int
}

func New(
	group *dist.Group,
	part *graph.Partition,
	sampler *sampling.NeighborSampler,
	model *nn.GCNSampling,
	opt *nn.Adam,
	feats *nn.Matrix,
	norm []float32,
	logger *log.Logger,
	cfg Config,
) *Trainer {
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 20
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 5
	}
	return &Trainer{
		group:   group,
		part:    part,
		sampler: sampler,
		model:   model,
		opt:     opt,
		feats:   feats,
		norm:    norm,
		rec:     runs.NullRecorder{},
		log:     logger,
		cfg:     cfg,
	}
}

// Record makes rank 0 report the run and its epochs to rec.
func (t *Trainer) Record(rec runs.Recorder, run runs.Run) {
	t.rec = rec
	t.run = run
}

// Steps is the number of optimizer steps taken so far.
func (t *Trainer) Steps() int { return t.steps }

// Run trains for cfg.Epochs epochs. Any error aborts the run; there is no
// retry, the caller is expected to die with the rest of the group.
func (t *Trainer) Run(ctx context.Context) error {
	rank0 := t.group.Rank() == 0

	// Ranks seed their own rng, so freshly built replicas disagree; rank
	// 0's initialization wins.
	if err := t.group.Broadcast(ctx, t.model.Params()); err != nil {
		return xe.Wrap(err)
	}

	if rank0 {
		if err := t.rec.Start(ctx, t.run); err != nil {
			return err
		}
	}

	var epochDurSum time.Duration
	var epochDurN int

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		epochStart := time.Now()

		meanLoss, err := t.epoch(ctx, epoch, rank0)
		if err != nil {
			return err
		}

		epochDur := time.Since(epochStart)
		// The first epochs pay for warmup (connection setup, page
		// cache); keep them out of the reported mean.
		if epoch >= 2 {
			epochDurSum += epochDur
			epochDurN += 1
		}
		if rank0 && epochDurN > 0 {
			t.log.Printf(
				"epoch %d done: mean epoch time %v over %d epochs",
				epoch, epochDurSum/time.Duration(epochDurN), epochDurN,
			)
		}

		if rank0 {
			if err := t.rec.RecordEpoch(ctx, t.run.RunID, runs.EpochStat{
				Epoch:   epoch,
				Loss:    meanLoss,
				Seconds: epochDur.Seconds(),
			}); err != nil {
				return err
			}
			if t.cfg.CheckpointDir != "" && (epoch+1)%t.cfg.CheckpointEvery == 0 {
				if err := t.snapshot(epoch); err != nil {
					return err
				}
			}
		}
	}

	if rank0 {
		if err := t.rec.Finish(ctx, t.run.RunID); err != nil {
			return err
		}
	}
	return nil
}

// epoch runs one pass over the train set and returns its mean loss.
func (t *Trainer) epoch(ctx context.Context, epoch int, rank0 bool) (float32, error) {
	var lossSum float32
	var windowDur time.Duration
	step := 0

	for flow := range t.sampler.Epoch(ctx) {
		batchStart := time.Now()

		seeds := flow.Seeds()
		labels := make([]int64, len(seeds))
		for i, s := range seeds {
			labels[i] = t.part.Labels[s]
		}

		logits, cache, err := t.model.Forward(flow, t.feats, t.norm, true)
		if err != nil {
			return 0, err
		}
		loss, dLogits := nn.SoftmaxCrossEntropy(logits, labels)

		t.model.ZeroGrad()
		t.model.Backward(cache, dLogits)
		if err := t.group.AllReduceMean(ctx, t.model.Grads()); err != nil {
			return 0, xe.Wrap(err)
		}
		t.opt.Step(t.model.Params(), t.model.Grads())

		t.steps += 1
		step += 1
		lossSum += loss
		windowDur += time.Since(batchStart)

		if rank0 && step%t.cfg.LogEvery == 0 {
			t.log.Printf(
				"epoch %d step %d: loss %.4f, mean batch time %v",
				epoch, step, loss, windowDur/time.Duration(t.cfg.LogEvery),
			)
			windowDur = 0
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, xe.Wrap(err)
	}
	if step == 0 {
		return 0, xe.Wrap(fmt.Errorf("epoch %d yielded no batches", epoch))
	}
	return lossSum / float32(step), nil
}

func (t *Trainer) snapshot(epoch int) error {
	path := checkpoint.Path(t.cfg.CheckpointDir, epoch+1)
	h := checkpoint.HeaderFor(t.model.Config(), epoch+1)
	if err := checkpoint.Save(path, h, t.model.Params()); err != nil {
		return err
	}
	t.log.Printf("checkpoint written: %s", path)
	return nil
}

// RunMeta builds the recorder row of this worker.
func RunMeta(dataset string, group *dist.Group) runs.Run {
	return runs.Run{
		RunID:     uuid.New(),
		Dataset:   dataset,
		WorldSize: group.WorldSize(),
		Rank:      group.Rank(),
	}
}
