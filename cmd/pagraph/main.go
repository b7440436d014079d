package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"

	"github.com/Baizx98/PaGraph/pkg/commandline/flagger"
	"github.com/Baizx98/PaGraph/pkg/db/runs"
	"github.com/Baizx98/PaGraph/pkg/dist"
	xe "github.com/Baizx98/PaGraph/pkg/errors"
	"github.com/Baizx98/PaGraph/pkg/graph"
	"github.com/Baizx98/PaGraph/pkg/nn"
	"github.com/Baizx98/PaGraph/pkg/sampling"
	"github.com/Baizx98/PaGraph/pkg/store"
	"github.com/Baizx98/PaGraph/pkg/train"
	"github.com/Baizx98/PaGraph/pkg/utils/try"
)

// The binary re-executes itself: without envRank in the environment it is
// the launcher and spawns one worker per device; with it, it trains.
const (
	envRank  = "PAGRAPH_RANK"
	envWorld = "PAGRAPH_WORLD_SIZE"
	envAddr  = "MASTER_ADDR"
	envPort  = "MASTER_PORT"
)

type Flags struct {
	GPU           string  `flag:"gpu,help=comma separated device ids; one worker per device ('cpu' for a single local worker)"`
	Dataset       string  `flag:"dataset,help=path to the partitioned dataset directory"`
	FeatSize      int     `flag:"feat-size,help=input feature width"`
	NClasses      int     `flag:"n-classes,help=number of label classes"`
	Dropout       float64 `flag:"dropout,help=dropout probability"`
	NHidden       int     `flag:"n-hidden,help=hidden layer width"`
	NLayers       int     `flag:"n-layers,help=number of hidden gcn layers"`
	Preprocess    bool    `flag:"preprocess,help=fold the first aggregation into the cached inputs"`
	LR            float64 `flag:"lr,help=learning rate"`
	NEpochs       int     `flag:"n-epochs,help=number of training epochs"`
	BatchSize     int     `flag:"batch-size,help=seed nodes per batch"`
	WeightDecay   float64 `flag:"weight-decay,help=weight decay"`
	NumNeighbors  int     `flag:"num-neighbors,help=sampled in-neighbors per node per hop"`
	Ckpt          string  `flag:"ckpt,help=checkpoint directory"`
	Store         string  `flag:"store,help=feature store URL (http(s)://host:port or redis://host:port)"`
	StoreToken    string  `flag:"store-token,help=bearer secret of the feature store"`
	RunDB         string  `flag:"run-db,help=postgres URL recording runs (optional)"`
	SampleWorkers int     `flag:"sample-workers,help=sampler worker pool size"`
}

func defaultFlags() Flags {
	return Flags{
		GPU:           "cpu",
		FeatSize:      300,
		NClasses:      60,
		Dropout:       0.2,
		NHidden:       32,
		NLayers:       1,
		LR:            3e-2,
		NEpochs:       60,
		BatchSize:     2500,
		WeightDecay:   0,
		NumNeighbors:  2,
		Ckpt:          "checkpoint",
		Store:         "http://127.0.0.1:8040",
		SampleWorkers: 8,
	}
}

func main() {
	logger := log.Default()

	flgr := flagger.New(defaultFlags())
	fs := try.To(flgr.SetFlags(flag.CommandLine)).OrFatal(logger)
	fs.Parse(os.Args[1:])
	flags := *flgr.Values

	if flags.Dataset == "" {
		logger.Fatal("--dataset is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if rankEnv, found := os.LookupEnv(envRank); found {
		rank := try.To(strconv.Atoi(rankEnv)).OrFatal(logger)
		logger.SetPrefix(fmt.Sprintf("[rank %d] ", rank))
		if err := worker(ctx, logger, flags, rank); err != nil {
			logger.Fatalf("worker %d failed:\n%+v", rank, err)
		}
		return
	}

	if err := launch(ctx, logger, flags); err != nil {
		logger.Fatalf("training failed:\n%+v", err)
	}
	logger.Println("all workers done")
}

// launch spawns one copy of this binary per device and joins them. The
// first failing child cancels the rest.
func launch(ctx context.Context, logger *log.Logger, flags Flags) error {
	devices := strings.Split(flags.GPU, ",")

	if flags.Ckpt != "" {
		if err := os.MkdirAll(flags.Ckpt, 0o755); err != nil {
			return xe.Wrap(err)
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return xe.Wrap(err)
	}
	host, port, found := strings.Cut(dist.DefaultAddr, ":")
	if !found {
		return xe.Wrap(fmt.Errorf("malformed rendezvous address %q", dist.DefaultAddr))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(devices))
	for rank, dev := range devices {
		cmd := exec.CommandContext(ctx, exe, os.Args[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = append(
			os.Environ(),
			envRank+"="+strconv.Itoa(rank),
			envWorld+"="+strconv.Itoa(len(devices)),
			envAddr+"="+host,
			envPort+"="+port,
		)
		if dev != "cpu" {
			cmd.Env = append(cmd.Env, "CUDA_VISIBLE_DEVICES="+dev)
		}

		logger.Printf("spawning worker %d of %d on device %s", rank, len(devices), dev)
		if err := cmd.Start(); err != nil {
			cancel()
			return xe.Wrap(err)
		}
		go func(rank int, cmd *exec.Cmd) {
			if err := cmd.Wait(); err != nil {
				cancel()
				errs <- xe.Wrap(fmt.Errorf("worker %d: %w", rank, err))
				return
			}
			errs <- nil
		}(rank, cmd)
	}

	var failure error
	for range devices {
		if err := <-errs; err != nil && failure == nil {
			failure = err
		}
	}
	return failure
}

// worker trains one rank against its partition.
func worker(ctx context.Context, logger *log.Logger, flags Flags, rank int) error {
	world := len(strings.Split(flags.GPU, ","))
	if w, found := os.LookupEnv(envWorld); found {
		var err error
		if world, err = strconv.Atoi(w); err != nil {
			return xe.Wrap(err)
		}
	}
	addr := dist.DefaultAddr
	if host, found := os.LookupEnv(envAddr); found {
		addr = host + ":" + os.Getenv(envPort)
	}

	logger.Printf("joining process group at %s (world size %d)", addr, world)
	group, err := dist.Join(ctx, addr, rank, world)
	if err != nil {
		return err
	}
	defer group.Close()

	part, err := graph.LoadPartition(flags.Dataset, rank)
	if err != nil {
		return err
	}
	logger.Printf(
		"partition loaded: %d nodes, %d edges, %d train nodes",
		part.NumNodes(), part.NumEdges(), len(part.TrainNIDs),
	)

	feats, norm, err := cacheGraphData(ctx, logger, flags, part)
	if err != nil {
		return err
	}

	layers := flags.NLayers + 1
	model := nn.NewGCNSampling(nn.GCNConfig{
		FeatSize:   flags.FeatSize,
		Hidden:     flags.NHidden,
		Classes:    flags.NClasses,
		Layers:     layers,
		Dropout:    float32(flags.Dropout),
		Preprocess: flags.Preprocess,
		Seed:       int64(rank),
	})
	sampler := sampling.New(part, part.TrainNIDs, int64(rank), sampling.Config{
		BatchSize:    flags.BatchSize,
		NumHops:      layers,
		NumNeighbors: flags.NumNeighbors,
		Workers:      flags.SampleWorkers,
	})

	trainer := train.New(
		group, part, sampler, model,
		nn.NewAdam(float32(flags.LR), float32(flags.WeightDecay)),
		feats, norm, logger,
		train.Config{Epochs: flags.NEpochs, CheckpointDir: flags.Ckpt},
	)

	if rank == 0 && flags.RunDB != "" {
		pool, rec, err := runs.Connect(ctx, flags.RunDB)
		if err != nil {
			return err
		}
		defer pool.Close()
		trainer.Record(rec, train.RunMeta(flags.Dataset, group))
	}

	return trainer.Run(ctx)
}

// cacheGraphData pulls the partition's feature rows and norm coefficients
// from the remote store into worker memory.
func cacheGraphData(
	ctx context.Context, logger *log.Logger, flags Flags, part *graph.Partition,
) (*nn.Matrix, []float32, error) {
	client, err := storeClient(flags.Store, flags.StoreToken)
	if err != nil {
		return nil, nil, err
	}
	defer client.Close()

	logger.Printf("caching %d feature rows from %s", len(part.T2FID), flags.Store)
	rows, err := store.Gather(ctx, client, "features", part.T2FID)
	if err != nil {
		return nil, nil, err
	}
	feats, err := nn.FromRows(rows)
	if err != nil {
		return nil, nil, err
	}
	norm, err := store.GatherVector(ctx, client, "norm", part.T2FID)
	if err != nil {
		return nil, nil, err
	}
	return feats, norm, nil
}

func storeClient(storeURL, token string) (store.Client, error) {
	u, err := url.Parse(storeURL)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	switch u.Scheme {
	case "redis":
		return store.NewRedisClient(u.Host), nil
	case "http", "https":
		return store.NewHTTPClient(storeURL, token)
	default:
		return nil, xe.Wrap(fmt.Errorf("unsupported store URL scheme %q", u.Scheme))
	}
}
