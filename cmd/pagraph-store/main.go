package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"
	"gopkg.in/yaml.v3"

	"github.com/Baizx98/PaGraph/pkg/commandline/flagger"
	xe "github.com/Baizx98/PaGraph/pkg/errors"
	"github.com/Baizx98/PaGraph/pkg/graph"
	"github.com/Baizx98/PaGraph/pkg/store"
	"github.com/Baizx98/PaGraph/pkg/store/server"
	"github.com/Baizx98/PaGraph/pkg/utils/filewatch"
	"github.com/Baizx98/PaGraph/pkg/utils/try"
)

type Flags struct {
	Config     string `flag:"config,help=path to a YAML config file"`
	Dataset    string `flag:"dataset,help=path to the dataset directory to serve"`
	Port       int    `flag:"port,help=port the store serves on"`
	AuthSecret string `flag:"auth-secret,help=bearer secret; empty serves anonymously"`
	LogLevel   string `flag:"loglevel,help=debug | info | warn | error | off"`
	Redis      string `flag:"redis,help=populate this redis (redis://host:port) instead of serving"`
}

// yamlConfig mirrors Flags for the --config file.
type yamlConfig struct {
	Dataset    string `yaml:"dataset"`
	Port       int    `yaml:"port"`
	AuthSecret string `yaml:"authSecret"`
	LogLevel   string `yaml:"logLevel"`
	Redis      string `yaml:"redis"`
}

func defaultFlags() Flags {
	return Flags{Port: 8040, LogLevel: "info"}
}

// resolve layers the configuration sources: defaults, then environment
// (optionally loaded from .env), then the YAML file, then explicitly set
// flags.
func resolve(flgr *flagger.Flagger[Flags], fs *flag.FlagSet) (Flags, error) {
	cfg := defaultFlags()

	if v, found := os.LookupEnv("PAGRAPH_STORE_DATASET"); found {
		cfg.Dataset = v
	}
	if v, found := os.LookupEnv("PAGRAPH_STORE_PORT"); found {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, xe.Wrap(err)
		}
		cfg.Port = port
	}
	if v, found := os.LookupEnv("PAGRAPH_STORE_SECRET"); found {
		cfg.AuthSecret = v
	}
	if v, found := os.LookupEnv("PAGRAPH_STORE_LOGLEVEL"); found {
		cfg.LogLevel = v
	}

	if path := flgr.Values.Config; path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, xe.Wrap(err)
		}
		var y yamlConfig
		if err := yaml.Unmarshal(buf, &y); err != nil {
			return cfg, xe.Wrap(err)
		}
		if y.Dataset != "" {
			cfg.Dataset = y.Dataset
		}
		if y.Port != 0 {
			cfg.Port = y.Port
		}
		if y.AuthSecret != "" {
			cfg.AuthSecret = y.AuthSecret
		}
		if y.LogLevel != "" {
			cfg.LogLevel = y.LogLevel
		}
		if y.Redis != "" {
			cfg.Redis = y.Redis
		}
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["dataset"] {
		cfg.Dataset = flgr.Values.Dataset
	}
	if set["port"] {
		cfg.Port = flgr.Values.Port
	}
	if set["auth-secret"] {
		cfg.AuthSecret = flgr.Values.AuthSecret
	}
	if set["loglevel"] {
		cfg.LogLevel = flgr.Values.LogLevel
	}
	if set["redis"] {
		cfg.Redis = flgr.Values.Redis
	}
	return cfg, nil
}

func logLevel(name string) (log.Lvl, error) {
	switch name {
	case "debug":
		return log.DEBUG, nil
	case "info":
		return log.INFO, nil
	case "warn":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

func main() {
	logger := stdlog.Default()

	// .env is optional; a missing file is not an error.
	godotenv.Load()

	flgr := flagger.New(defaultFlags())
	fs := flag.NewFlagSet("pagraph-store", flag.ExitOnError)
	try.To(flgr.SetFlags(fs)).OrFatal(logger)
	fs.Parse(os.Args[1:])

	cfg := try.To(resolve(flgr, fs)).OrFatal(logger)
	if cfg.Dataset == "" {
		logger.Fatal("--dataset is required")
	}
	lvl := try.To(logLevel(cfg.LogLevel)).OrFatal(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The dataset builder marks completion with a ready file; hold here
	// until it appears.
	ready := filepath.Join(cfg.Dataset, graph.ReadyMarker)
	logger.Printf("waiting for dataset marker %s", ready)
	if err := filewatch.WaitForFile(ctx, ready); err != nil {
		logger.Fatalf("dataset never became ready:\n%+v", err)
	}

	reg := try.To(server.LoadFromDataset(cfg.Dataset)).OrFatal(logger)
	logger.Printf("dataset loaded: tensors %v", reg.Names())

	if cfg.Redis != "" {
		if err := populate(ctx, cfg.Redis, reg); err != nil {
			logger.Fatalf("populating redis failed:\n%+v", err)
		}
		logger.Println("redis populated")
		return
	}

	opts := []server.Option{server.WithLogLevel(lvl)}
	if cfg.AuthSecret != "" {
		opts = append(opts, server.WithAuthSecret(cfg.AuthSecret))
	}
	s := server.Start(ctx, cfg.Port, reg, opts...)
	logger.Printf("feature store serving on port %d", cfg.Port)

	select {
	case <-ctx.Done():
		logger.Println("store stops by interrupt signal")
	case err := <-s.ServerStop:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("store stops by error:\n%+v", err)
		}
		logger.Println("store stops...")
	}
	logger.Println("bye")
}

// populate writes every registered tensor into redis, row by row.
func populate(ctx context.Context, redisURL string, reg *server.Registry) error {
	u, err := url.Parse(redisURL)
	if err != nil {
		return xe.Wrap(err)
	}
	if u.Scheme != "redis" {
		return xe.Wrap(fmt.Errorf("unsupported redis URL scheme %q", u.Scheme))
	}

	for _, name := range reg.Names() {
		t, _ := reg.Get(name)
		rows := make([][]float32, t.NumRows())
		for i := range rows {
			rows[i] = t.Data[i*t.Width : (i+1)*t.Width]
		}
		if err := store.PopulateRedis(ctx, u.Host, name, rows); err != nil {
			return err
		}
	}
	return nil
}
