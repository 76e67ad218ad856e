package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/vecshard"
	"github.com/hupe1980/vecshard/config"
	"github.com/hupe1980/vecshard/rank"
	"github.com/hupe1980/vecshard/search"
	"github.com/hupe1980/vecshard/topology"
)

func runSearch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		envFile    string
		printMats  bool
		o          config.Config
	)

	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.StringVar(&envFile, "env", ".env", "environment file with credentials")
	fs.BoolVar(&printMats, "print", false, "print distance, ID and shard matrices")
	fs.StringVar(&o.Store.Type, "store", "", "store type: local, s3 or minio")
	fs.StringVar(&o.Store.Root, "root", "", "local index root directory")
	fs.StringVar(&o.Store.Prefix, "prefix", "", "index root inside the store")
	fs.IntVar(&o.Search.NProbe, "nprobe", 0, "shards probed per query")
	fs.IntVar(&o.Search.K, "k", 0, "neighbors per query")
	fs.IntVar(&o.Search.LocalK, "local-k", 0, "neighbors requested per shard (0 = k)")
	fs.IntVar(&o.Search.BatchSize, "batch", 0, "queries per batch")
	fs.IntVar(&o.Search.Batches, "batches", 0, "number of batches")
	fs.StringVar(&o.Search.Strategy, "strategy", "", "query, shard or shard_pipelined")
	fs.BoolVar(&o.Search.Strict, "strict", false, "fail a batch on the first shard load error")
	fs.Int64Var(&o.Search.Seed, "seed", 0, "query generator seed")
	fs.IntVar(&o.Cache.Capacity, "capacity", 0, "resident shard capacity")
	fs.StringVar(&o.Cache.Policy, "policy", "", "eviction policy: LRU or LFU")
	fs.StringVar(&o.Cache.Ordering, "ordering", "", "smallest_first or largest_first")
	fs.BoolVar(&o.Prefetch.Disabled, "no-prefetch", false, "disable the background loader")
	fs.StringVar(&o.Telemetry.File, "telemetry", "", "append telemetry lines to this file")
	fs.StringVar(&o.Telemetry.DB, "telemetry-db", "", "write telemetry to this SQLite database")
	fs.StringVar(&o.RankStore.Type, "rank-store", "", "none, badger or dynamodb")
	fs.StringVar(&o.RankStore.Dir, "rank-dir", "", "badger directory")
	fs.StringVar(&o.RankStore.Table, "rank-table", "", "dynamodb table")
	fs.StringVar(&o.Log.Level, "log-level", "", "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.LoadEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	overrides := map[string]func(){
		"store":        func() { cfg.Store.Type = o.Store.Type },
		"root":         func() { cfg.Store.Root = o.Store.Root },
		"prefix":       func() { cfg.Store.Prefix = o.Store.Prefix },
		"nprobe":       func() { cfg.Search.NProbe = o.Search.NProbe },
		"k":            func() { cfg.Search.K = o.Search.K },
		"local-k":      func() { cfg.Search.LocalK = o.Search.LocalK },
		"batch":        func() { cfg.Search.BatchSize = o.Search.BatchSize },
		"batches":      func() { cfg.Search.Batches = o.Search.Batches },
		"strategy":     func() { cfg.Search.Strategy = o.Search.Strategy },
		"strict":       func() { cfg.Search.Strict = o.Search.Strict },
		"seed":         func() { cfg.Search.Seed = o.Search.Seed },
		"capacity":     func() { cfg.Cache.Capacity = o.Cache.Capacity },
		"policy":       func() { cfg.Cache.Policy = o.Cache.Policy },
		"ordering":     func() { cfg.Cache.Ordering = o.Cache.Ordering },
		"no-prefetch":  func() { cfg.Prefetch.Disabled = o.Prefetch.Disabled },
		"telemetry":    func() { cfg.Telemetry.File = o.Telemetry.File },
		"telemetry-db": func() { cfg.Telemetry.DB = o.Telemetry.DB },
		"rank-store":   func() { cfg.RankStore.Type = o.RankStore.Type },
		"rank-dir":     func() { cfg.RankStore.Dir = o.RankStore.Dir },
		"rank-table":   func() { cfg.RankStore.Table = o.RankStore.Table },
		"log-level":    func() { cfg.Log.Level = o.Log.Level },
	}
	fs.Visit(func(fl *flag.Flag) {
		if set, ok := overrides[fl.Name]; ok {
			set()
		}
	})

	if err := cfg.Validate(); err != nil {
		return err
	}

	return serve(ctx, cfg, printMats, stdout, stderr)
}

func serve(ctx context.Context, cfg *config.Config, printMats bool, stdout, stderr io.Writer) (err error) {
	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}

	strategy, err := search.ParseStrategy(cfg.Search.Strategy)
	if err != nil {
		return err
	}
	policy, err := rank.ParsePolicy(cfg.Cache.Policy)
	if err != nil {
		return err
	}
	ordering, err := topology.ParseOrdering(cfg.Cache.Ordering)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	region := ""
	if cfg.Store.S3 != nil {
		region = cfg.Store.S3.Region
	}
	ranks, err := openRankStore(ctx, cfg.RankStore, region, logger.Logger)
	if err != nil {
		return err
	}

	sinks, err := openTelemetry(ctx, cfg.Telemetry, logger.Logger)
	if err != nil {
		if ranks != nil {
			_ = ranks.Close()
		}
		return err
	}
	defer func() {
		err = errors.Join(err, sinks.Close())
	}()

	optFns := []vecshard.Option{
		vecshard.WithRoot(cfg.Store.Prefix),
		vecshard.WithCapacity(cfg.Cache.Capacity),
		vecshard.WithPolicy(policy),
		vecshard.WithOrdering(ordering),
		vecshard.WithPrefetchLimits(cfg.Prefetch.MaxWorkers, cfg.Prefetch.IOBytesPerSec),
		vecshard.WithRecorder(sinks.recorder),
		vecshard.WithLogger(logger),
	}
	if ranks != nil {
		optFns = append(optFns, vecshard.WithRankStore(ranks))
	}
	if cfg.Prefetch.Disabled {
		optFns = append(optFns, vecshard.WithoutPrefetch())
	}

	srv, err := vecshard.Open(ctx, store, optFns...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, srv.Close())
	}()

	logger.Info("serving",
		"shards", srv.NumShards(),
		"dimension", srv.Dimension(),
		"capacity", cfg.Cache.Capacity,
		"policy", policy.Name(),
		"strategy", strategy.String(),
		slog.Int("nprobe", cfg.Search.NProbe),
	)

	gen := newVectorGen(cfg.Search.Seed)
	opts := vecshard.SearchOptions{
		NProbe:   cfg.Search.NProbe,
		K:        cfg.Search.K,
		LocalK:   cfg.Search.LocalK,
		Strategy: strategy,
		Strict:   cfg.Search.Strict,
	}

	var total time.Duration

	for b := 0; b < cfg.Search.Batches; b++ {
		queries := gen.uniform(cfg.Search.BatchSize, srv.Dimension())
		before := srv.CacheStats()

		start := time.Now()
		resp, err := srv.Search(ctx, queries, opts)
		if err != nil {
			return fmt.Errorf("batch %d: %w", b, err)
		}
		elapsed := time.Since(start)
		total += elapsed

		after := srv.CacheStats()
		fmt.Fprintf(stdout, "batch %d: %d queries in %s (%.1f q/s) loads=%d evictions=%d resident=%d failed=%v\n",
			b, len(queries), elapsed.Round(time.Microsecond), qps(len(queries), elapsed),
			after.Loads-before.Loads, after.Evictions-before.Evictions, after.Resident, resp.FailedShards)

		if printMats {
			printMatrices(stdout, resp)
		}
	}

	n := cfg.Search.Batches * cfg.Search.BatchSize
	fmt.Fprintf(stdout, "total: %d queries in %s (%.1f q/s)\n", n, total.Round(time.Microsecond), qps(n, total))

	if ps := srv.PrefetchStats(); ps.Enabled {
		fmt.Fprintf(stdout, "prefetch: state=%s loaded=%d failed=%d io=%dB\n", ps.State, ps.Loaded, ps.Failed, ps.IOBytes)
	}

	return nil
}

func qps(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

func printMatrices(w io.Writer, resp *vecshard.Response) {
	fmt.Fprintln(w, "distances:")
	for _, row := range resp.Distances {
		fmt.Fprintf(w, "  %v\n", row)
	}
	fmt.Fprintln(w, "ids:")
	for _, row := range resp.IDs {
		fmt.Fprintf(w, "  %v\n", row)
	}
	fmt.Fprintln(w, "shards:")
	for _, row := range resp.Shards {
		fmt.Fprintf(w, "  %v\n", row)
	}
}
