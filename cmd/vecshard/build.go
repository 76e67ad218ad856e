package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/hupe1980/vecshard/catalog"
	"github.com/hupe1980/vecshard/config"
	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/kmeans"
	"github.com/hupe1980/vecshard/shardindex"
)

type buildFlags struct {
	configPath  string
	dim         int
	shards      int
	vectors     int
	seed        int64
	iters       int
	compression string
	element     string
	store       config.StoreConfig
}

func runBuild(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var f buildFlags

	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "path to YAML config file (store section)")
	fs.StringVar(&f.store.Type, "store", "", "store type: local, s3 or minio")
	fs.StringVar(&f.store.Root, "root", "", "local index root directory")
	fs.StringVar(&f.store.Prefix, "prefix", "", "index root inside the store")
	fs.IntVar(&f.dim, "dim", 32, "vector dimension")
	fs.IntVar(&f.shards, "shards", 16, "number of data shards")
	fs.IntVar(&f.vectors, "vectors", 10000, "number of generated vectors")
	fs.Int64Var(&f.seed, "seed", 4711, "random seed")
	fs.IntVar(&f.iters, "iters", 25, "maximum k-means iterations")
	fs.StringVar(&f.compression, "compression", "none", "shard compression: none, lz4 or zstd")
	fs.StringVar(&f.element, "element", "float32", "stored element type: float32 or float16")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.LoadEnv(); err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "store":
			cfg.Store.Type = f.store.Type
		case "root":
			cfg.Store.Root = f.store.Root
		case "prefix":
			cfg.Store.Prefix = f.store.Prefix
		}
	})

	if err := cfg.Validate(); err != nil {
		return err
	}

	compression, err := shardindex.ParseCompression(f.compression)
	if err != nil {
		return err
	}
	element, err := shardindex.ParseElementType(f.element)
	if err != nil {
		return err
	}

	storeCfg := cfg.Store
	storeCfg.BlockCacheBytes = 0

	store, err := openStore(ctx, storeCfg)
	if err != nil {
		return err
	}
	if b, ok := store.(interface{ EnsureBucket(context.Context) error }); ok {
		if err := b.EnsureBucket(ctx); err != nil {
			return err
		}
	}

	start := time.Now()

	vectors := newVectorGen(f.seed).uniform(f.vectors, f.dim)

	clusters, err := kmeans.Train(ctx, vectors, f.shards, kmeans.Options{
		MaxIter: f.iters,
		Seed:    f.seed,
		Metric:  distance.MetricL2,
	})
	if err != nil {
		return err
	}

	opts := shardindex.EncodeOptions{Compression: compression, Element: element}

	for s, members := range clusters.Partition() {
		vecs := make([][]float32, len(members))
		ids := make([]int64, len(members))
		for i, pos := range members {
			vecs[i] = vectors[pos]
			ids[i] = int64(pos)
		}

		shard, err := shardindex.Build(vecs, ids, distance.MetricL2)
		if err != nil {
			return fmt.Errorf("shard %d: %w", s, err)
		}
		if err := shardindex.Save(ctx, store, path.Join(cfg.Store.Prefix, catalog.ShardName(s)), shard, opts); err != nil {
			return fmt.Errorf("shard %d: %w", s, err)
		}
	}

	centroids, err := shardindex.Build(clusters.Centroids, nil, distance.MetricL2)
	if err != nil {
		return err
	}
	if err := shardindex.Save(ctx, store, path.Join(cfg.Store.Prefix, catalog.CentroidName), centroids, opts); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "built %d shards from %d vectors (dim %d, %d k-means iterations) in %s\n",
		f.shards, f.vectors, f.dim, clusters.Iterations, time.Since(start).Round(time.Millisecond))

	return nil
}
