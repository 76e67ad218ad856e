// Package testutil provides testing utilities for vecshard.
//
// It generates reproducible synthetic data, builds small sharded
// collections and computes exact nearest neighbors. Only tests import it.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformVectors(100, 8)
//
// # Synthetic Collections
//
//	coll, _ := testutil.NewCollection(rng, 4, 10, 8)
//	_ = coll.WriteRoot(ctx, store, "idx", shardindex.EncodeOptions{})
//
// # Exact Search (Ground Truth)
//
//	dists, ids := coll.BruteForce(queries, k)
package testutil
