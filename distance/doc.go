// Package distance provides the vector distance kernels used by shard indexes.
//
// # Supported Metrics
//
//   - MetricL2: squared Euclidean distance (default)
//   - MetricDot: negated inner product, so that lower is always closer
//
// # Usage
//
//	fn, err := distance.Provider(distance.MetricL2)
//	d := fn(a, b)
package distance
