package vecshard

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/catalog"
	"github.com/hupe1980/vecshard/router"
	"github.com/hupe1980/vecshard/search"
	"github.com/hupe1980/vecshard/shardcache"
	"github.com/hupe1980/vecshard/shardindex"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = search.ErrInvalidK
	// ErrInvalidNProbe is returned when nprobe is not positive.
	ErrInvalidNProbe = router.ErrInvalidNProbe
	// ErrInvalidCapacity is returned when the cache capacity is below one.
	ErrInvalidCapacity = shardcache.ErrInvalidCapacity
	// ErrEmptyBatch is returned for a search without queries.
	ErrEmptyBatch = errors.New("empty query batch")
	// ErrClosed is returned by operations on a closed server.
	ErrClosed = errors.New("server closed")
)

// ShardLoadError reports a shard that failed to load in strict mode.
type ShardLoadError = search.ShardLoadError

// CapacityError reports a broken cache capacity bound. It is fatal.
type CapacityError = shardcache.CapacityError

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// IsConfigError reports whether err stems from invalid input or an invalid
// index root. Such errors are raised before any shard I/O and are not worth
// retrying.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}

	var dm *ErrDimensionMismatch
	if errors.As(err, &dm) {
		return true
	}

	for _, target := range []error{
		ErrInvalidK,
		ErrInvalidNProbe,
		ErrInvalidCapacity,
		ErrEmptyBatch,
		catalog.ErrNoCentroid,
		catalog.ErrMultipleCentroids,
		catalog.ErrNoShards,
		router.ErrCentroidCount,
		blobstore.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *shardindex.DimensionMismatchError
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	if errors.Is(err, shardindex.ErrInvalidK) && !errors.Is(err, ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	return err
}
