package rank

import (
	"fmt"
	"strings"
)

// Policy decides how an access changes a shard's score.
type Policy interface {
	// Name returns the policy name ("LFU" or "LRU").
	Name() string
	// Next returns the new score given the previous score, the access weight
	// and the current logical clock value.
	Next(prev, weight float64, clock uint64) float64
}

// FrequencyWeighted accumulates access weight. Scores never decay.
type FrequencyWeighted struct{}

func (FrequencyWeighted) Name() string { return "LFU" }

func (FrequencyWeighted) Next(prev, weight float64, _ uint64) float64 {
	if weight < 0 {
		weight = 0
	}
	return prev + weight
}

// RecencyStamped keeps only the time of the most recent access.
type RecencyStamped struct{}

func (RecencyStamped) Name() string { return "LRU" }

func (RecencyStamped) Next(_, _ float64, clock uint64) float64 {
	return float64(clock)
}

// ParsePolicy returns the policy for "LFU" or "LRU" (case-insensitive).
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToUpper(name) {
	case "LFU":
		return FrequencyWeighted{}, nil
	case "LRU":
		return RecencyStamped{}, nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q (want LRU or LFU)", name)
	}
}
