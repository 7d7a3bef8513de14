package report

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ethpandaops/dnsperfoor/pkg/store"
)

var (
	// ErrEmptySample is returned when percentiles are requested over no data.
	ErrEmptySample = errors.New("empty sample")

	// ErrSampleTooLarge is returned by Expand when the buckets hold more
	// observations than MaxExpandedSample.
	ErrSampleTooLarge = errors.New("sample too large to expand")
)

// MaxExpandedSample bounds the number of values Expand materializes.
const MaxExpandedSample = 1 << 24

// bucketCount is the whole number of observations a bucket contributes.
// Fractional counts are truncated; invalid or non-positive counts add none.
func bucketCount(b store.HistogramBucket) float64 {
	c := math.Floor(b.RTTMsCount)
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 1 {
		return 0
	}

	return c
}

// Expand turns histogram buckets into a sample in which each bucket's rtt
// appears count times. Bucket order is preserved.
func Expand(buckets []store.HistogramBucket) ([]float64, error) {
	total := 0.0
	for _, b := range buckets {
		total += bucketCount(b)
	}

	if total > MaxExpandedSample {
		return nil, fmt.Errorf("%w: %.0f values", ErrSampleTooLarge, total)
	}

	sample := make([]float64, 0, int(total))

	for _, b := range buckets {
		for i := 0; i < int(bucketCount(b)); i++ {
			sample = append(sample, b.RTTMs)
		}
	}

	return sample, nil
}

// Percentiles returns the requested percentiles (0-100) of sample using
// linear interpolation between closest ranks. The input is not modified.
func Percentiles(sample []float64, ps []float64) ([]float64, error) {
	if len(sample) == 0 {
		return nil, ErrEmptySample
	}

	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = percentile(sorted, p)
	}

	return out, nil
}

func percentile(sorted []float64, pct float64) float64 {
	rank := pct / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower < 0 {
		return sorted[0]
	}

	if lower == upper || upper >= len(sorted) {
		return sorted[min(lower, len(sorted)-1)]
	}

	frac := rank - float64(lower)

	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

type weightedValue struct {
	value float64
	count float64
}

// BucketPercentiles returns the same values as Percentiles(Expand(buckets))
// without materializing the sample, so bucket counts may be arbitrarily
// large.
func BucketPercentiles(
	buckets []store.HistogramBucket, ps []float64,
) ([]float64, error) {
	points := make([]weightedValue, 0, len(buckets))
	total := 0.0

	for _, b := range buckets {
		c := bucketCount(b)
		if c == 0 {
			continue
		}

		points = append(points, weightedValue{value: b.RTTMs, count: c})
		total += c
	}

	if total == 0 {
		return nil, ErrEmptySample
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].value < points[j].value
	})

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = weightedPercentile(points, total, p)
	}

	return out, nil
}

func weightedPercentile(points []weightedValue, total, pct float64) float64 {
	rank := pct / 100.0 * (total - 1)
	lower := math.Floor(rank)
	upper := math.Ceil(rank)

	lo := valueAtRank(points, lower)
	if lower == upper {
		return lo
	}

	frac := rank - lower

	return lo*(1-frac) + valueAtRank(points, upper)*frac
}

// valueAtRank returns the value at a zero-based position of the sorted
// sample. Positions outside the sample clamp to its ends.
func valueAtRank(points []weightedValue, rank float64) float64 {
	cumulative := 0.0

	for _, p := range points {
		cumulative += p.count
		if rank < cumulative {
			return p.value
		}
	}

	return points[len(points)-1].value
}
