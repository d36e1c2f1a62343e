// Package histogram contains the HDR histogram backing the step duration
// trends.
package histogram

import (
	"math"
	"math/bits"
	"sort"
)

const (
	// defaultMinimumResolution keeps three decimal digits of the tracked
	// values, i.e. microseconds when tracking milliseconds.
	defaultMinimumResolution = .001

	// lowestTrackable excludes negative numbers, durations are never negative.
	lowestTrackable = 0

	// k is the number of bits of the secondary buckets: 2^7 = 128 sub
	// buckets for each power of two.
	k = uint64(7)
)

// Hdr is a base-2 exponential histogram with two layers of buckets: one
// primary bucket for each power of two, each split into 2^k linear sub
// buckets. The relative error of a reported value is below 1/128.
type Hdr struct {
	// Buckets holds the counters of the trackable values.
	Buckets map[uint32]uint32

	// ExtraLowBucket counts values below the minimum trackable value.
	ExtraLowBucket uint32

	// ExtraHighBucket counts values above the maximum trackable value.
	ExtraHighBucket uint32

	Max   float64
	Min   float64
	Sum   float64
	Count uint32

	// MinimumResolution is the multiplier applied to tracked values.
	MinimumResolution float64
}

// NewHdr creates a new Hdr histogram with default settings.
func NewHdr() *Hdr {
	return &Hdr{
		MinimumResolution: defaultMinimumResolution,
		Buckets:           make(map[uint32]uint32),
		Max:               -math.MaxFloat64,
		Min:               math.MaxFloat64,
	}
}

// Add adds a value to the histogram.
func (h *Hdr) Add(v float64) {
	if v > h.Max {
		h.Max = v
	}
	if v < h.Min {
		h.Min = v
	}

	h.Count++
	h.Sum += v

	v /= h.MinimumResolution

	if v < lowestTrackable {
		h.ExtraLowBucket++
		return
	}
	if v > math.MaxInt64 {
		h.ExtraHighBucket++
		return
	}

	h.Buckets[resolveBucketIndex(v)]++
}

// Quantile returns the value below which the fraction q of the observed
// values fall. The result is clamped to [Min, Max].
func (h *Hdr) Quantile(q float64) float64 {
	if h.Count == 0 {
		return 0
	}
	switch {
	case q <= 0:
		return h.Min
	case q >= 1:
		return h.Max
	}

	rank := uint64(math.Ceil(q * float64(h.Count)))
	if rank == 0 {
		rank = 1
	}
	cumulative := uint64(h.ExtraLowBucket)
	if rank <= cumulative {
		return h.Min
	}

	indexes := make([]uint32, 0, len(h.Buckets))
	for idx := range h.Buckets {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	for _, idx := range indexes {
		cumulative += uint64(h.Buckets[idx])
		if rank <= cumulative {
			return h.clamp(float64(bucketUpperBound(idx)) * h.MinimumResolution)
		}
	}
	return h.Max
}

func (h *Hdr) clamp(v float64) float64 {
	return math.Max(h.Min, math.Min(h.Max, v))
}

// resolveBucketIndex returns the index of the bucket holding val.
//
// Values below 2^(k+1) get a bucket each. Above that, with n the position of
// the most significant bit of the upscaled value u:
//
//	bucket = (n-k)<<k + u>>(n-k)
func resolveBucketIndex(val float64) uint32 {
	if val < lowestTrackable {
		return 0
	}

	// upscale to the next integer so fractional values still land in a bucket
	upscaled := uint64(math.Ceil(val))

	if upscaled < 1<<(k+1) {
		return uint32(upscaled)
	}

	nkdiff := uint64(bits.Len64(upscaled>>k)) - 1 //nolint:gosec // msb index

	return uint32((nkdiff << k) + (upscaled >> nkdiff)) //nolint:gosec
}

// bucketUpperBound is the inverse of resolveBucketIndex: the largest upscaled
// value mapped to idx.
func bucketUpperBound(idx uint32) uint64 {
	i := uint64(idx)
	if i < 1<<(k+1) {
		return i
	}
	nkdiff := (i >> k) - 1
	sub := i - (nkdiff << k)
	return ((sub + 1) << nkdiff) - 1
}
