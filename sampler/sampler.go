// Package sampler groups variable-length examples into
// mini-batches of similar length.
package sampler

import (
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"
)

// A Sampler produces the batches for one pass over a set.
type Sampler interface {
	Batches() [][]int

	// NumBatches returns the number of batches that every
	// call to Batches produces.
	NumBatches() int
}

// Length is a length-aware batch sampler.
//
// Indices are sorted by length and cut into consecutive
// batches, so that examples in a batch need as little
// padding as possible.
// When Shuffle is set, ties are broken randomly and the
// order of the batches is shuffled, giving a fresh order
// on every call.
//
// Every index in [0, len(Lengths)) appears in exactly one
// batch.
// The final batch holds the remainder when BatchSize does
// not divide the number of examples.
type Length struct {
	Lengths   []int
	BatchSize int
	Shuffle   bool

	// Rand is used for shuffling.
	// It must be non-nil if Shuffle is set.
	Rand *rand.Rand
}

// Batches produces the batches for the next pass.
func (l *Length) Batches() [][]int {
	if l.BatchSize <= 0 {
		panic("batch size must be positive")
	}
	indices := make([]int, len(l.Lengths))
	for i := range indices {
		indices[i] = i
	}
	if l.Shuffle {
		l.Rand.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return l.Lengths[indices[i]] < l.Lengths[indices[j]]
	})

	var res [][]int
	for i := 0; i < len(indices); i += l.BatchSize {
		end := i + l.BatchSize
		if end > len(indices) {
			end = len(indices)
		}
		res = append(res, indices[i:end:end])
	}

	if l.Shuffle {
		l.Rand.Shuffle(len(res), func(i, j int) {
			res[i], res[j] = res[j], res[i]
		})
	}
	return res
}

// NumBatches returns the number of batches per pass.
func (l *Length) NumBatches() int {
	if l.BatchSize <= 0 {
		panic("batch size must be positive")
	}
	return (len(l.Lengths) + l.BatchSize - 1) / l.BatchSize
}

// Spread computes, for each batch, the difference between
// its longest and shortest example.
func Spread(lengths []int, batches [][]int) []int {
	res := make([]int, len(batches))
	for i, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		min, max := lengths[batch[0]], lengths[batch[0]]
		for _, idx := range batch[1:] {
			if lengths[idx] < min {
				min = lengths[idx]
			} else if lengths[idx] > max {
				max = lengths[idx]
			}
		}
		res[i] = max - min
	}
	return res
}

// PaddingRatio computes the number of frames a padded
// batch layout would hold, divided by the number of real
// frames.
// A value of 1 means no padding.
func PaddingRatio(lengths []int, batches [][]int) float64 {
	var padded, real int
	for _, batch := range batches {
		var max int
		for _, idx := range batch {
			real += lengths[idx]
			if lengths[idx] > max {
				max = lengths[idx]
			}
		}
		padded += max * len(batch)
	}
	if real == 0 {
		return 1
	}
	return float64(padded) / float64(real)
}

// Summary describes a distribution of example lengths.
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	P95    float64
}

// Summarize computes a Summary of the lengths.
func Summarize(lengths []int) (Summary, error) {
	if len(lengths) == 0 {
		return Summary{}, nil
	}
	data := stats.LoadRawData(lengths)
	res := Summary{Count: len(lengths)}
	var err error
	if res.Mean, err = data.Mean(); err != nil {
		return res, err
	}
	if res.Median, err = data.Median(); err != nil {
		return res, err
	}
	if res.Min, err = data.Min(); err != nil {
		return res, err
	}
	if res.Max, err = data.Max(); err != nil {
		return res, err
	}
	if res.P95, err = data.Percentile(95); err != nil {
		return res, err
	}
	return res, nil
}
