package spkdata

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// A Batch is a collated mini-batch.
//
// Inputs is time-major: timestep t contains the frames of
// every sequence longer than t, so the Present maps of
// Inputs play the role of a padding mask.
// Lengths[i] is always the number of timesteps at which
// sequence i is present.
type Batch struct {
	Inputs  anyseq.Seq
	Lengths []int
	Labels  []int

	// Targets stores one-hot label vectors, packed one
	// after another.
	Targets *anydiff.Const

	NumClasses int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// Collate packs examples into a Batch.
//
// The batch may not be empty, no example may be empty,
// every frame must have the same width, and all labels
// must be in [0, numClasses).
func Collate(c anyvec.Creator, examples []*Example, numClasses int) (*Batch, error) {
	if len(examples) == 0 {
		return nil, errors.New("collate: empty batch")
	}
	width := -1
	ins := make([][]anyvec.Vector, len(examples))
	lengths := make([]int, len(examples))
	labels := make([]int, len(examples))
	targets := make([]float64, len(examples)*numClasses)
	for i, ex := range examples {
		if len(ex.Frames) == 0 {
			return nil, fmt.Errorf("collate: example %d is empty", i)
		}
		if ex.Label < 0 || ex.Label >= numClasses {
			return nil, fmt.Errorf("collate: label %d out of range [0, %d)", ex.Label, numClasses)
		}
		seq := make([]anyvec.Vector, len(ex.Frames))
		for t, frame := range ex.Frames {
			if width == -1 {
				width = len(frame)
			} else if len(frame) != width {
				return nil, fmt.Errorf("collate: frame width %d, expected %d", len(frame), width)
			}
			seq[t] = c.MakeVectorData(c.MakeNumericList(widen(frame)))
		}
		ins[i] = seq
		lengths[i] = len(seq)
		labels[i] = ex.Label
		targets[i*numClasses+ex.Label] = 1
	}
	return &Batch{
		Inputs:     anyseq.ConstSeqList(c, ins),
		Lengths:    lengths,
		Labels:     labels,
		Targets:    anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(targets))),
		NumClasses: numClasses,
	}, nil
}

func widen(v []float32) []float64 {
	res := make([]float64, len(v))
	for i, x := range v {
		res[i] = float64(x)
	}
	return res
}
