package train

import (
	"context"
	"errors"
	"fmt"

	"github.com/unixpickle/anyspeaker/spkdata"
	"github.com/unixpickle/anyvec"
)

// Evaluate computes the classification accuracy of a
// model over one pass of a data set.
//
// The model is left in evaluation mode.
// Accuracy is the fraction of correctly classified
// examples, so batches of different sizes are weighted
// by their size.
func Evaluate(ctx context.Context, m Model, s BatchSource) (float64, error) {
	m.SetTraining(false)
	var correct, total int
	err := s.Iterate(ctx, func(b *spkdata.Batch) error {
		logits := m.Apply(b.Inputs, b.Lengths, nil)
		c, err := NumCorrect(logits.Output(), b.Labels)
		if err != nil {
			return err
		}
		correct += c
		total += b.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, errors.New("evaluate: empty data set")
	}
	return float64(correct) / float64(total), nil
}

// NumCorrect counts the rows of a packed logit matrix
// whose arg-max is the corresponding label.
func NumCorrect(logits anyvec.Vector, labels []int) (int, error) {
	if len(labels) == 0 || logits.Len()%len(labels) != 0 {
		return 0, fmt.Errorf("%d logits do not divide into %d rows", logits.Len(), len(labels))
	}
	cols := logits.Len() / len(labels)
	values := float64Data(logits)
	var res int
	for i, label := range labels {
		row := values[i*cols : (i+1)*cols]
		best := 0
		for j, x := range row {
			if x > row[best] {
				best = j
			}
		}
		if best == label {
			res++
		}
	}
	return res, nil
}

func float64Data(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic(fmt.Sprintf("unsupported data type: %T", data))
	}
}
