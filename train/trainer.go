// Package train implements the supervised training loop
// for speaker classifiers.
package train

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyspeaker/spkdata"
	"github.com/unixpickle/anyvec"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// A Model is a classifier that can be trained.
type Model interface {
	anynet.Parameterizer

	// Apply produces one row of logits per sequence.
	// Labels are passed in training mode only.
	Apply(seq anyseq.Seq, lengths, labels []int) anydiff.Res

	SetTraining(training bool)
}

// A BatchSource performs passes over a data set.
//
// It is implemented by *loader.Loader.
type BatchSource interface {
	NumBatches() int
	Iterate(ctx context.Context, f func(b *spkdata.Batch) error) error
}

// EpochStats describes one epoch of training.
type EpochStats struct {
	Epoch        int
	LearningRate float64
	Loss         float64

	// Evaluated is set if the epoch ended with an
	// evaluation, in which case Accuracy is valid.
	Evaluated bool
	Accuracy  float64

	// Saved is set if the evaluation improved on every
	// previous one and the model was saved.
	Saved bool
}

// Result summarizes a training run.
type Result struct {
	Epochs []EpochStats

	// BestAccuracy is the best evaluation accuracy, or 0
	// if the model was never evaluated.
	BestAccuracy float64

	NumSaves int
}

// A Trainer runs the epoch loop.
//
// Each epoch makes one pass over Train, taking one
// optimizer step per batch.
// Every EvalInterval epochs, the model is evaluated on
// Test, and Save is called if the accuracy is strictly
// better than every previous accuracy.
type Trainer struct {
	Model       Model
	Transformer anysgd.Transformer

	// Rater gives the learning rate for each epoch index.
	// It is queried once per epoch, whether or not the
	// epoch ends with an evaluation.
	Rater anysgd.Rater

	Train BatchSource

	// Test may be nil, in which case no evaluation is
	// performed and Save is never called.
	Test BatchSource

	Epochs       int
	EvalInterval int

	// Save is called with the epoch index and accuracy
	// whenever the model improves.
	Save func(epoch int, accuracy float64) error

	Log zerolog.Logger

	// Progress, if non-nil, receives a progress bar for
	// each training epoch.
	Progress io.Writer
}

// Run trains the model for t.Epochs epochs.
//
// Any error stops training, in which case the returned
// Result covers the epochs that completed.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	if t.Epochs <= 0 {
		return nil, fmt.Errorf("train: invalid epoch count %d", t.Epochs)
	}
	if t.EvalInterval <= 0 {
		return nil, fmt.Errorf("train: invalid eval interval %d", t.EvalInterval)
	}

	var progress *mpb.Progress
	if t.Progress != nil {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(t.Progress))
		defer progress.Wait()
	}

	res := &Result{}
	for epoch := 0; epoch < t.Epochs; epoch++ {
		stats := EpochStats{
			Epoch:        epoch,
			LearningRate: t.Rater.Rate(float64(epoch)),
		}

		loss, err := t.trainEpoch(ctx, epoch, stats.LearningRate, progress)
		if err != nil {
			return res, fmt.Errorf("train: epoch %d: %w", epoch+1, err)
		}
		stats.Loss = loss
		t.Log.Info().
			Int("epoch", epoch+1).
			Float64("lr", stats.LearningRate).
			Float64("loss", loss).
			Msg("training epoch complete")

		if t.Test != nil && (epoch+1)%t.EvalInterval == 0 {
			acc, err := Evaluate(ctx, t.Model, t.Test)
			if err != nil {
				return res, fmt.Errorf("train: evaluate epoch %d: %w", epoch+1, err)
			}
			stats.Evaluated = true
			stats.Accuracy = acc
			t.Log.Info().Int("epoch", epoch+1).Float64("accuracy", acc).Msg("validation")

			if acc > res.BestAccuracy {
				res.BestAccuracy = acc
				if t.Save != nil {
					if err := t.Save(epoch, acc); err != nil {
						return res, fmt.Errorf("train: save epoch %d: %w", epoch+1, err)
					}
				}
				res.NumSaves++
				stats.Saved = true
				t.Log.Info().Int("epoch", epoch+1).Float64("accuracy", acc).Msg("saved best model")
			}
		}
		res.Epochs = append(res.Epochs, stats)
	}
	return res, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, epoch int, rate float64,
	progress *mpb.Progress) (float64, error) {
	t.Model.SetTraining(true)
	params := t.Model.Parameters()

	total := t.Train.NumBatches()
	var bar *mpb.Bar
	if progress != nil {
		bar = progress.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("epoch %d: ", epoch+1)),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
			),
		)
	}

	var lossSum float64
	var numBatches int
	err := t.Train.Iterate(ctx, func(b *spkdata.Batch) error {
		lossSum += t.step(b, params, rate)
		numBatches++
		if bar != nil {
			bar.Increment()
		}
		return nil
	})
	if bar != nil && (err != nil || numBatches != total) {
		bar.Abort(false)
	}
	if err != nil {
		return 0, err
	}
	if numBatches == 0 {
		return 0, fmt.Errorf("no training batches")
	}
	return lossSum / float64(numBatches), nil
}

// step performs one optimizer step and returns the loss
// of the batch before the step.
func (t *Trainer) step(b *spkdata.Batch, params []*anydiff.Var, rate float64) float64 {
	logits := t.Model.Apply(b.Inputs, b.Lengths, b.Labels)
	cost := Loss(logits, b.Targets, b.Size())
	c := cost.Output().Creator()

	grad := anydiff.NewGrad(params...)
	upstream := c.MakeVector(1)
	upstream.AddScalar(c.MakeNumeric(1))
	cost.Propagate(upstream, grad)

	if t.Transformer != nil {
		grad = t.Transformer.Transform(grad)
	}
	grad.Scale(c.MakeNumeric(-rate))
	grad.AddToVars()

	return numericValue(anyvec.Sum(cost.Output()))
}

// Loss computes the cross-entropy loss of a batch of
// logits, averaged over the n examples.
// The targets are packed one-hot vectors.
func Loss(logits, targets anydiff.Res, n int) anydiff.Res {
	logProbs := anynet.LogSoftmax.Apply(logits, n)
	costs := anynet.DotCost{}.Cost(targets, logProbs, n)
	c := costs.Output().Creator()
	return anydiff.Scale(anydiff.Sum(costs), c.MakeNumeric(1/float64(n)))
}

func numericValue(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", n))
	}
}
