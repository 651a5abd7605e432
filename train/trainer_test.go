package train

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyspeaker/loader"
	"github.com/unixpickle/anyspeaker/optim"
	"github.com/unixpickle/anyspeaker/sampler"
	"github.com/unixpickle/anyspeaker/spkdata"
	"github.com/unixpickle/anyspeaker/spknet"
	"github.com/unixpickle/anyvec/anyvec64"
)

// scriptedModel is a two-class model.
// In training mode it outputs a learned bias.
// In evaluation mode it predicts class 0 for the first
// Correct[round] examples of the round and class 1 for
// the rest.
type scriptedModel struct {
	Bias    *anydiff.Var
	Correct []int

	training bool
	round    int
	seen     int
}

func newScriptedModel(correct ...int) *scriptedModel {
	c := anyvec64.DefaultCreator{}
	return &scriptedModel{Bias: anydiff.NewVar(c.MakeVector(2)), Correct: correct}
}

func (s *scriptedModel) Parameters() []*anydiff.Var {
	return []*anydiff.Var{s.Bias}
}

func (s *scriptedModel) SetTraining(training bool) {
	if !training {
		s.round++
		s.seen = 0
	}
	s.training = training
}

func (s *scriptedModel) Apply(seq anyseq.Seq, lengths, labels []int) anydiff.Res {
	c := s.Bias.Vector.Creator()
	n := len(lengths)
	if s.training {
		return anydiff.AddRepeated(anydiff.NewConst(c.MakeVector(n*2)), s.Bias)
	}
	values := make([]float64, n*2)
	for i := 0; i < n; i++ {
		if s.seen < s.Correct[s.round-1] {
			values[i*2] = 1
		} else {
			values[i*2+1] = 1
		}
		s.seen++
	}
	return anydiff.NewConst(c.MakeVectorData(values))
}

type memSource []*spkdata.Batch

func (m memSource) NumBatches() int {
	return len(m)
}

func (m memSource) Iterate(ctx context.Context, f func(b *spkdata.Batch) error) error {
	for _, b := range m {
		if err := f(b); err != nil {
			return err
		}
	}
	return nil
}

// zeroLabelSource creates batches of the given sizes in
// which every example has label 0.
func zeroLabelSource(t *testing.T, sizes ...int) memSource {
	var res memSource
	for _, size := range sizes {
		var examples []*spkdata.Example
		for i := 0; i < size; i++ {
			examples = append(examples, &spkdata.Example{Frames: [][]float32{{1, 2}}})
		}
		b, err := spkdata.Collate(anyvec64.DefaultCreator{}, examples, 2)
		require.NoError(t, err)
		res = append(res, b)
	}
	return res
}

type recordingRater struct {
	Epochs []float64
}

func (r *recordingRater) Rate(epoch float64) float64 {
	r.Epochs = append(r.Epochs, epoch)
	return 0.1
}

func TestTrainerCheckpoints(t *testing.T) {
	// Accuracies 0.70, 0.65, 0.80, 0.80, 0.75.
	model := newScriptedModel(14, 13, 16, 16, 15)
	var saves []int
	trainer := &Trainer{
		Model:        model,
		Rater:        anysgd.ConstRater(0.1),
		Train:        zeroLabelSource(t, 4, 4),
		Test:         zeroLabelSource(t, 7, 13),
		Epochs:       5,
		EvalInterval: 1,
		Save: func(epoch int, acc float64) error {
			saves = append(saves, epoch)
			return nil
		},
		Log: zerolog.Nop(),
	}
	res, err := trainer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, saves)
	require.Equal(t, 2, res.NumSaves)
	require.InDelta(t, 0.8, res.BestAccuracy, 1e-12)

	expected := []float64{0.70, 0.65, 0.80, 0.80, 0.75}
	require.Len(t, res.Epochs, 5)
	for i, stats := range res.Epochs {
		require.True(t, stats.Evaluated)
		require.InDelta(t, expected[i], stats.Accuracy, 1e-12)
		require.Equal(t, i == 0 || i == 2, stats.Saved)
	}
}

func TestEvaluate(t *testing.T) {
	source := zeroLabelSource(t, 3, 5)
	acc, err := Evaluate(context.Background(), newScriptedModel(8), source)
	require.NoError(t, err)
	require.Equal(t, 1.0, acc)

	acc, err = Evaluate(context.Background(), newScriptedModel(4), source)
	require.NoError(t, err)
	require.Equal(t, 0.5, acc)

	_, err = Evaluate(context.Background(), newScriptedModel(0), memSource{})
	require.Error(t, err)
}

func TestNumCorrect(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	logits := c.MakeVectorData([]float64{
		0.1, 0.5, 0.2,
		3, -1, 2,
		0, 0, 1,
	})
	n, err := NumCorrect(logits, []int{1, 2, 2})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = NumCorrect(logits, []int{1, 2})
	require.Error(t, err)
}

func TestTrainerSchedule(t *testing.T) {
	rater := &recordingRater{}
	var saves int
	trainer := &Trainer{
		Model:        newScriptedModel(1, 2),
		Rater:        rater,
		Train:        zeroLabelSource(t, 2),
		Test:         zeroLabelSource(t, 2),
		Epochs:       5,
		EvalInterval: 2,
		Save: func(epoch int, acc float64) error {
			saves++
			return nil
		},
		Log: zerolog.Nop(),
	}
	res, err := trainer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 2, 3, 4}, rater.Epochs)
	require.Equal(t, 2, saves)
	for i, stats := range res.Epochs {
		require.Equal(t, i == 1 || i == 3, stats.Evaluated, "epoch %d", i)
		require.Equal(t, 0.1, stats.LearningRate)
	}
}

func TestTrainerLoss(t *testing.T) {
	model := newScriptedModel()
	trainer := &Trainer{
		Model:        model,
		Rater:        anysgd.ConstRater(0),
		Train:        zeroLabelSource(t, 3, 1, 4),
		Epochs:       1,
		EvalInterval: 1,
		Log:          zerolog.Nop(),
	}
	res, err := trainer.Run(context.Background())
	require.NoError(t, err)
	require.InDelta(t, math.Log(2), res.Epochs[0].Loss, 1e-8)

	trainer.Rater = anysgd.ConstRater(1)
	trainer.Epochs = 3
	trainer.Progress = &bytes.Buffer{}
	res, err = trainer.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Epochs, 3)
	for i := 1; i < 3; i++ {
		require.Less(t, res.Epochs[i].Loss, res.Epochs[i-1].Loss)
	}
	bias := model.Bias.Vector.Data().([]float64)
	require.Greater(t, bias[0], bias[1])
}

func TestTrainerErrors(t *testing.T) {
	trainer := &Trainer{
		Model:        newScriptedModel(1),
		Rater:        anysgd.ConstRater(0.1),
		Train:        memSource{},
		Epochs:       1,
		EvalInterval: 1,
		Log:          zerolog.Nop(),
	}
	_, err := trainer.Run(context.Background())
	require.Error(t, err)

	trainer.Epochs = 0
	_, err = trainer.Run(context.Background())
	require.Error(t, err)
}

func syntheticSet(r *rand.Rand, n, width, classes int) spkdata.MemSet {
	var res spkdata.MemSet
	for i := 0; i < n; i++ {
		label := i % classes
		frames := make([][]float32, 2+r.Intn(6))
		for t := range frames {
			frames[t] = make([]float32, width)
			for j := range frames[t] {
				frames[t][j] = float32(r.NormFloat64()) + float32(label*j)
			}
		}
		res = append(res, &spkdata.Example{Frames: frames, Label: label})
	}
	return res
}

func TestTrainerDeterminism(t *testing.T) {
	set := syntheticSet(rand.New(rand.NewSource(42)), 24, 3, 3)
	c := anyvec64.DefaultCreator{}
	run := func(seed int64) float64 {
		rng := rand.New(rand.NewSource(seed))
		model := spknet.New(c, rng, spknet.Config{
			InputSize:  3,
			HiddenSize: 4,
			NumLayers:  2,
			NumClasses: 3,
			Dropout:    0.2,
		})
		trainer := &Trainer{
			Model:       model,
			Transformer: &optim.AdamW{WeightDecay: 0.01},
			Rater:       &optim.Cosine{Initial: 0.01, Epochs: 1},
			Train: &loader.Loader{
				Set: set,
				Sampler: &sampler.Length{
					Lengths:   spkdata.Lengths(set),
					BatchSize: 5,
					Shuffle:   true,
					Rand:      rng,
				},
				Creator:    c,
				NumClasses: 3,
				Workers:    2,
			},
			Epochs:       1,
			EvalInterval: 1,
			Log:          zerolog.Nop(),
		}
		res, err := trainer.Run(context.Background())
		require.NoError(t, err)
		return res.Epochs[0].Loss
	}
	first := run(1337)
	require.Equal(t, first, run(1337))
	require.NotEqual(t, first, run(7))
}
