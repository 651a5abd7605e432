// Package spknet implements a recurrent speaker
// classifier.
package spknet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const lstmRememberBias = 1

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// Config describes the shape of a Model.
type Config struct {
	InputSize  int
	HiddenSize int
	NumLayers  int
	NumClasses int

	// Dropout is the probability of dropping a pooled
	// activation during training.
	Dropout float64

	// Margin is subtracted from the logit of the true
	// class during training.
	Margin float64
}

// A Model maps a batch of feature sequences to one row of
// class logits per sequence.
//
// The sequences are fed through a stack of LSTMs, the
// outputs of the last LSTM are averaged over each
// sequence's true length, and a fully-connected layer
// produces the logits.
type Model struct {
	Layers  []*anyrnn.LSTM
	Dropout *Dropout
	Head    *anynet.FC
	Margin  float64
}

// New creates a randomly initialized Model.
//
// All initial weights and dropout masks are drawn from
// rng, so two models built from identically seeded
// sources behave identically.
func New(c anyvec.Creator, rng *rand.Rand, cfg Config) *Model {
	if cfg.NumLayers < 1 {
		panic("model needs at least one layer")
	}
	res := &Model{
		Dropout: &Dropout{KeepProb: 1 - cfg.Dropout, Rand: rng},
		Margin:  cfg.Margin,
	}
	inSize := cfg.InputSize
	for i := 0; i < cfg.NumLayers; i++ {
		res.Layers = append(res.Layers, newLSTM(c, rng, inSize, cfg.HiddenSize))
		inSize = cfg.HiddenSize
	}
	res.Head = anynet.NewFCZero(c, cfg.HiddenSize, cfg.NumClasses)
	randomize(res.Head.Weights.Vector, rng, cfg.HiddenSize)
	return res
}

func newLSTM(c anyvec.Creator, rng *rand.Rand, in, state int) *anyrnn.LSTM {
	res := anyrnn.NewLSTMZero(c, in, state)
	for _, g := range []*anyrnn.LSTMGate{res.InValue, res.In, res.Remember, res.Output} {
		randomize(g.InputWeights.Vector, rng, in)
		randomize(g.StateWeights.Vector, rng, state)
	}
	res.Remember.Biases.Vector.AddScalar(c.MakeNumeric(lstmRememberBias))
	return res
}

// randomize fills v with normal values of variance 1/fanIn.
func randomize(v anyvec.Vector, rng *rand.Rand, fanIn int) {
	anyvec.Rand(v, anyvec.Normal, rng)
	v.Scale(v.Creator().MakeNumeric(1 / math.Sqrt(float64(fanIn))))
}

// DeserializeModel deserializes a Model.
func DeserializeModel(d []byte) (*Model, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	if len(slice) < 4 {
		return nil, errors.New("deserialize Model: missing fields")
	}
	margin, ok1 := slice[0].(serializer.Float64)
	dropout, ok2 := slice[1].(*Dropout)
	head, ok3 := slice[2].(*anynet.FC)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("deserialize Model: unexpected field types")
	}
	res := &Model{Dropout: dropout, Head: head, Margin: float64(margin)}
	for _, x := range slice[3:] {
		layer, ok := x.(*anyrnn.LSTM)
		if !ok {
			return nil, fmt.Errorf("deserialize Model: not an LSTM: %T", x)
		}
		res.Layers = append(res.Layers, layer)
	}
	return res, nil
}

// NumClasses returns the number of output classes.
func (m *Model) NumClasses() int {
	return m.Head.OutCount
}

// SetTraining toggles training mode, which enables
// dropout.
func (m *Model) SetTraining(training bool) {
	m.Dropout.Enabled = training
}

// Apply computes the logits for a batch.
//
// The lengths give the number of timesteps of each
// sequence and must agree with the Present maps of seq.
// If labels is non-nil and the model has a margin, the
// margin is subtracted from each true-class logit.
// Labels should only be passed during training.
func (m *Model) Apply(seq anyseq.Seq, lengths, labels []int) anydiff.Res {
	checkLengths(seq, lengths)
	for _, layer := range m.Layers {
		seq = anyrnn.Map(seq, layer)
	}
	n := len(lengths)
	pooled := m.Dropout.Apply(MeanPool(seq), n)
	logits := m.Head.Apply(pooled, n)
	if labels == nil || m.Margin == 0 {
		return logits
	}
	if len(labels) != n {
		panic(fmt.Sprintf("expected %d labels but got %d", n, len(labels)))
	}
	numClasses := m.NumClasses()
	offsets := make([]float64, n*numClasses)
	for i, label := range labels {
		offsets[i*numClasses+label] = -m.Margin
	}
	c := logits.Output().Creator()
	return anydiff.Add(logits, anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(offsets))))
}

func checkLengths(seq anyseq.Seq, lengths []int) {
	steps := seq.Output()
	if len(steps) == 0 || len(steps[0].Present) != len(lengths) {
		panic("lengths do not match batch size")
	}
	counts := make([]int, len(lengths))
	for _, step := range steps {
		for i, pres := range step.Present {
			if pres {
				counts[i]++
			}
		}
	}
	for i, count := range counts {
		if count != lengths[i] {
			panic(fmt.Sprintf("sequence %d: length %d but present for %d steps", i,
				lengths[i], count))
		}
	}
}

// Parameters returns the parameters of the model, from
// the first LSTM to the head.
func (m *Model) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, layer := range m.Layers {
		res = append(res, layer.Parameters()...)
	}
	return append(res, m.Head.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/unixpickle/anyspeaker/spknet.Model"
}

// Serialize serializes the Model.
func (m *Model) Serialize() ([]byte, error) {
	fields := []serializer.Serializer{serializer.Float64(m.Margin), m.Dropout, m.Head}
	for _, layer := range m.Layers {
		fields = append(fields, layer)
	}
	return serializer.SerializeSlice(fields)
}
