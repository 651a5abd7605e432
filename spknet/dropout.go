package spknet

import (
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Dropout
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDropout)
}

// Dropout is a dropout layer which draws its masks from
// an explicit random source.
//
// When disabled, it scales its input by KeepProb to
// compute the expected output.
type Dropout struct {
	Enabled bool

	// KeepProb is the probability of keeping an input.
	KeepProb float64

	// Rand is the source for masks.
	// If it is nil, the global source is used.
	Rand *rand.Rand
}

// DeserializeDropout deserializes a Dropout.
// The result is disabled and has no random source.
func DeserializeDropout(d []byte) (*Dropout, error) {
	var keepProb serializer.Float64
	if err := serializer.DeserializeAny(d, &keepProb); err != nil {
		return nil, essentials.AddCtx("deserialize Dropout", err)
	}
	return &Dropout{KeepProb: float64(keepProb)}, nil
}

// Apply applies the layer.
func (d *Dropout) Apply(in anydiff.Res, n int) anydiff.Res {
	c := in.Output().Creator()
	if !d.Enabled {
		if d.KeepProb == 1 {
			return in
		}
		return anydiff.Scale(in, c.MakeNumeric(d.KeepProb))
	}
	mask := c.MakeVector(in.Output().Len())
	anyvec.Rand(mask, anyvec.Uniform, d.Rand)
	anyvec.LessThan(mask, c.MakeNumeric(d.KeepProb))
	return anydiff.Mul(in, anydiff.NewConst(mask))
}

// SerializerType returns the unique ID used to serialize
// a Dropout with the serializer package.
func (d *Dropout) SerializerType() string {
	return "github.com/unixpickle/anyspeaker/spknet.Dropout"
}

// Serialize serializes the Dropout.
func (d *Dropout) Serialize() ([]byte, error) {
	return serializer.SerializeAny(serializer.Float64(d.KeepProb))
}
