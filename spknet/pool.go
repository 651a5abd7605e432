package spknet

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// MeanPool averages each sequence in a batch over time.
//
// The result packs one vector per sequence, in the order
// of the Present maps.
// Every sequence must be present at its first timestep
// and be non-empty.
// Timesteps where a sequence is not present are ignored,
// so the mean is taken over the true length only.
func MeanPool(in anyseq.Seq) anydiff.Res {
	steps := in.Output()
	if len(steps) == 0 {
		panic("cannot pool an empty batch")
	}
	n := len(steps[0].Present)
	if steps[0].NumPresent() != n {
		panic("every sequence must be present at the first timestep")
	}
	c := steps[0].Packed.Creator()
	size := steps[0].Packed.Len() / n

	lengths := make([]int, n)
	mappers := make([]anyvec.Mapper, len(steps))
	sum := c.MakeVector(n * size)
	for t, step := range steps {
		table := make([]int, 0, step.NumPresent()*size)
		for i, pres := range step.Present {
			if !pres {
				continue
			}
			lengths[i]++
			for j := 0; j < size; j++ {
				table = append(table, i*size+j)
			}
		}
		if len(table) != step.Packed.Len() {
			panic(fmt.Sprintf("timestep %d: expected %d values but got %d", t,
				len(table), step.Packed.Len()))
		}
		mappers[t] = c.MakeMapper(n*size, table)
		scattered := c.MakeVector(n * size)
		mappers[t].MapTranspose(step.Packed, scattered)
		sum.Add(scattered)
	}

	scales := make([]float64, n*size)
	for i, length := range lengths {
		for j := 0; j < size; j++ {
			scales[i*size+j] = 1 / float64(length)
		}
	}
	scaler := c.MakeVectorData(c.MakeNumericList(scales))
	sum.Mul(scaler)

	return &meanPoolRes{
		In:      in,
		Mappers: mappers,
		Scaler:  scaler,
		OutVec:  sum,
	}
}

type meanPoolRes struct {
	In      anyseq.Seq
	Mappers []anyvec.Mapper
	Scaler  anyvec.Vector
	OutVec  anyvec.Vector
}

func (m *meanPoolRes) Output() anyvec.Vector {
	return m.OutVec
}

func (m *meanPoolRes) Vars() anydiff.VarSet {
	return m.In.Vars()
}

func (m *meanPoolRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if !g.Intersects(m.In.Vars()) {
		return
	}
	u.Mul(m.Scaler)
	steps := m.In.Output()
	down := make([]*anyseq.Batch, len(steps))
	for t, step := range steps {
		packed := u.Creator().MakeVector(step.Packed.Len())
		m.Mappers[t].Map(u, packed)
		down[t] = &anyseq.Batch{Packed: packed, Present: step.Present}
	}
	m.In.Propagate(down, g)
}
