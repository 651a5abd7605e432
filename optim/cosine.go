package optim

import "math"

// Cosine is a cosine annealing learning rate schedule.
//
// The rate starts at Initial and decays to Min along half
// a cosine period over Epochs epochs.
type Cosine struct {
	Initial float64
	Min     float64
	Epochs  int
}

// Rate returns the learning rate for an epoch index.
// Epochs past the end of the schedule return Min.
func (c *Cosine) Rate(epoch float64) float64 {
	if c.Epochs <= 0 || epoch >= float64(c.Epochs) {
		return c.Min
	}
	if epoch <= 0 {
		return c.Initial
	}
	frac := epoch / float64(c.Epochs)
	return c.Min + (c.Initial-c.Min)*(1+math.Cos(math.Pi*frac))/2
}
