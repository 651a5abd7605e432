package spkdata

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/unixpickle/anyspeaker/fbank"
	"github.com/unixpickle/essentials"
)

// An Example is a featurized utterance.
//
// Frames has one row per timestep, and the length of the
// example is len(Frames).
type Example struct {
	Frames [][]float32
	Label  int
}

// A Set is an indexed collection of examples.
//
// Example may be called concurrently from multiple
// goroutines.
type Set interface {
	Len() int

	// Length returns the number of frames in an example.
	// It may be an estimate, but it should be cheap.
	Length(i int) int

	Example(i int) (*Example, error)
}

// Lengths gathers the lengths of every example in s.
func Lengths(s Set) []int {
	res := make([]int, s.Len())
	for i := range res {
		res[i] = s.Length(i)
	}
	return res
}

// MemSet is a Set whose examples are held in memory.
type MemSet []*Example

// Len returns the number of examples.
func (m MemSet) Len() int {
	return len(m)
}

// Length returns the exact length of an example.
func (m MemSet) Length(i int) int {
	return len(m[i].Frames)
}

// Example returns the example at index i.
func (m MemSet) Example(i int) (*Example, error) {
	return m[i], nil
}

// DirSetConfig controls how a DirSet featurizes audio.
type DirSetConfig struct {
	Features fbank.Config
	CMVN     bool

	// MinFrames drops utterances that are too short.
	// Utterances with no frames are always dropped.
	MinFrames int

	// MaxFrames, if non-zero, center-crops utterances.
	MaxFrames int

	// CacheSize is the number of featurized examples to
	// keep in memory.
	// If it is 0, nothing is cached.
	CacheSize int
}

// DirSet is a Set that reads and featurizes WAV files on
// demand.
type DirSet struct {
	Utterances UtteranceList
	Config     DirSetConfig

	extractors sync.Pool
	cache      *lru.Cache
}

// NewDirSet creates a DirSet from the utterances long
// enough to satisfy cfg.MinFrames.
//
// It returns the number of utterances that were dropped.
func NewDirSet(u UtteranceList, cfg DirSetConfig) (*DirSet, int, error) {
	res := &DirSet{Config: cfg}
	res.extractors.New = func() interface{} {
		return fbank.New(cfg.Features)
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, 0, essentials.AddCtx("create DirSet", err)
		}
		res.cache = cache
	}
	minFrames := cfg.MinFrames
	if minFrames < 1 {
		minFrames = 1
	}
	for _, x := range u {
		if res.estimate(x) >= minFrames {
			res.Utterances = append(res.Utterances, x)
		}
	}
	return res, len(u) - len(res.Utterances), nil
}

// Len returns the number of utterances.
func (d *DirSet) Len() int {
	return len(d.Utterances)
}

// Length estimates the number of frames in an utterance
// from its WAV header.
func (d *DirSet) Length(i int) int {
	n := d.estimate(d.Utterances[i])
	if d.Config.MaxFrames > 0 && n > d.Config.MaxFrames {
		return d.Config.MaxFrames
	}
	return n
}

// Example loads and featurizes an utterance.
func (d *DirSet) Example(i int) (*Example, error) {
	u := d.Utterances[i]
	if d.cache != nil {
		if ex, ok := d.cache.Get(u.ID); ok {
			return ex.(*Example), nil
		}
	}
	pcm, rate, err := ReadWAV(u.Path)
	if err != nil {
		return nil, err
	}
	pcm, err = Resample(pcm, rate, d.Config.Features.SampleRate)
	if err != nil {
		return nil, essentials.AddCtx(u.ID, err)
	}

	e := d.extractors.Get().(*fbank.Extractor)
	frames := e.Extract(pcm)
	d.extractors.Put(e)

	if len(frames) == 0 {
		// Resampling can round the length down past a
		// frame boundary; keep the example usable.
		frames = [][]float32{make([]float32, d.Config.Features.NumMels)}
	}
	if max := d.Config.MaxFrames; max > 0 && len(frames) > max {
		start := (len(frames) - max) / 2
		frames = frames[start : start+max]
	}
	if d.Config.CMVN {
		fbank.CMVN(frames)
	}
	ex := &Example{Frames: frames, Label: u.Label}
	if d.cache != nil {
		d.cache.Add(u.ID, ex)
	}
	return ex, nil
}

func (d *DirSet) estimate(u *Utterance) int {
	n := ResampledLength(u.Samples, u.SampleRate, d.Config.Features.SampleRate)
	return d.Config.Features.NumFrames(n)
}
