// Package fbank computes log mel filterbank features from
// PCM audio.
//
// The output of an Extractor is a [frames][mels] matrix
// which is fed, one frame per timestep, into a recurrent
// speaker model.
package fbank

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// logFloor keeps silent frames away from -Inf.
const logFloor = 1e-10

// Config controls filterbank extraction.
type Config struct {
	SampleRate  int
	WindowSize  int
	HopSize     int
	FFTSize     int
	NumMels     int
	LowFreq     float64
	HighFreq    float64
	PreEmphasis float64
}

// DefaultConfig returns a 25ms/10ms, 40-bin configuration
// for 16kHz audio.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     40,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
	}
}

// NumFrames returns the number of frames Extract produces
// for n samples.
func (c Config) NumFrames(n int) int {
	if n < c.WindowSize {
		return 0
	}
	return (n-c.WindowSize)/c.HopSize + 1
}

// An Extractor computes filterbank features.
//
// An Extractor is not safe for concurrent use, since it
// reuses FFT work buffers.
type Extractor struct {
	cfg     Config
	window  []float64
	melBank [][]float64
	fft     *fourier.FFT

	frame  []float64
	coeffs []complex128
}

// New creates an Extractor for the config.
func New(cfg Config) *Extractor {
	return &Extractor{
		cfg:     cfg,
		window:  hammingWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
		fft:     fourier.NewFFT(cfg.FFTSize),
		frame:   make([]float64, cfg.FFTSize),
	}
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract computes log mel features for samples in the
// range [-1, 1].
//
// The result has e.Config().NumFrames(len(pcm)) rows.
func (e *Extractor) Extract(pcm []float32) [][]float32 {
	cfg := e.cfg
	numFrames := cfg.NumFrames(len(pcm))
	if numFrames == 0 {
		return nil
	}
	features := make([][]float32, numFrames)
	power := make([]float64, cfg.FFTSize/2+1)

	for t := range features {
		start := t * cfg.HopSize
		for i := 0; i < cfg.WindowSize; i++ {
			s := float64(pcm[start+i])
			if i > 0 {
				s -= cfg.PreEmphasis * float64(pcm[start+i-1])
			}
			e.frame[i] = s * e.window[i]
		}
		for i := cfg.WindowSize; i < len(e.frame); i++ {
			e.frame[i] = 0
		}

		e.coeffs = e.fft.Coefficients(e.coeffs, e.frame)
		for i, c := range e.coeffs {
			power[i] = real(c)*real(c) + imag(c)*imag(c)
		}

		mel := make([]float32, cfg.NumMels)
		for m, filter := range e.melBank {
			var sum float64
			for k, w := range filter {
				sum += w * power[k]
			}
			mel[m] = float32(math.Log(math.Max(sum, logFloor)))
		}
		features[t] = mel
	}

	return features
}

// CMVN normalizes every mel bin to zero mean and unit
// variance across frames, in place.
func CMVN(features [][]float32) {
	if len(features) == 0 {
		return
	}
	numFrames := float64(len(features))
	for m := range features[0] {
		var sum float64
		for _, f := range features {
			sum += float64(f[m])
		}
		mean := sum / numFrames

		var sqSum float64
		for _, f := range features {
			d := float64(f[m]) - mean
			sqSum += d * d
		}
		std := math.Max(math.Sqrt(sqSum/numFrames), logFloor)

		for _, f := range features {
			f[m] = float32((float64(f[m]) - mean) / std)
		}
	}
}
