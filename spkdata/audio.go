package spkdata

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
	"github.com/unixpickle/essentials"
)

// ReadWAV decodes a WAV file into mono samples in the
// range [-1, 1], averaging channels.
func ReadWAV(path string) (pcm []float32, sampleRate int, err error) {
	defer essentials.AddCtxTo("read WAV "+path, &err)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, 0, errors.New("invalid WAV file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	bitDepth := int(d.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
	channels := buf.Format.NumChannels
	if channels < 1 {
		return nil, 0, errors.New("no channels")
	}

	// 8-bit WAV samples are unsigned.
	var offset float64
	if bitDepth == 8 {
		offset = 128
	}
	scale := 1 / float64(int64(1)<<uint(bitDepth-1))
	scale /= float64(channels)

	pcm = make([]float32, len(buf.Data)/channels)
	for i := range pcm {
		var sum float64
		for _, x := range buf.Data[i*channels : (i+1)*channels] {
			sum += float64(x) - offset
		}
		pcm[i] = float32(sum * scale)
	}
	return pcm, buf.Format.SampleRate, nil
}

// Resample converts mono audio from one sample rate to
// another.
//
// If the rates are equal, pcm is returned as-is.
func Resample(pcm []float32, from, to int) ([]float32, error) {
	if from == to || len(pcm) == 0 {
		return pcm, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, essentials.AddCtx("resample", err)
	}
	in := make([]float64, len(pcm))
	for i, x := range pcm {
		in[i] = float64(x)
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, essentials.AddCtx("resample", err)
	}
	// The filter stages hold the tail of the signal.
	tail, err := r.Flush()
	if err != nil {
		return nil, essentials.AddCtx("resample", err)
	}
	out = append(out, tail...)
	res := make([]float32, len(out))
	for i, x := range out {
		res[i] = float32(x)
	}
	return res, nil
}

// ResampledLength estimates the number of samples produced
// by resampling n samples.
func ResampledLength(n, from, to int) int {
	if from == to {
		return n
	}
	return int(int64(n) * int64(to) / int64(from))
}
