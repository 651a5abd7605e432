package fbank

import "math"

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// hzToMel uses the HTK mel scale.
func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterBank creates numMels triangular filters, each
// with fftSize/2+1 coefficients.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	numBins := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	step := (hzToMel(highFreq) - lowMel) / float64(numMels+1)

	bins := make([]int, numMels+2)
	for i := range bins {
		hz := melToHz(lowMel + float64(i)*step)
		bin := int(math.Round(hz * float64(fftSize) / float64(sampleRate)))
		if bin >= numBins {
			bin = numBins - 1
		}
		bins[i] = bin
	}

	// Every filter needs a non-empty support, even at low
	// frequencies where mel points share an FFT bin.
	for i := 1; i < len(bins); i++ {
		if bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([][]float64, numMels)
	for m := range bank {
		filter := make([]float64, numBins)
		left, center, right := bins[m], bins[m+1], bins[m+2]
		for k := left; k < center && k < numBins; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < numBins; k++ {
			filter[k] = float64(right-k) / float64(right-center)
		}
		bank[m] = filter
	}
	return bank
}
