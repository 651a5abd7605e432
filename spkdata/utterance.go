// Package spkdata turns directories of speaker recordings
// into batches for a sequence classifier.
//
// A corpus directory contains one sub-directory per
// speaker, each holding WAV files (possibly nested):
//
//	train/
//	  alice/session1/0001.wav
//	  alice/0002.wav
//	  bob/0001.wav
//
// Speakers are labeled by their index in the sorted list
// of speaker directory names.
package spkdata

import (
	"crypto/sha1"

	"github.com/unixpickle/anynet/anysgd"
)

// An Utterance describes one recording on disk.
type Utterance struct {
	// Path is the file's path on disk.
	Path string

	// ID is the file's path relative to the corpus root,
	// using forward slashes.
	ID string

	Speaker string
	Label   int

	// Samples is the number of samples per channel in the
	// file, and SampleRate is the file's native rate.
	Samples    int
	SampleRate int
}

// UtteranceList is an anysgd.Hasher of utterances.
type UtteranceList []*Utterance

// Len returns the number of utterances.
func (u UtteranceList) Len() int {
	return len(u)
}

// Swap swaps two utterances.
func (u UtteranceList) Swap(i, j int) {
	u[i], u[j] = u[j], u[i]
}

// Slice copies a sub-slice of the list.
func (u UtteranceList) Slice(i, j int) anysgd.SampleList {
	return append(UtteranceList{}, u[i:j]...)
}

// Hash hashes the utterance's ID, which does not depend on
// where the corpus is mounted.
func (u UtteranceList) Hash(i int) []byte {
	sum := sha1.Sum([]byte(u[i].ID))
	return sum[:]
}

// Split deterministically partitions the utterances into
// a training and a testing list.
//
// The list is re-ordered in the process.
// The same utterance IDs always land in the same split,
// no matter how the list was ordered.
func Split(u UtteranceList, testRatio float64) (train, test UtteranceList) {
	left, right := anysgd.HashSplit(u, 1-testRatio)
	return left.(UtteranceList), right.(UtteranceList)
}
