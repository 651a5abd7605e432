package spkdata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-audio/wav"
	"github.com/unixpickle/essentials"
)

// Scan lists the speakers and utterances under dir.
//
// Speaker directories without any WAV files are ignored.
func Scan(dir string) (UtteranceList, []string, error) {
	speakers, err := speakerDirs(dir)
	if err != nil {
		return nil, nil, essentials.AddCtx("scan "+dir, err)
	}
	list, err := ScanSpeakers(dir, speakers)
	if err != nil {
		return nil, nil, err
	}
	used := map[string]bool{}
	for _, u := range list {
		used[u.Speaker] = true
	}
	var nonEmpty []string
	for _, s := range speakers {
		if used[s] {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return nil, nil, fmt.Errorf("scan %s: no utterances found", dir)
	}
	if len(nonEmpty) != len(speakers) {
		// Labels must be dense.
		list, err = ScanSpeakers(dir, nonEmpty)
		if err != nil {
			return nil, nil, err
		}
	}
	return list, nonEmpty, nil
}

// ScanSpeakers lists the utterances under dir, labeling
// speakers by their index in the speakers list.
//
// It fails if dir contains utterances from a speaker which
// is not in the list.
func ScanSpeakers(dir string, speakers []string) (UtteranceList, error) {
	labels := map[string]int{}
	for i, s := range speakers {
		labels[s] = i
	}
	found, err := speakerDirs(dir)
	if err != nil {
		return nil, essentials.AddCtx("scan "+dir, err)
	}
	var res UtteranceList
	for _, speaker := range found {
		label, known := labels[speaker]
		root := filepath.Join(dir, speaker)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
				return nil
			}
			if !known {
				return fmt.Errorf("unknown speaker %q", speaker)
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			samples, rate, err := ReadWAVInfo(path)
			if err != nil {
				return err
			}
			res = append(res, &Utterance{
				Path:       path,
				ID:         filepath.ToSlash(rel),
				Speaker:    speaker,
				Label:      label,
				Samples:    samples,
				SampleRate: rate,
			})
			return nil
		})
		if err != nil {
			return nil, essentials.AddCtx("scan "+dir, err)
		}
	}
	return res, nil
}

func speakerDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var res []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			res = append(res, e.Name())
		}
	}
	sort.Strings(res)
	return res, nil
}

// ReadWAVInfo reads the per-channel sample count and the
// sample rate from a WAV header.
func ReadWAVInfo(path string) (samples, sampleRate int, err error) {
	defer essentials.AddCtxTo("read WAV info "+path, &err)
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, 0, errors.New("invalid WAV file")
	}
	if err := d.FwdToPCM(); err != nil {
		return 0, 0, err
	}
	frameBytes := int(d.NumChans) * int(d.BitDepth) / 8
	if frameBytes == 0 {
		return 0, 0, errors.New("invalid WAV format")
	}
	return d.PCMSize / frameBytes, int(d.SampleRate), nil
}
