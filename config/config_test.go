package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalDoc = `
training:
  seed: 0
  batch_size: 16
  learning_rate: 0.001
  weight_decay: 0
  epochs: 5
  eval_interval: 2
  save_path: ./out
dataset:
  train_dir: ./data
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalDoc))
	require.NoError(t, err)

	require.EqualValues(t, 0, cfg.Training.Seed)
	require.Equal(t, 16, cfg.Training.BatchSize)
	require.Equal(t, 5, cfg.Training.Epochs)
	require.Equal(t, 2, cfg.Training.EvalInterval)
	require.Equal(t, DefaultWorkers, cfg.Training.Workers)
	require.True(t, cfg.Training.Progress)
	require.True(t, cfg.CMVN)

	require.Equal(t, 16000, cfg.Preprocessing.SampleRate)
	require.Equal(t, 40, cfg.Preprocessing.NumMels)
	require.Equal(t, 0.1, cfg.Dataset.TestRatio)
	require.Equal(t, 1, cfg.Dataset.MinFrames)
	require.Equal(t, 128, cfg.Model.HiddenSize)
	require.Equal(t, 2, cfg.Model.NumLayers)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestParseOverrides(t *testing.T) {
	doc := minimalDoc + `
preprocessing:
  sample_rate: 8000
  num_mels: 24
  cmvn: false
model:
  hidden_size: 64
  dropout: 0
  margin: 0.2
logging:
  level: debug
  format: json
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Preprocessing.SampleRate)
	require.Equal(t, 4000.0, cfg.Preprocessing.HighFreq)
	require.Equal(t, 24, cfg.Preprocessing.NumMels)
	require.False(t, cfg.CMVN)
	require.Equal(t, 64, cfg.Model.HiddenSize)
	require.Zero(t, cfg.Model.Dropout)
	require.Equal(t, 0.2, cfg.Model.Margin)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"missing training": "dataset:\n  train_dir: x\n",
		"missing seed":     strings.Replace(minimalDoc, "  seed: 0\n", "", 1),
		"missing decay":    strings.Replace(minimalDoc, "  weight_decay: 0\n", "", 1),
		"zero batch":       strings.Replace(minimalDoc, "batch_size: 16", "batch_size: 0", 1),
		"negative epochs":  strings.Replace(minimalDoc, "epochs: 5", "epochs: -1", 1),
		"unknown key":      minimalDoc + "  bogus: 3\n",
		"bad type":         strings.Replace(minimalDoc, "batch_size: 16", "batch_size: many", 1),
		"fft not pow2":     minimalDoc + "preprocessing:\n  fft_size: 500\n",
		"fft too small":    minimalDoc + "preprocessing:\n  fft_size: 256\n",
		"above nyquist":    minimalDoc + "preprocessing:\n  high_freq: 9000\n",
		"bad dropout":      minimalDoc + "model:\n  dropout: 1\n",
		"bad log level":    minimalDoc + "logging:\n  level: loud\n",
		"missing dir":      strings.Replace(minimalDoc, "  train_dir: ./data\n", "  test_ratio: 0.2\n", 1),
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(minimalDoc), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "./out", cfg.Training.SavePath)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
