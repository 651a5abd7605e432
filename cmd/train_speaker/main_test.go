package main

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anyspeaker/checkpoint"
	"github.com/unixpickle/anyspeaker/config"
)

func writeTone(t *testing.T, path string, freq float64, n int) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(6000 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

// writeDataset creates train and test directories with
// two speakers, each speaking at a distinct pitch.
func writeDataset(t *testing.T) (trainDir, testDir string) {
	root := t.TempDir()
	trainDir = filepath.Join(root, "train")
	testDir = filepath.Join(root, "test")
	for s, freq := range map[string]float64{"alice": 300, "bob": 2500} {
		for i := 0; i < 4; i++ {
			writeTone(t, filepath.Join(trainDir, s, fmt.Sprintf("%d.wav", i)), freq+float64(i*10),
				3000+i*400)
		}
		writeTone(t, filepath.Join(testDir, s, "0.wav"), freq+5, 3600)
	}
	return
}

func writeConfig(t *testing.T, trainDir, testDir, savePath string) string {
	doc := fmt.Sprintf(`training:
  seed: 1337
  batch_size: 3
  learning_rate: 0.01
  weight_decay: 0.0001
  epochs: 2
  eval_interval: 1
  save_path: %q
  progress: true
dataset:
  train_dir: %q
  test_dir: %q
  cache_size: 16
model:
  hidden_size: 4
  num_layers: 1
logging:
  level: debug
  format: json
`, savePath, trainDir, testDir)
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func TestRun(t *testing.T) {
	trainDir, testDir := writeDataset(t)
	savePath := filepath.Join(t.TempDir(), "out")
	cfg, err := config.Load(writeConfig(t, trainDir, testDir, savePath))
	require.NoError(t, err)

	var output bytes.Buffer
	res, err := run(context.Background(), cfg, zerolog.Nop(), &output)
	require.NoError(t, err)
	require.Len(t, res.Epochs, 2)
	for _, stats := range res.Epochs {
		require.True(t, stats.Evaluated)
		require.False(t, math.IsNaN(stats.Loss))
	}

	speakers, err := checkpoint.LoadLabels(filepath.Join(savePath, checkpoint.LabelsFile))
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, speakers)

	require.GreaterOrEqual(t, res.NumSaves, 1)
	require.Greater(t, res.BestAccuracy, 0.0)
	modelPath := filepath.Join(savePath, checkpoint.ModelFile)
	require.FileExists(t, modelPath)
	model, err := checkpoint.LoadModel(modelPath)
	require.NoError(t, err)
	require.Equal(t, 2, model.NumClasses())
}

func TestRunDeterminism(t *testing.T) {
	trainDir, testDir := writeDataset(t)
	var losses []float64
	for i := 0; i < 2; i++ {
		cfg, err := config.Load(writeConfig(t, trainDir, testDir, t.TempDir()))
		require.NoError(t, err)
		cfg.Training.Progress = false
		res, err := run(context.Background(), cfg, zerolog.Nop(), nil)
		require.NoError(t, err)
		losses = append(losses, res.Epochs[0].Loss)
	}
	require.Equal(t, losses[0], losses[1])
}

func TestRunUnknownTestSpeaker(t *testing.T) {
	trainDir, testDir := writeDataset(t)
	writeTone(t, filepath.Join(testDir, "carol", "0.wav"), 1000, 3600)
	cfg, err := config.Load(writeConfig(t, trainDir, testDir, t.TempDir()))
	require.NoError(t, err)
	_, err = run(context.Background(), cfg, zerolog.Nop(), nil)
	require.Error(t, err)
}

func TestCommand(t *testing.T) {
	trainDir, testDir := writeDataset(t)
	savePath := filepath.Join(t.TempDir(), "out")

	cmd := newRootCommand()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetOut(&stderr)
	cmd.SetArgs([]string{"--config", writeConfig(t, trainDir, testDir, savePath)})
	require.NoError(t, cmd.Execute())
	require.Contains(t, stderr.String(), "training complete")
	require.FileExists(t, filepath.Join(savePath, checkpoint.LabelsFile))
}

func TestCommandErrors(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), `"config"`)

	cmd = newRootCommand()
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yml")})
	require.Error(t, cmd.Execute())
}

func TestExampleConfig(t *testing.T) {
	cfg, err := config.Load("example.yml")
	require.NoError(t, err)
	require.Equal(t, 800, cfg.Dataset.MaxFrames)
	require.Equal(t, 0.2, cfg.Model.Margin)
}
