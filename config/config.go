// Package config loads the YAML document that drives a
// training run.
//
// A document looks like this:
//
//	training:
//	  seed: 1337
//	  batch_size: 32
//	  learning_rate: 0.001
//	  weight_decay: 0.0001
//	  epochs: 30
//	  eval_interval: 1
//	  save_path: ./checkpoints
//	dataset:
//	  train_dir: ./data/train
//	  test_ratio: 0.1
//	model:
//	  hidden_size: 128
//	  num_layers: 2
//
// Only the training section and dataset.train_dir are
// required; everything else has defaults.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/unixpickle/anyspeaker/fbank"
	"github.com/unixpickle/anyspeaker/logging"
	"github.com/unixpickle/essentials"
)

// DefaultWorkers is the number of data loading workers
// used when training.workers is unset.
const DefaultWorkers = 2

// Config is a validated configuration document.
//
// A Config should be treated as read-only once loaded.
type Config struct {
	Training      Training
	Preprocessing fbank.Config
	CMVN          bool
	Dataset       Dataset
	Model         Model
	Logging       logging.Config
}

// Training holds the optimization hyperparameters.
type Training struct {
	Seed            int64
	BatchSize       int
	LearningRate    float64
	MinLearningRate float64
	WeightDecay     float64
	Epochs          int
	EvalInterval    int
	SavePath        string
	Workers         int
	Progress        bool
}

// Dataset describes where utterances come from.
type Dataset struct {
	TrainDir  string
	TestDir   string
	TestRatio float64
	MinFrames int
	MaxFrames int
	CacheSize int
}

// Model holds the network hyperparameters.
type Model struct {
	HiddenSize int
	NumLayers  int
	Dropout    float64
	Margin     float64
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load config", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document.
//
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var doc document
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return doc.config(), nil
}

type document struct {
	Training      *trainingDoc     `yaml:"training" validate:"required"`
	Preprocessing preprocessingDoc `yaml:"preprocessing"`
	Dataset       datasetDoc       `yaml:"dataset"`
	Model         modelDoc         `yaml:"model"`
	Logging       logging.Config   `yaml:"logging"`
}

type trainingDoc struct {
	Seed            *int64   `yaml:"seed" validate:"required"`
	BatchSize       int      `yaml:"batch_size" validate:"required,gt=0"`
	LearningRate    float64  `yaml:"learning_rate" validate:"required,gt=0"`
	MinLearningRate float64  `yaml:"min_learning_rate" validate:"gte=0,ltefield=LearningRate"`
	WeightDecay     *float64 `yaml:"weight_decay" validate:"required,gte=0"`
	Epochs          int      `yaml:"epochs" validate:"required,gt=0"`
	EvalInterval    int      `yaml:"eval_interval" validate:"required,gt=0"`
	SavePath        string   `yaml:"save_path" validate:"required"`
	Workers         int      `yaml:"workers" validate:"gte=0"`
	Progress        *bool    `yaml:"progress"`
}

type preprocessingDoc struct {
	SampleRate  int      `yaml:"sample_rate" validate:"gte=0"`
	WindowSize  int      `yaml:"window_size" validate:"gte=0"`
	HopSize     int      `yaml:"hop_size" validate:"gte=0"`
	FFTSize     int      `yaml:"fft_size" validate:"gte=0"`
	NumMels     int      `yaml:"num_mels" validate:"gte=0"`
	LowFreq     float64  `yaml:"low_freq" validate:"gte=0"`
	HighFreq    float64  `yaml:"high_freq" validate:"gte=0"`
	PreEmphasis *float64 `yaml:"pre_emphasis" validate:"omitempty,gte=0,lt=1"`
	CMVN        *bool    `yaml:"cmvn"`
}

type datasetDoc struct {
	TrainDir  string   `yaml:"train_dir" validate:"required"`
	TestDir   string   `yaml:"test_dir"`
	TestRatio *float64 `yaml:"test_ratio" validate:"omitempty,gt=0,lt=1"`
	MinFrames int      `yaml:"min_frames" validate:"gte=0"`
	MaxFrames int      `yaml:"max_frames" validate:"gte=0"`
	CacheSize int      `yaml:"cache_size" validate:"gte=0"`
}

type modelDoc struct {
	HiddenSize int      `yaml:"hidden_size" validate:"gte=0"`
	NumLayers  int      `yaml:"num_layers" validate:"gte=0"`
	Dropout    *float64 `yaml:"dropout" validate:"omitempty,gte=0,lt=1"`
	Margin     float64  `yaml:"margin" validate:"gte=0"`
}

func (d *document) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(d); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	f := d.preprocessing()
	if f.FFTSize&(f.FFTSize-1) != 0 {
		return fmt.Errorf("validate: preprocessing.fft_size %d is not a power of two", f.FFTSize)
	}
	if f.FFTSize < f.WindowSize {
		return fmt.Errorf("validate: preprocessing.fft_size %d is smaller than window_size %d",
			f.FFTSize, f.WindowSize)
	}
	if f.HighFreq > float64(f.SampleRate)/2 {
		return fmt.Errorf("validate: preprocessing.high_freq %g exceeds the Nyquist frequency",
			f.HighFreq)
	}
	if f.LowFreq >= f.HighFreq {
		return fmt.Errorf("validate: preprocessing.low_freq %g must be below high_freq %g",
			f.LowFreq, f.HighFreq)
	}
	if d.Dataset.MaxFrames != 0 && d.Dataset.MaxFrames < d.Dataset.MinFrames {
		return fmt.Errorf("validate: dataset.max_frames %d is below min_frames %d",
			d.Dataset.MaxFrames, d.Dataset.MinFrames)
	}
	return nil
}

func (d *document) preprocessing() fbank.Config {
	p := d.Preprocessing
	res := fbank.DefaultConfig()
	setInt(&res.SampleRate, p.SampleRate)
	setInt(&res.WindowSize, p.WindowSize)
	setInt(&res.HopSize, p.HopSize)
	setInt(&res.FFTSize, p.FFTSize)
	setInt(&res.NumMels, p.NumMels)
	if p.LowFreq != 0 {
		res.LowFreq = p.LowFreq
	}
	if p.HighFreq != 0 {
		res.HighFreq = p.HighFreq
	} else if res.HighFreq > float64(res.SampleRate)/2 {
		res.HighFreq = float64(res.SampleRate) / 2
	}
	if p.PreEmphasis != nil {
		res.PreEmphasis = *p.PreEmphasis
	}
	return res
}

func (d *document) config() *Config {
	t := d.Training
	res := &Config{
		Training: Training{
			Seed:            *t.Seed,
			BatchSize:       t.BatchSize,
			LearningRate:    t.LearningRate,
			MinLearningRate: t.MinLearningRate,
			WeightDecay:     *t.WeightDecay,
			Epochs:          t.Epochs,
			EvalInterval:    t.EvalInterval,
			SavePath:        t.SavePath,
			Workers:         DefaultWorkers,
			Progress:        t.Progress == nil || *t.Progress,
		},
		Preprocessing: d.preprocessing(),
		CMVN:          d.Preprocessing.CMVN == nil || *d.Preprocessing.CMVN,
		Dataset: Dataset{
			TrainDir:  d.Dataset.TrainDir,
			TestDir:   d.Dataset.TestDir,
			TestRatio: 0.1,
			MinFrames: 1,
			MaxFrames: d.Dataset.MaxFrames,
			CacheSize: d.Dataset.CacheSize,
		},
		Model: Model{
			HiddenSize: 128,
			NumLayers:  2,
			Dropout:    0.1,
			Margin:     d.Model.Margin,
		},
		Logging: d.Logging,
	}
	setInt(&res.Training.Workers, t.Workers)
	if d.Dataset.TestRatio != nil {
		res.Dataset.TestRatio = *d.Dataset.TestRatio
	}
	setInt(&res.Dataset.MinFrames, d.Dataset.MinFrames)
	setInt(&res.Model.HiddenSize, d.Model.HiddenSize)
	setInt(&res.Model.NumLayers, d.Model.NumLayers)
	if d.Model.Dropout != nil {
		res.Model.Dropout = *d.Model.Dropout
	}
	res.Logging.ApplyDefaults()
	return res
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
