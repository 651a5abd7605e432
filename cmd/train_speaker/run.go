package main

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"

	"github.com/rs/zerolog"
	"github.com/unixpickle/anyspeaker/checkpoint"
	"github.com/unixpickle/anyspeaker/config"
	"github.com/unixpickle/anyspeaker/device"
	"github.com/unixpickle/anyspeaker/loader"
	"github.com/unixpickle/anyspeaker/logging"
	"github.com/unixpickle/anyspeaker/optim"
	"github.com/unixpickle/anyspeaker/sampler"
	"github.com/unixpickle/anyspeaker/spkdata"
	"github.com/unixpickle/anyspeaker/spknet"
	"github.com/unixpickle/anyspeaker/train"
	"github.com/unixpickle/essentials"
)

// run performs a full training run.
// Progress bars are written to progress when they are
// enabled in cfg.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger,
	progress io.Writer) (*train.Result, error) {
	tc := cfg.Training
	rng := rand.New(rand.NewSource(tc.Seed))
	backend := device.Select(logging.Component(log, "device"))
	c := backend.Creator()

	dataLog := logging.Component(log, "data")
	trainList, speakers, err := spkdata.Scan(cfg.Dataset.TrainDir)
	if err != nil {
		return nil, err
	}
	var testList spkdata.UtteranceList
	if cfg.Dataset.TestDir != "" {
		testList, err = spkdata.ScanSpeakers(cfg.Dataset.TestDir, speakers)
		if err != nil {
			return nil, err
		}
	} else {
		trainList, testList = spkdata.Split(trainList, cfg.Dataset.TestRatio)
	}
	dataLog.Info().
		Int("speakers", len(speakers)).
		Int("train", len(trainList)).
		Int("test", len(testList)).
		Msg("scanned utterances")

	setConfig := spkdata.DirSetConfig{
		Features:  cfg.Preprocessing,
		CMVN:      cfg.CMVN,
		MinFrames: cfg.Dataset.MinFrames,
		MaxFrames: cfg.Dataset.MaxFrames,
		CacheSize: cfg.Dataset.CacheSize,
	}
	trainSet, err := newSet("train", trainList, setConfig, tc.BatchSize, dataLog)
	if err != nil {
		return nil, err
	}
	if trainSet.Len() == 0 {
		return nil, errors.New("no training utterances left after filtering")
	}
	testSet, err := newSet("test", testList, setConfig, tc.BatchSize, dataLog)
	if err != nil {
		return nil, err
	}

	trainLoader := &loader.Loader{
		Set: trainSet,
		Sampler: &sampler.Length{
			Lengths:   spkdata.Lengths(trainSet),
			BatchSize: tc.BatchSize,
			Shuffle:   true,
			Rand:      rng,
		},
		Creator:    c,
		NumClasses: len(speakers),
		Workers:    tc.Workers,
	}
	var testLoader train.BatchSource
	if testSet.Len() > 0 {
		testLoader = &loader.Loader{
			Set: testSet,
			Sampler: &sampler.Length{
				Lengths:   spkdata.Lengths(testSet),
				BatchSize: tc.BatchSize,
			},
			Creator:    c,
			NumClasses: len(speakers),
			Workers:    tc.Workers,
		}
	} else {
		dataLog.Warn().Msg("no test utterances; evaluation and checkpoints are disabled")
	}

	model := spknet.New(c, rng, spknet.Config{
		InputSize:  cfg.Preprocessing.NumMels,
		HiddenSize: cfg.Model.HiddenSize,
		NumLayers:  cfg.Model.NumLayers,
		NumClasses: len(speakers),
		Dropout:    cfg.Model.Dropout,
		Margin:     cfg.Model.Margin,
	})

	if err := os.MkdirAll(tc.SavePath, 0755); err != nil {
		return nil, essentials.AddCtx("create save path", err)
	}
	if err := checkpoint.SaveLabels(tc.SavePath, speakers); err != nil {
		return nil, err
	}

	trainLog := logging.Component(log, "train")
	trainer := &train.Trainer{
		Model:       model,
		Transformer: &optim.AdamW{WeightDecay: tc.WeightDecay},
		Rater: &optim.Cosine{
			Initial: tc.LearningRate,
			Min:     tc.MinLearningRate,
			Epochs:  tc.Epochs,
		},
		Train:        trainLoader,
		Test:         testLoader,
		Epochs:       tc.Epochs,
		EvalInterval: tc.EvalInterval,
		Save: func(epoch int, accuracy float64) error {
			return checkpoint.Save(tc.SavePath, checkpoint.ModelFile, model)
		},
		Log: trainLog,
	}
	if tc.Progress {
		trainer.Progress = progress
	}

	trainLog.Info().
		Str("backend", backend.Name()).
		Int("parameters", numParams(model)).
		Int("batches", trainLoader.NumBatches()).
		Msg("starting training")
	res, err := trainer.Run(ctx)
	if err != nil {
		return res, err
	}
	trainLog.Info().
		Float64("best_accuracy", res.BestAccuracy).
		Int("saves", res.NumSaves).
		Msg("training complete")
	return res, nil
}

func newSet(name string, list spkdata.UtteranceList, cfg spkdata.DirSetConfig,
	batchSize int, log zerolog.Logger) (*spkdata.DirSet, error) {
	set, dropped, err := spkdata.NewDirSet(list, cfg)
	if err != nil {
		return nil, essentials.AddCtx(name, err)
	}
	if dropped > 0 {
		log.Warn().Str("split", name).Int("dropped", dropped).Msg("dropped short utterances")
	}
	if set.Len() == 0 {
		return set, nil
	}
	lengths := spkdata.Lengths(set)
	summary, err := sampler.Summarize(lengths)
	if err != nil {
		return nil, essentials.AddCtx(name, err)
	}
	batches := (&sampler.Length{Lengths: lengths, BatchSize: batchSize}).Batches()
	log.Info().
		Str("split", name).
		Int("utterances", summary.Count).
		Float64("mean_frames", summary.Mean).
		Float64("median_frames", summary.Median).
		Float64("min_frames", summary.Min).
		Float64("max_frames", summary.Max).
		Float64("p95_frames", summary.P95).
		Float64("padding_ratio", sampler.PaddingRatio(lengths, batches)).
		Msg("frame statistics")
	return set, nil
}

func numParams(m *spknet.Model) int {
	var res int
	for _, p := range m.Parameters() {
		res += p.Vector.Len()
	}
	return res
}
