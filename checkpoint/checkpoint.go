// Package checkpoint saves and loads trained models.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/unixpickle/anyspeaker/spknet"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const (
	// ModelFile is the name of the best model artifact.
	ModelFile = "best_model.anynet"

	// LabelsFile is the name of the speaker label map.
	LabelsFile = "speakers.yaml"
)

// Save writes obj to dir/name.
//
// The data is written to a temporary file in dir which is
// then renamed over the target, so readers never observe
// a partially written file.
func Save(dir, name string, obj serializer.Serializer) (err error) {
	defer essentials.AddCtxTo("save "+name, &err)
	data, err := serializer.SerializeWithType(obj)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, name), data)
}

// LoadModel reads a model written by Save.
func LoadModel(path string) (model *spknet.Model, err error) {
	defer essentials.AddCtxTo("load model "+path, &err)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	obj, err := serializer.DeserializeWithType(data)
	if err != nil {
		return nil, err
	}
	model, ok := obj.(*spknet.Model)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", obj)
	}
	return model, nil
}

type labelsDocument struct {
	Speakers []string `yaml:"speakers"`
}

// SaveLabels writes the speaker names, indexed by label,
// to dir/LabelsFile.
func SaveLabels(dir string, speakers []string) (err error) {
	defer essentials.AddCtxTo("save labels", &err)
	data, err := yaml.Marshal(&labelsDocument{Speakers: speakers})
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, LabelsFile), data)
}

// LoadLabels reads a label map written by SaveLabels.
func LoadLabels(path string) (speakers []string, err error) {
	defer essentials.AddCtxTo("load labels "+path, &err)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc labelsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Speakers, nil
}

func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
