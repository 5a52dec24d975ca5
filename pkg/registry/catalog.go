/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package registry

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/errors"
)

// Catalog is the YAML document listing the configured models:
//
//	models:
//	  - name: resnet50
//	    input: {w: 224, h: 224, c: 3}
//	    output: {w: 1000, h: 1, c: 1}
//	    artifact: resnet50/graph.bin
//	    preprocess:
//	      reverse_channels: true
//	      multiply: [0.017, 0.017, 0.017]
//	      add: [-2.1, -2.0, -1.8]
//
// Relative artifact paths are taken from the catalog's directory.
type Catalog struct {
	Models []CatalogEntry `yaml:"models"`
}

type CatalogEntry struct {
	Name       string       `yaml:"name"`
	Input      compute.Dims `yaml:"input"`
	Output     compute.Dims `yaml:"output"`
	Artifact   string       `yaml:"artifact"`
	Preprocess *Preprocess  `yaml:"preprocess,omitempty"`
}

type Preprocess struct {
	ReverseChannels bool       `yaml:"reverse_channels"`
	Multiply        [3]float32 `yaml:"multiply"`
	Add             [3]float32 `yaml:"add"`
}

func ParseCatalog(data []byte) (Catalog, error) {
	var catalog Catalog
	err := yaml.Unmarshal(data, &catalog)
	return catalog, err
}

// LoadCatalog adds every model listed in the catalog at path.
func (registry *Registry) LoadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	catalog, err := ParseCatalog(data)
	if err != nil {
		return errors.New("registry: invalid catalog ", path).Wrap(err)
	}

	base := filepath.Dir(path)
	for _, entry := range catalog.Models {
		model := Model{
			Name:     entry.Name,
			Input:    entry.Input,
			Output:   entry.Output,
			Artifact: entry.Artifact,
			Source:   SourceConfigured,
			Multiply: [3]float32{1, 1, 1},
		}

		if model.Artifact != "" && !filepath.IsAbs(model.Artifact) {
			model.Artifact = filepath.Join(base, model.Artifact)
		}

		if entry.Preprocess != nil {
			model.ReverseChannels = entry.Preprocess.ReverseChannels
			model.Multiply = entry.Preprocess.Multiply
			model.Add = entry.Preprocess.Add
		}

		err = registry.Add(model)
		if err != nil {
			return err
		}
	}

	return nil
}
