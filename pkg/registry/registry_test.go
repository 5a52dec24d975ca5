/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package registry

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/errors"
)

const catalog = `
models:
  - name: resnet50
    input: {w: 224, h: 224, c: 3}
    output: {w: 1000, h: 1, c: 1}
    artifact: resnet50.bin
    preprocess:
      reverse_channels: true
      multiply: [0.5, 0.5, 0.5]
      add: [-1, -1, -1]
  - name: missing
    input: {w: 32, h: 32, c: 3}
    output: {w: 10, h: 1, c: 1}
    artifact: missing.bin
`

var (
	imageNet = compute.Dims{W: 224, H: 224, C: 3}
	classes  = compute.Dims{W: 1000, H: 1, C: 1}
)

func newCatalogRegistry(t *testing.T) *Registry {
	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, "resnet50.bin"), []byte("graph"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "models.yaml")
	err = os.WriteFile(path, []byte(catalog), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	registry, err := New(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}

	err = registry.LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}

	return registry
}

func TestResolve(t *testing.T) {
	registry := newCatalogRegistry(t)

	model, ok := registry.Resolve("resnet50", imageNet, classes)
	if !ok {
		t.Fatal("expected resnet50 to resolve")
	}
	if !model.ReverseChannels || model.Multiply[0] != 0.5 || model.Add[2] != -1 {
		t.Errorf("unexpected preprocessing %+v", model)
	}
	if model.Source != SourceConfigured {
		t.Errorf("expected source %s, got %s", SourceConfigured, model.Source)
	}

	_, ok = registry.Resolve("resnet50", compute.Dims{}, compute.Dims{})
	if !ok {
		t.Error("zero dims must accept the model's shape")
	}

	_, ok = registry.Resolve("resnet50", compute.Dims{W: 227, H: 227, C: 3}, classes)
	if ok {
		t.Error("a shape mismatch must not resolve")
	}

	_, ok = registry.Resolve("missing", compute.Dims{}, compute.Dims{})
	if ok {
		t.Error("a model without its artifact must not resolve")
	}

	_, ok = registry.Resolve("unknown", imageNet, classes)
	if ok {
		t.Error("an unknown model must not resolve")
	}

	_, err := registry.Get("unknown")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected %v, got %v", ErrModelNotFound, err)
	}
}

func TestModelsAreOrdered(t *testing.T) {
	registry := newCatalogRegistry(t)

	models := registry.Models()
	if len(models) != 2 || models[0].Name != "missing" || models[1].Name != "resnet50" {
		t.Errorf("unexpected models %v", models)
	}
}

func TestStore(t *testing.T) {
	registry := newCatalogRegistry(t)

	artifact := bytes.Repeat([]byte("weights"), 1000)

	model, err := registry.Store("resnet50", imageNet, classes, "graph.bin", bytes.NewReader(artifact))
	if err != nil {
		t.Fatal(err)
	}

	if model.Source != SourceUploaded {
		t.Errorf("expected source %s, got %s", SourceUploaded, model.Source)
	}
	if !model.ReverseChannels {
		t.Error("an upload must keep the preprocessing of the model it replaces")
	}

	digest, err := Digest(model.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	if digest != model.Digest || len(digest) != 64 {
		t.Errorf("expected digest %s, got %s", digest, model.Digest)
	}

	resolved, ok := registry.Resolve("resnet50", imageNet, classes)
	if !ok || resolved.Artifact != model.Artifact {
		t.Errorf("expected the upload to resolve, got %+v", resolved)
	}
}

func TestStoreRejectsPaths(t *testing.T) {
	registry := newCatalogRegistry(t)

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		_, err := registry.Store(name, imageNet, classes, "graph.bin", bytes.NewReader(nil))
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("model %q: expected %v, got %v", name, ErrInvalidName, err)
		}

		_, err = registry.Store("model", imageNet, classes, name, bytes.NewReader(nil))
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("file %q: expected %v, got %v", name, ErrInvalidName, err)
		}
	}
}
