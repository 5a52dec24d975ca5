/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package registry

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-memdb"
	"lukechampine.com/blake3"

	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/errors"
	"github.com/Juice-Labs/annserver/pkg/logger"
)

type Source string

const (
	SourceConfigured Source = "configured"
	SourceUploaded   Source = "uploaded"

	tableModels = "models"
)

var (
	ErrModelNotFound = errors.NewKind("model", "registry: model not found")
	ErrInvalidName   = errors.NewKind("protocol", "registry: invalid model or file name")
	ErrInvalidModel  = errors.New("registry: invalid model")
)

type Model struct {
	Name     string       `json:"name"`
	Input    compute.Dims `json:"input"`
	Output   compute.Dims `json:"output"`
	Artifact string       `json:"artifact"`
	Source   Source       `json:"source"`
	Digest   string       `json:"digest,omitempty"`

	ReverseChannels bool       `json:"reverseChannels"`
	Multiply        [3]float32 `json:"multiply"`
	Add             [3]float32 `json:"add"`
}

// Matches reports whether the model serves the requested shapes. A request
// with all-zero dims accepts the model's own shape.
func (model Model) Matches(input compute.Dims, output compute.Dims) bool {
	return (input == compute.Dims{} || input == model.Input) &&
		(output == compute.Dims{} || output == model.Output)
}

// Registry is the set of models the server can run, kept in an in-memory
// database so lookups never block on uploads.
type Registry struct {
	db        *memdb.MemDB
	uploadDir string
}

func New(uploadDir string) (*Registry, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableModels: {
				Name: tableModels,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
					"source": {
						Name:    "source",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "Source"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}

	return &Registry{
		db:        db,
		uploadDir: uploadDir,
	}, nil
}

// Add inserts model, replacing any model of the same name.
func (registry *Registry) Add(model Model) error {
	if model.Name == "" || !model.Input.Valid() || !model.Output.Valid() || model.Artifact == "" {
		return ErrInvalidModel.Wrapf("%q %s -> %s", model.Name, model.Input, model.Output)
	}

	txn := registry.db.Txn(true)
	defer txn.Abort()

	err := txn.Insert(tableModels, model)
	if err != nil {
		return err
	}

	txn.Commit()
	return nil
}

func (registry *Registry) Get(name string) (Model, error) {
	txn := registry.db.Txn(false)
	defer txn.Abort()

	object, err := txn.First(tableModels, "id", name)
	if err != nil {
		return Model{}, err
	}
	if object == nil {
		return Model{}, ErrModelNotFound.Wrapf("%q", name)
	}

	return object.(Model), nil
}

// Resolve finds the model named name serving the given shapes whose artifact
// is present on disk.
func (registry *Registry) Resolve(name string, input compute.Dims, output compute.Dims) (Model, bool) {
	model, err := registry.Get(name)
	if err != nil {
		return Model{}, false
	}

	if !model.Matches(input, output) {
		logger.Debugf("model %s is %s -> %s, requested %s -> %s", name, model.Input, model.Output, input, output)
		return Model{}, false
	}

	_, err = os.Stat(model.Artifact)
	if err != nil {
		logger.Warningf("model %s artifact is unavailable, %v", name, err)
		return Model{}, false
	}

	return model, true
}

// Models lists every model ordered by name.
func (registry *Registry) Models() []Model {
	txn := registry.db.Txn(false)
	defer txn.Abort()

	models := []Model{}

	iterator, err := txn.Get(tableModels, "id")
	if err != nil {
		return models
	}

	for object := iterator.Next(); object != nil; object = iterator.Next() {
		models = append(models, object.(Model))
	}

	return models
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// Store writes size bytes from reader as the artifact fileName of a new
// uploaded model and registers it.
func (registry *Registry) Store(name string, input compute.Dims, output compute.Dims, fileName string, reader io.Reader) (Model, error) {
	if !validName(name) || !validName(fileName) {
		return Model{}, ErrInvalidName.Wrapf("%q/%q", name, fileName)
	}
	if !input.Valid() || !output.Valid() {
		return Model{}, ErrInvalidModel.Wrapf("%s -> %s", input, output)
	}

	dir := filepath.Join(registry.uploadDir, name)
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return Model{}, err
	}

	path := filepath.Join(dir, fileName)
	digest, err := writeArtifact(path, reader)
	if err != nil {
		return Model{}, err
	}

	model := Model{
		Name:     name,
		Input:    input,
		Output:   output,
		Artifact: path,
		Source:   SourceUploaded,
		Digest:   digest,
		Multiply: [3]float32{1, 1, 1},
	}

	// Keep the preprocessing of a configured model being replaced.
	previous, err := registry.Get(name)
	if err == nil {
		model.ReverseChannels = previous.ReverseChannels
		model.Multiply = previous.Multiply
		model.Add = previous.Add
	}

	err = registry.Add(model)
	if err != nil {
		return Model{}, err
	}

	logger.Infof("model %s uploaded to %s, blake3 %s", name, path, digest)
	return model, nil
}

func writeArtifact(path string, reader io.Reader) (string, error) {
	temp := path + ".partial"

	file, err := os.Create(temp)
	if err != nil {
		return "", err
	}

	hasher := blake3.New(32, nil)
	_, err = io.Copy(io.MultiWriter(file, hasher), reader)
	err = errors.Join(err, file.Close())
	if err == nil {
		err = os.Rename(temp, path)
	}
	if err != nil {
		os.Remove(temp)
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Digest returns the blake3 digest of the file at path.
func Digest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := blake3.New(32, nil)
	_, err = io.Copy(hasher, file)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
