/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package pipeline

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/errors"
	"github.com/Juice-Labs/annserver/pkg/imaging"
	"github.com/Juice-Labs/annserver/pkg/logger"
	"github.com/Juice-Labs/annserver/pkg/task"
)

var (
	ErrInvalidConfig = errors.New("pipeline: invalid configuration")
)

// DecoderFn writes the image in payload into dst, a slot of dims.
type DecoderFn = func(payload []byte, dims compute.Dims, dst []float32) error

// BatchObserver is told about every batch a device computes.
type BatchObserver interface {
	BatchComputed(device int, size int, duration time.Duration)
}

type Config struct {
	BatchSize int
	PoolDepth int

	Input  compute.Dims
	Output compute.Dims

	// Results carry the TopK best labels when positive.
	TopK int

	// Defaults to imaging.DecodeInto with Preprocess.
	Decoder    DecoderFn
	Preprocess imaging.Preprocess

	// Decode goroutines per device, defaults to the CPU count.
	DecodeWorkers int

	Observer BatchObserver
	Logger   *zap.SugaredLogger
}

func (config *Config) inputDesc() compute.TensorDesc {
	return compute.TensorDesc{
		Dims:  config.Input,
		Batch: config.BatchSize,
	}
}

func (config *Config) outputDesc() compute.TensorDesc {
	return compute.TensorDesc{
		Dims:  config.Output,
		Batch: config.BatchSize,
		TopK:  config.TopK,
	}
}

// InputDesc and OutputDesc describe the tensors graphs must accept.
func (config Config) InputDesc() compute.TensorDesc {
	return config.inputDesc()
}

func (config Config) OutputDesc() compute.TensorDesc {
	return config.outputDesc()
}

func (config *Config) validate() error {
	if config.BatchSize <= 0 || config.PoolDepth <= 0 {
		return ErrInvalidConfig.Wrapf("batch size %d, pool depth %d", config.BatchSize, config.PoolDepth)
	}
	if !config.Input.Valid() || !config.Output.Valid() {
		return ErrInvalidConfig.Wrapf("dims %s -> %s", config.Input, config.Output)
	}
	if config.TopK < 0 || config.TopK > config.Output.Size() {
		return ErrInvalidConfig.Wrapf("top-%d of %d classes", config.TopK, config.Output.Size())
	}
	return nil
}

// result turns one output slot into the Result for tag.
func (config *Config) result(tag int32, scores []float32) Result {
	if config.TopK <= 0 {
		return Result{
			Tag:   tag,
			Label: ArgMax(scores),
		}
	}

	result := Result{
		Tag:           tag,
		Labels:        make([]int32, config.TopK),
		Probabilities: make([]float32, config.TopK),
	}
	for k := 0; k < config.TopK; k++ {
		result.Labels[k], result.Probabilities[k] = compute.UnpackTopK(scores[k])
	}
	result.Label = result.Labels[0]
	return result
}

// ArgMax returns the index of the largest score, the first on ties.
func ArgMax(scores []float32) int32 {
	best := 0
	for i, score := range scores {
		if score > scores[best] {
			best = i
		}
	}
	return int32(best)
}

// DeviceGraph is a graph created on a leased device.
type DeviceGraph struct {
	Device int
	Graph  compute.Graph
}

// Engine is the processing side of one session: a dispatcher feeding a
// pipeline per device, all reporting to one aggregator.
type Engine struct {
	config Config

	jobs       *Queue[Job]
	dispatcher *Dispatcher
	devices    []*devicePipeline
	aggregator *Aggregator

	inFlight atomic.Int64
}

func NewEngine(config Config, graphs []DeviceGraph) (*Engine, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}
	if len(graphs) == 0 {
		return nil, ErrInvalidConfig.Wrapf("no devices")
	}

	if config.Decoder == nil {
		preprocess := config.Preprocess
		config.Decoder = func(payload []byte, dims compute.Dims, dst []float32) error {
			return imaging.DecodeInto(payload, dims, preprocess, dst)
		}
	}
	if config.DecodeWorkers <= 0 {
		config.DecodeWorkers = runtime.NumCPU()
	}
	if config.Logger == nil {
		config.Logger = logger.With()
	}

	engine := &Engine{
		config:     config,
		jobs:       NewQueue[Job](),
		aggregator: NewAggregator(len(graphs)),
	}

	targets := make([]*Queue[Job], len(graphs))
	for i, graph := range graphs {
		engine.devices = append(engine.devices, newDevicePipeline(graph.Device, graph.Graph, &engine.config, engine.aggregator, config.Logger))
		targets[i] = engine.devices[i].jobs
	}
	engine.dispatcher = NewDispatcher(engine.jobs, targets, config.BatchSize)

	return engine, nil
}

// Start runs the dispatcher and every device stage in group. A compute
// failure cancels group.
func (engine *Engine) Start(group task.Group) {
	group.GoFn("dispatcher", engine.dispatcher.Run)
	for _, device := range engine.devices {
		device.start(group)
	}
}

// Submit queues a job. The sentinel starts the shutdown of every stage.
func (engine *Engine) Submit(job Job) {
	if !job.IsSentinel() {
		engine.inFlight.Add(1)
	}
	engine.jobs.Enqueue(job)
}

// Drain returns up to max completed results. done is reported once every
// device has finished after the sentinel.
func (engine *Engine) Drain(max int) ([]Result, bool) {
	results, done := engine.aggregator.Drain(max)
	engine.inFlight.Add(-int64(len(results)))
	return results, done
}

// InFlight counts submitted jobs whose results have not been drained.
func (engine *Engine) InFlight() int {
	return int(engine.inFlight.Load())
}

func (engine *Engine) Devices() int {
	return len(engine.devices)
}

func (engine *Engine) Config() Config {
	return engine.config
}
