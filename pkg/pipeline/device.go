/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package pipeline

import (
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"

	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/errors"
	"github.com/Juice-Labs/annserver/pkg/task"
)

// devicePipeline is the input, compute and output stages of one device.
type devicePipeline struct {
	device int
	graph  compute.Graph
	config *Config
	logger *zap.SugaredLogger

	jobs *Queue[Job]
	tags *Queue[[]int32]

	inputIdle  *Pool
	inputBusy  *Pool
	outputIdle *Pool
	outputBusy *Pool

	aggregator *Aggregator
}

func newDevicePipeline(device int, graph compute.Graph, config *Config, aggregator *Aggregator, logger *zap.SugaredLogger) *devicePipeline {
	pipeline := &devicePipeline{
		device:     device,
		graph:      graph,
		config:     config,
		logger:     logger.With("device", device),
		jobs:       NewQueue[Job](),
		tags:       NewQueue[[]int32](),
		inputIdle:  NewPool(config.PoolDepth),
		inputBusy:  NewPool(config.PoolDepth),
		outputIdle: NewPool(config.PoolDepth),
		outputBusy: NewPool(config.PoolDepth),
		aggregator: aggregator,
	}

	for i := 0; i < config.PoolDepth; i++ {
		pipeline.inputIdle.Put(&Buffer{Tensor: compute.NewTensor(config.inputDesc())})
		pipeline.outputIdle.Put(&Buffer{Tensor: compute.NewTensor(config.outputDesc())})
	}

	return pipeline
}

func (pipeline *devicePipeline) start(group task.Group) {
	group.GoFn("input", pipeline.runInput)
	group.GoFn("compute", pipeline.runCompute)
	group.GoFn("output", pipeline.runOutput)
}

// runInput fills idle input buffers with decoded jobs. A batch is submitted
// once full, or early when the sentinel arrives.
func (pipeline *devicePipeline) runInput(group task.Group) error {
	ctx := group.Ctx()

	decoders := workerpool.New(pipeline.config.DecodeWorkers)
	defer decoders.Stop()

	for {
		buffer, err := pipeline.inputIdle.Get(ctx)
		if err != nil {
			return nil
		}

		tags := make([]int32, 0, pipeline.config.BatchSize)
		end := false

		var decoding sync.WaitGroup
		for len(tags) < pipeline.config.BatchSize {
			job, err := pipeline.jobs.Dequeue(ctx)
			if err != nil {
				decoding.Wait()
				return nil
			}

			if job.IsSentinel() {
				end = true
				break
			}

			slot := buffer.Tensor.Slot(len(tags))
			tags = append(tags, job.Tag)

			decoding.Add(1)
			decoders.Submit(func() {
				defer decoding.Done()
				pipeline.decode(job, slot)
			})
		}
		decoding.Wait()

		if len(tags) == 0 {
			pipeline.inputIdle.Put(buffer)
		} else {
			buffer.Count = len(tags)
			pipeline.tags.Enqueue(tags)
			pipeline.inputBusy.Put(buffer)
		}

		if end {
			pipeline.inputBusy.Put(nil)
			return nil
		}
	}
}

// decode writes one job into its slot. A payload that cannot be decoded
// leaves the slot zeroed and still yields a result.
func (pipeline *devicePipeline) decode(job Job, slot []float32) {
	err := pipeline.config.Decoder(job.Payload, pipeline.config.Input, slot)
	if err != nil {
		pipeline.logger.Warnf("tag %d: %v", job.Tag, err)

		for i := range slot {
			slot[i] = 0
		}
	}
}

func (pipeline *devicePipeline) runCompute(group task.Group) error {
	ctx := group.Ctx()

	for {
		input, err := pipeline.inputBusy.Get(ctx)
		if err != nil {
			return nil
		}

		if input == nil {
			pipeline.outputBusy.Put(nil)
			return nil
		}

		output, err := pipeline.outputIdle.Get(ctx)
		if err != nil {
			return nil
		}

		start := time.Now()

		err = pipeline.graph.Bind(input.Tensor, output.Tensor)
		if err == nil {
			err = pipeline.graph.Process()
		}
		if err != nil {
			if !errors.Is(err, compute.ErrComputeBackend) {
				err = compute.ErrComputeBackend.Wrap(err)
			}
			return errors.New("pipeline: device ", pipeline.device).Wrap(err)
		}

		if pipeline.config.Observer != nil {
			pipeline.config.Observer.BatchComputed(pipeline.device, input.Count, time.Since(start))
		}

		output.Count = input.Count
		input.Count = 0

		pipeline.inputIdle.Put(input)
		pipeline.outputBusy.Put(output)
	}
}

func (pipeline *devicePipeline) runOutput(group task.Group) error {
	ctx := group.Ctx()

	for {
		output, err := pipeline.outputBusy.Get(ctx)
		if err != nil {
			return nil
		}

		if output == nil {
			pipeline.aggregator.Push(Result{Tag: SentinelTag})
			return nil
		}

		tags, err := pipeline.tags.Dequeue(ctx)
		if err != nil {
			return nil
		}

		for slot, tag := range tags {
			pipeline.aggregator.Push(pipeline.config.result(tag, output.Tensor.Slot(slot)))
		}

		output.Count = 0
		pipeline.outputIdle.Put(output)
	}
}
