/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package pipeline

import (
	"sync"
)

// Aggregator merges results from every device into one delivery queue. The
// terminal sentinel is queued only once every device has sent its own.
type Aggregator struct {
	results *Queue[Result]

	mutex    sync.Mutex
	devices  int
	finished int
	done     bool
}

func NewAggregator(devices int) *Aggregator {
	return &Aggregator{
		results: NewQueue[Result](),
		devices: devices,
	}
}

func (aggregator *Aggregator) Push(result Result) {
	if !result.IsSentinel() {
		aggregator.results.Enqueue(result)
		return
	}

	aggregator.mutex.Lock()
	defer aggregator.mutex.Unlock()

	aggregator.finished++
	if aggregator.finished == aggregator.devices {
		aggregator.results.Enqueue(result)
	}
}

// Drain pops up to max results without blocking. done is reported once the
// terminal sentinel has been consumed, after which nothing more arrives.
func (aggregator *Aggregator) Drain(max int) ([]Result, bool) {
	aggregator.mutex.Lock()
	defer aggregator.mutex.Unlock()

	if aggregator.done {
		return nil, true
	}

	var results []Result
	for len(results) < max {
		result, ok := aggregator.results.TryDequeue()
		if !ok {
			break
		}

		if result.IsSentinel() {
			aggregator.done = true
			break
		}

		results = append(results, result)
	}

	return results, aggregator.done
}

// Pending reports results queued but not drained.
func (aggregator *Aggregator) Pending() int {
	return aggregator.results.Len()
}
