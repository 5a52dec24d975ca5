/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package pipeline

import (
	"github.com/Juice-Labs/annserver/pkg/task"
)

// Dispatcher spreads jobs over per-device queues a batch at a time. After
// each batch it moves to the device with the fewest pending jobs, scanning
// from the next device in rotation so ties go to rotation order.
type Dispatcher struct {
	jobs      *Queue[Job]
	targets   []*Queue[Job]
	batchSize int

	current  int
	assigned int
}

func NewDispatcher(jobs *Queue[Job], targets []*Queue[Job], batchSize int) *Dispatcher {
	return &Dispatcher{
		jobs:      jobs,
		targets:   targets,
		batchSize: batchSize,
	}
}

// Current reports the device the next job goes to.
func (dispatcher *Dispatcher) Current() int {
	return dispatcher.current
}

func (dispatcher *Dispatcher) leastLoaded() int {
	count := len(dispatcher.targets)

	best := (dispatcher.current + 1) % count
	bestLen := dispatcher.targets[best].Len()
	for step := 2; step <= count; step++ {
		candidate := (dispatcher.current + step) % count
		if length := dispatcher.targets[candidate].Len(); length < bestLen {
			best = candidate
			bestLen = length
		}
	}

	return best
}

// Assign routes one job. A sentinel goes to every device.
func (dispatcher *Dispatcher) Assign(job Job) {
	if job.IsSentinel() {
		for _, target := range dispatcher.targets {
			target.Enqueue(job)
		}
		return
	}

	dispatcher.targets[dispatcher.current].Enqueue(job)

	dispatcher.assigned++
	if dispatcher.assigned == dispatcher.batchSize {
		dispatcher.assigned = 0
		dispatcher.current = dispatcher.leastLoaded()
	}
}

// Run assigns jobs until the sentinel has been forwarded or the group is
// cancelled.
func (dispatcher *Dispatcher) Run(group task.Group) error {
	for {
		job, err := dispatcher.jobs.Dequeue(group.Ctx())
		if err != nil {
			return nil
		}

		dispatcher.Assign(job)

		if job.IsSentinel() {
			return nil
		}
	}
}
