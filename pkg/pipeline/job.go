/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package pipeline

// SentinelTag marks the job or result meaning "no more data".
const SentinelTag int32 = -1

// Job is one client image awaiting processing. Tag is echoed back unmodified
// on its Result.
type Job struct {
	Tag     int32
	Payload []byte
}

func Sentinel() Job {
	return Job{Tag: SentinelTag}
}

func (job Job) IsSentinel() bool {
	return job.Tag == SentinelTag
}

type Result struct {
	Tag   int32
	Label int32

	// Top-K mode only, ordered by descending probability.
	Labels        []int32
	Probabilities []float32
}

func (result Result) IsSentinel() bool {
	return result.Tag == SentinelTag
}
