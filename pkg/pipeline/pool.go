/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package pipeline

import (
	"context"

	"github.com/Juice-Labs/annserver/pkg/compute"
)

// Buffer is one batch worth of tensor memory. It belongs to exactly one pool
// at a time, or to the stage that drew it.
type Buffer struct {
	Tensor *compute.Tensor

	// Slots filled by the input stage.
	Count int
}

// Pool holds buffers in one state. A nil buffer is the sentinel. Pools have
// room for every buffer of their class plus the sentinel, so Put never
// blocks.
type Pool struct {
	buffers chan *Buffer
}

func NewPool(depth int) *Pool {
	return &Pool{
		buffers: make(chan *Buffer, depth+1),
	}
}

func (pool *Pool) Put(buffer *Buffer) {
	pool.buffers <- buffer
}

func (pool *Pool) Get(ctx context.Context) (*Buffer, error) {
	select {
	case buffer := <-pool.buffers:
		return buffer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (pool *Pool) Len() int {
	return len(pool.buffers)
}
