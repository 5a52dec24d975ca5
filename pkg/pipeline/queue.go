/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package pipeline

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// Queue is an unbounded FIFO. Enqueue never blocks; Dequeue blocks until an
// item is available or ctx is done.
type Queue[T any] struct {
	mutex  sync.Mutex
	items  *deque.Deque[T]
	notify chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		items:  deque.New[T](),
		notify: make(chan struct{}, 1),
	}
}

func (queue *Queue[T]) signal() {
	select {
	case queue.notify <- struct{}{}:
	default:
	}
}

func (queue *Queue[T]) Enqueue(item T) {
	queue.mutex.Lock()
	queue.items.PushBack(item)
	queue.mutex.Unlock()

	queue.signal()
}

// TryDequeue pops the front item if there is one.
func (queue *Queue[T]) TryDequeue() (T, bool) {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()

	if queue.items.Len() == 0 {
		var zero T
		return zero, false
	}

	item := queue.items.PopFront()
	if queue.items.Len() > 0 {
		// Pass the wakeup on to any other waiting consumer.
		queue.signal()
	}
	return item, true
}

func (queue *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	for {
		item, ok := queue.TryDequeue()
		if ok {
			return item, nil
		}

		select {
		case <-queue.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Peek returns the front item without removing it.
func (queue *Queue[T]) Peek() (T, bool) {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()

	if queue.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return queue.items.Front(), true
}

func (queue *Queue[T]) Len() int {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()

	return queue.items.Len()
}
