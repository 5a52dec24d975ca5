/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Juice-Labs/annserver/pkg/logger"
)

type TaskFn = func(Group) error

type Task interface {
	Run(group Group) error
}

type Group interface {
	Ctx() context.Context
	Cancel()
	Go(label string, task Task)
	GoFn(label string, task TaskFn)
}

type Waiter interface {
	Wait() error
}

// TaskManager runs labelled goroutines that share one context. The first task
// to return an error cancels the context for all the others.
type TaskManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	waitGroup sync.WaitGroup
	active    atomic.Int32

	errorsMutex sync.Mutex
	errors      error
}

func NewTaskManager(ctx context.Context) *TaskManager {
	ctx, cancel := context.WithCancel(ctx)

	return &TaskManager{
		ctx:    ctx,
		cancel: cancel,
	}
}

func (group *TaskManager) Ctx() context.Context {
	return group.ctx
}

func (group *TaskManager) Cancel() {
	group.cancel()
}

// Active reports the number of tasks that have not yet returned.
func (group *TaskManager) Active() int {
	return int(group.active.Load())
}

// Wait blocks until the group is cancelled and every task has returned, then
// reports the joined errors of all tasks.
func (group *TaskManager) Wait() error {
	<-group.ctx.Done()
	group.waitGroup.Wait()

	group.errorsMutex.Lock()
	defer group.errorsMutex.Unlock()

	return group.errors
}

// Join waits for every task to return without cancelling the group first.
func (group *TaskManager) Join() error {
	group.waitGroup.Wait()

	group.errorsMutex.Lock()
	defer group.errorsMutex.Unlock()

	return group.errors
}

func (group *TaskManager) Go(label string, task Task) {
	group.GoFn(label, task.Run)
}

func (group *TaskManager) GoFn(label string, task TaskFn) {
	group.waitGroup.Add(1)
	group.active.Add(1)

	go group.run(label, task)
}

func (group *TaskManager) run(label string, task TaskFn) {
	defer group.waitGroup.Done()

	err := task(group)
	group.active.Add(-1)

	if err != nil {
		logger.Debugf("task %s failed, %v", label, err)

		group.errorsMutex.Lock()
		group.errors = errors.Join(group.errors, fmt.Errorf("%s: %w", label, err))
		group.errorsMutex.Unlock()

		group.cancel()
	}
}
