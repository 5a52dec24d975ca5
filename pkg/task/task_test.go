/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFailureCancelsGroup(t *testing.T) {
	taskManager := NewTaskManager(context.Background())

	errFailed := errors.New("failed")

	taskManager.GoFn("waiter", func(g Group) error {
		<-g.Ctx().Done()
		return nil
	})

	taskManager.GoFn("failer", func(g Group) error {
		return errFailed
	})

	err := taskManager.Wait()
	if !errors.Is(err, errFailed) {
		t.Errorf("expected %v, got %v", errFailed, err)
	}

	if taskManager.Active() != 0 {
		t.Errorf("expected no active tasks, got %d", taskManager.Active())
	}
}

func TestJoinWithoutCancel(t *testing.T) {
	taskManager := NewTaskManager(context.Background())
	defer taskManager.Cancel()

	for i := 0; i < 4; i++ {
		taskManager.GoFn("sleeper", func(g Group) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})
	}

	err := taskManager.Join()
	if err != nil {
		t.Errorf("unexpected error %v", err)
	}

	if taskManager.Ctx().Err() != nil {
		t.Error("Join must not cancel the group")
	}

	if taskManager.Active() != 0 {
		t.Errorf("expected no active tasks, got %d", taskManager.Active())
	}
}
