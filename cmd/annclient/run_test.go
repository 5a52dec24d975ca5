/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"io"
	"testing"
	"time"
)

func TestRunBars(t *testing.T) {
	bars := newRunBars(io.Discard, 3)

	// Stopping bars that never started does nothing.
	newRunBars(io.Discard, 3).wait()

	bars.sentImages(2)
	bars.sentImages(1)
	for i := 0; i < 3; i++ {
		bars.result(time.Millisecond)
	}

	if current := bars.sent.Current(); current != 3 {
		t.Errorf("expected 3 images sent, got %d", current)
	}
	if current := bars.received.Current(); current != 3 {
		t.Errorf("expected 3 results, got %d", current)
	}

	bars.wait()
}
