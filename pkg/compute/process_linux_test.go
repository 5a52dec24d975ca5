/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package compute

import (
	"os"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Juice-Labs/annserver/pkg/errors"
)

// TestHelperProcess is not a real test. It is the runner subprocess spawned
// by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("ANNSERVER_TEST_RUNNER") != "1" {
		return
	}

	conn, err := RunnerConn(RunnerFd)
	if err != nil {
		os.Exit(2)
	}

	if os.Getenv("ANNSERVER_TEST_RUNNER_CRASH") == "1" {
		// Answer create, then die before the first batch.
		var request runnerRequest
		msgpack.NewDecoder(conn).Decode(&request)
		msgpack.NewEncoder(conn).Encode(&runnerResponse{})
		os.Exit(3)
	}

	err = ServeRunner(conn, NewReference())
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func helperBackend(env ...string) *Process {
	return &Process{
		Runner: os.Args[0],
		Args:   []string{"-test.run=TestHelperProcess", "--"},
		Env:    append([]string{"ANNSERVER_TEST_RUNNER=1"}, env...),
	}
}

func TestProcessBackend(t *testing.T) {
	input := TensorDesc{Dims: Dims{W: 2, H: 1, C: 1}, Batch: 3}
	output := TensorDesc{Dims: Dims{W: 16, H: 1, C: 1}, Batch: 3}

	graph, err := helperBackend().CreateGraph(1, "model.bin", input, output)
	if err != nil {
		t.Fatal(err)
	}
	defer graph.Close()

	in := NewTensor(input)
	out := NewTensor(output)
	for i := range in.Slot(2) {
		in.Slot(2)[i] = 0.0055
	}

	err = graph.Bind(in, out)
	if err != nil {
		t.Fatal(err)
	}

	for pass := 0; pass < 2; pass++ {
		err = graph.Process()
		if err != nil {
			t.Fatal(err)
		}

		if argMax(out.Slot(2)) != 5 {
			t.Errorf("pass %d: expected class 5, got %d", pass, argMax(out.Slot(2)))
		}
	}
}

func TestProcessBackendRunnerCrash(t *testing.T) {
	desc := TensorDesc{Dims: Dims{W: 1, H: 1, C: 1}, Batch: 1}

	graph, err := helperBackend("ANNSERVER_TEST_RUNNER_CRASH=1").CreateGraph(0, "model.bin", desc, desc)
	if err != nil {
		t.Fatal(err)
	}
	defer graph.Close()

	graph.Bind(NewTensor(desc), NewTensor(desc))

	err = graph.Process()
	if !errors.Is(err, ErrComputeBackend) {
		t.Errorf("expected %v, got %v", ErrComputeBackend, err)
	}
}

func TestProcessBackendMissingLibrary(t *testing.T) {
	backend := helperBackend()
	backend.Library = "libannserver-does-not-exist.so"

	desc := TensorDesc{Dims: Dims{W: 1, H: 1, C: 1}, Batch: 1}

	_, err := backend.CreateGraph(0, "model.bin", desc, desc)
	if !errors.Is(err, ErrComputeBackend) {
		t.Errorf("expected %v, got %v", ErrComputeBackend, err)
	}
}
