/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package compute

import (
	"errors"
	"net"
	"os/exec"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Juice-Labs/annserver/pkg/logger"
)

// Process runs every graph in its own runner subprocess, connected over a
// socketpair. A runner that crashes takes down only the session using it.
type Process struct {
	Runner string
	Args   []string
	Env    []string

	// Shared library the runner depends on. When set it is probed in this
	// process first so a missing library fails before anything is spawned.
	Library string
}

func NewProcess(runner string, library string) *Process {
	return &Process{
		Runner:  runner,
		Library: library,
	}
}

func (*Process) Name() string {
	return "process"
}

func (backend *Process) CreateGraph(device int, artifact string, input TensorDesc, output TensorDesc) (Graph, error) {
	if backend.Library != "" {
		err := probeLibrary(backend.Library)
		if err != nil {
			return nil, ErrComputeBackend.Wrap(err)
		}
	}

	cmd, conn, err := spawnRunner(backend.Runner, backend.Args, backend.Env, device)
	if err != nil {
		return nil, ErrComputeBackend.Wrap(err)
	}

	graph := &processGraph{
		cmd:     cmd,
		conn:    conn,
		encoder: msgpack.NewEncoder(conn),
		decoder: msgpack.NewDecoder(conn),
		input:   input,
		output:  output,
	}

	_, err = graph.call(&runnerRequest{
		Op:       opCreate,
		Device:   device,
		Artifact: artifact,
		Input:    input,
		Output:   output,
	})
	if err != nil {
		graph.Close()
		return nil, err
	}

	return graph, nil
}

type processGraph struct {
	cmd  *exec.Cmd
	conn net.Conn

	encoder *msgpack.Encoder
	decoder *msgpack.Decoder

	input  TensorDesc
	output TensorDesc

	in  *Tensor
	out *Tensor

	closeOnce sync.Once
}

func (graph *processGraph) call(request *runnerRequest) (*runnerResponse, error) {
	err := graph.encoder.Encode(request)
	if err != nil {
		return nil, ErrComputeBackend.Wrap(err)
	}

	var response runnerResponse
	err = graph.decoder.Decode(&response)
	if err != nil {
		return nil, ErrComputeBackend.Wrap(err)
	}

	if response.Error != "" {
		return nil, ErrComputeBackend.Wrap(errors.New(response.Error))
	}

	return &response, nil
}

func (graph *processGraph) Bind(input *Tensor, output *Tensor) error {
	if input == nil || output == nil || input.Desc != graph.input || output.Desc != graph.output {
		return ErrInvalidTensor
	}

	graph.in = input
	graph.out = output
	return nil
}

func (graph *processGraph) Process() error {
	if graph.in == nil {
		return ErrComputeBackend.Wrap(ErrInvalidTensor)
	}

	response, err := graph.call(&runnerRequest{
		Op:   opProcess,
		Data: graph.in.Data,
	})
	if err != nil {
		return err
	}

	if len(response.Data) != len(graph.out.Data) {
		return ErrComputeBackend.Wrapf("runner returned %d values instead of %d", len(response.Data), len(graph.out.Data))
	}

	copy(graph.out.Data, response.Data)
	return nil
}

func (graph *processGraph) Close() error {
	var err error
	graph.closeOnce.Do(func() {
		// Best effort, the runner also exits on EOF.
		graph.encoder.Encode(&runnerRequest{Op: opClose})
		graph.conn.Close()

		err = graph.cmd.Wait()
		if err != nil {
			logger.Debugf("runner for %s exited, %v", graph.cmd.Path, err)
		}
	})
	return err
}
