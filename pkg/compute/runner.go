/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package compute

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Juice-Labs/annserver/pkg/logger"
)

const (
	opCreate  = "create"
	opProcess = "process"
	opClose   = "close"
)

// runnerRequest and runnerResponse are exchanged with a runner process, one
// msgpack document each, strictly alternating.
type runnerRequest struct {
	Op       string     `msgpack:"op"`
	Device   int        `msgpack:"device,omitempty"`
	Artifact string     `msgpack:"artifact,omitempty"`
	Input    TensorDesc `msgpack:"input,omitempty"`
	Output   TensorDesc `msgpack:"output,omitempty"`
	Data     []float32  `msgpack:"data,omitempty"`
}

type runnerResponse struct {
	Error string    `msgpack:"error,omitempty"`
	Data  []float32 `msgpack:"data,omitempty"`
}

// ServeRunner answers graph requests arriving on conn with backend until the
// graph is closed or conn reaches EOF. It is the body of a runner process.
func ServeRunner(conn io.ReadWriter, backend Backend) error {
	decoder := msgpack.NewDecoder(conn)
	encoder := msgpack.NewEncoder(conn)

	var graph Graph
	var input, output *Tensor

	defer func() {
		if graph != nil {
			graph.Close()
		}
	}()

	for {
		var request runnerRequest
		err := decoder.Decode(&request)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		var response runnerResponse

		switch request.Op {
		case opCreate:
			if graph != nil {
				response.Error = "graph already created"
				break
			}

			graph, err = backend.CreateGraph(request.Device, request.Artifact, request.Input, request.Output)
			if err == nil {
				input = NewTensor(request.Input)
				output = NewTensor(request.Output)
				err = graph.Bind(input, output)
			}
			if err != nil {
				response.Error = err.Error()
			} else {
				logger.Debugf("runner: graph %s on device %d, %s -> %s", request.Artifact, request.Device, request.Input.Dims, request.Output.Dims)
			}

		case opProcess:
			if graph == nil {
				response.Error = "no graph"
				break
			}
			if len(request.Data) != len(input.Data) {
				response.Error = ErrInvalidTensor.Error()
				break
			}

			copy(input.Data, request.Data)
			err = graph.Process()
			if err != nil {
				response.Error = err.Error()
			} else {
				response.Data = output.Data
			}

		case opClose:
			return encoder.Encode(&response)

		default:
			response.Error = "unknown op " + request.Op
		}

		err = encoder.Encode(&response)
		if err != nil {
			return err
		}
	}
}
