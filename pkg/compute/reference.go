/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package compute

import (
	"sort"
)

// Reference is an in-process backend that needs no accelerator. Every input
// slot is scored against each output class by its distance to a pivot class
// derived from the slot's mean value, so a given image always gets the same
// label.
type Reference struct{}

func NewReference() *Reference {
	return &Reference{}
}

func (*Reference) Name() string {
	return "reference"
}

func (*Reference) CreateGraph(device int, artifact string, input TensorDesc, output TensorDesc) (Graph, error) {
	if !input.Dims.Valid() || !output.Dims.Valid() || input.Batch <= 0 || input.Batch != output.Batch {
		return nil, ErrComputeBackend.Wrapf("invalid graph %s/%d -> %s/%d", input.Dims, input.Batch, output.Dims, output.Batch)
	}
	if output.TopK > output.Dims.Size() {
		return nil, ErrComputeBackend.Wrapf("top-%d exceeds %d classes", output.TopK, output.Dims.Size())
	}

	return &referenceGraph{
		input:  input,
		output: output,
	}, nil
}

type referenceGraph struct {
	input  TensorDesc
	output TensorDesc

	in  *Tensor
	out *Tensor
}

func (graph *referenceGraph) Bind(input *Tensor, output *Tensor) error {
	if input == nil || output == nil || input.Desc != graph.input || output.Desc != graph.output {
		return ErrInvalidTensor
	}

	graph.in = input
	graph.out = output
	return nil
}

func (graph *referenceGraph) Process() error {
	if graph.in == nil {
		return ErrComputeBackend.Wrap(ErrInvalidTensor)
	}

	for slot := 0; slot < graph.input.Batch; slot++ {
		Score(graph.in.Slot(slot), graph.out.Slot(slot), graph.output.TopK)
	}
	return nil
}

func (graph *referenceGraph) Close() error {
	graph.in = nil
	graph.out = nil
	return nil
}

// PivotClass maps an input slot to the class the reference scoring peaks at.
func PivotClass(input []float32, classes int) int {
	var sum float64
	for _, value := range input {
		sum += float64(value)
	}

	mean := sum / float64(max(len(input), 1))
	if mean < 0 {
		mean = -mean
	}

	return int(mean*1000) % classes
}

// Score fills output with the reference scores of input, or with packed
// top-K words when topK is positive.
func Score(input []float32, output []float32, topK int) {
	classes := len(output)
	pivot := PivotClass(input, classes)

	scores := make([]float32, classes)
	var total float32
	for class := range scores {
		distance := class - pivot
		if distance < 0 {
			distance = -distance
		}
		scores[class] = 1 / float32(1+distance)
		total += scores[class]
	}

	if topK <= 0 {
		copy(output, scores)
		return
	}

	order := make([]int, classes)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	for i := range output {
		output[i] = 0
	}
	for k := 0; k < topK; k++ {
		output[k] = PackTopK(order[k], scores[order[k]]/total)
	}
}
