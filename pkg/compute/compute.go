/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package compute

import (
	"fmt"
	"math"

	"github.com/Juice-Labs/annserver/pkg/errors"
)

var (
	ErrComputeBackend = errors.NewKind("compute", "compute: backend failure")
	ErrInvalidTensor  = errors.New("compute: tensor does not match the graph")
)

type Dims struct {
	W int32 `yaml:"w" msgpack:"w"`
	H int32 `yaml:"h" msgpack:"h"`
	C int32 `yaml:"c" msgpack:"c"`
}

func (dims Dims) Size() int {
	return int(dims.W) * int(dims.H) * int(dims.C)
}

func (dims Dims) Valid() bool {
	return dims.W > 0 && dims.H > 0 && dims.C > 0
}

func (dims Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", dims.W, dims.H, dims.C)
}

// TensorDesc describes a batch of Batch slots of Dims elements each.
type TensorDesc struct {
	Dims  Dims `msgpack:"dims"`
	Batch int  `msgpack:"batch"`

	// When positive on an output, the first TopK values of every slot hold
	// packed label/probability words instead of scores. See PackTopK.
	TopK int `msgpack:"topk"`
}

func (desc TensorDesc) Len() int {
	return desc.Dims.Size() * desc.Batch
}

// Tensor is a CHW float32 batch, slot after slot.
type Tensor struct {
	Desc TensorDesc
	Data []float32
}

func NewTensor(desc TensorDesc) *Tensor {
	return &Tensor{
		Desc: desc,
		Data: make([]float32, desc.Len()),
	}
}

func (tensor *Tensor) Slot(index int) []float32 {
	size := tensor.Desc.Dims.Size()
	return tensor.Data[index*size : (index+1)*size]
}

// Graph is a model bound to one device.
type Graph interface {
	// Bind selects the tensors the next Process reads and writes.
	Bind(input *Tensor, output *Tensor) error
	Process() error
	Close() error
}

type Backend interface {
	Name() string
	CreateGraph(device int, artifact string, input TensorDesc, output TensorDesc) (Graph, error)
}

// PackTopK encodes a label and a probability in [0,1] into one output value.
// The label takes the low 16 bits and the probability, scaled by 32768, the
// high 16 bits. The word travels as the bit pattern of a float32.
func PackTopK(label int, probability float32) float32 {
	scaled := uint32(math.Round(float64(min(max(probability, 0), 1)) * 32768))
	return math.Float32frombits(uint32(label)&0xFFFF | scaled<<16)
}

func UnpackTopK(value float32) (int32, float32) {
	bits := math.Float32bits(value)
	return int32(bits & 0xFFFF), min(1, float32(bits>>16)/32768)
}
