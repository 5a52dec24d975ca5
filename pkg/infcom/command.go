/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package infcom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Juice-Labs/annserver/pkg/errors"
)

// Command layout, little endian, 128 bytes:
//
//	offset  0: magic   uint32
//	offset  4: command uint32
//	offset  8: data    [14]int32
//	offset 64: message [64]byte, NUL padded
const (
	Magic     uint32 = 0x02388e50
	EOFMarker uint32 = 0x12344321

	DataCount   = 14
	MessageSize = 64
	CommandSize = 4 + 4 + DataCount*4 + MessageSize

	// Largest chunk read from the socket at once while receiving a payload.
	MaxPacketSize = 8192

	MaxImageSize = 50_000_000

	// Images the server asks for with one SEND_IMAGES.
	MaxImagesPerRequest = 6

	// Results that fit a single INFERENCE_RESULT after {count, status}.
	ResultsPerMessage = (DataCount - 2) / 2
	MaxTopK           = (DataCount - 2 - 1) / 2
)

type Kind uint32

const (
	Done                    Kind = 0
	SendMode                Kind = 1
	ConfigInfo              Kind = 101
	ModelInfo               Kind = 102
	SendModelFile1          Kind = 201
	SendModelFile2          Kind = 202
	CompilerStatus          Kind = 203
	InferenceInitialization Kind = 301
	SendImages              Kind = 302
	InferenceResult         Kind = 303
	TopKInferenceResult     Kind = 304
	ShadowSendFolderNames   Kind = 401
	ShadowResult            Kind = 402
	ShadowCreateFolder      Kind = 403
	ShadowCreateLmdb        Kind = 404
)

// Any is passed to Recv to accept every command kind.
const Any Kind = math.MaxUint32

func (kind Kind) String() string {
	switch kind {
	case Done:
		return "DONE"
	case SendMode:
		return "SEND_MODE"
	case ConfigInfo:
		return "CONFIG_INFO"
	case ModelInfo:
		return "MODEL_INFO"
	case SendModelFile1:
		return "SEND_MODELFILE1"
	case SendModelFile2:
		return "SEND_MODELFILE2"
	case CompilerStatus:
		return "COMPILER_STATUS"
	case InferenceInitialization:
		return "INFERENCE_INITIALIZATION"
	case SendImages:
		return "SEND_IMAGES"
	case InferenceResult:
		return "INFERENCE_RESULT"
	case TopKInferenceResult:
		return "TOPK_INFERENCE_RESULT"
	case ShadowSendFolderNames:
		return "SHADOW_SEND_FOLDERNAMES"
	case ShadowResult:
		return "SHADOW_RESULT"
	case ShadowCreateFolder:
		return "SHADOW_CREATE_FOLDER"
	case ShadowCreateLmdb:
		return "SHADOW_CREATE_LMDB"
	}

	return fmt.Sprintf("0x%08x", uint32(kind))
}

// Values of Data[0] in SEND_MODE.
const (
	ModeConfigure int32 = 1
	ModeCompiler  int32 = 2
	ModeInference int32 = 3
	ModeShadow    int32 = 4
)

var (
	ErrProtocol  = errors.NewKind("protocol", "infcom: protocol violation")
	ErrTransport = errors.NewKind("transport", "infcom: transport failure")
)

type Command struct {
	Magic   uint32
	Kind    Kind
	Data    [DataCount]int32
	Message [MessageSize]byte
}

// NewCommand builds a command with the given leading data values. Values past
// DataCount are dropped.
func NewCommand(kind Kind, data ...int32) Command {
	cmd := Command{
		Magic: Magic,
		Kind:  kind,
	}
	copy(cmd.Data[:], data)
	return cmd
}

// WithMessage returns a copy of cmd carrying text, truncated to fit.
func (cmd Command) WithMessage(text string) Command {
	cmd.SetMessage(text)
	return cmd
}

// SetMessage stores text NUL padded, truncated to MessageSize bytes. A message
// of exactly MessageSize bytes carries no terminator, as with strncpy.
func (cmd *Command) SetMessage(text string) {
	cmd.Message = [MessageSize]byte{}
	copy(cmd.Message[:], text)
}

func (cmd Command) Text() string {
	text := cmd.Message[:]
	if index := bytes.IndexByte(text, 0); index >= 0 {
		text = text[:index]
	}
	return string(text)
}

// SetFloat stores a float32 in a data slot by bit pattern.
func (cmd *Command) SetFloat(index int, value float32) {
	cmd.Data[index] = int32(math.Float32bits(value))
}

func (cmd Command) Float(index int) float32 {
	return math.Float32frombits(uint32(cmd.Data[index]))
}

func (cmd Command) MarshalBinary() ([]byte, error) {
	data := make([]byte, CommandSize)
	cmd.encode(data)
	return data, nil
}

func (cmd *Command) UnmarshalBinary(data []byte) error {
	if len(data) != CommandSize {
		return ErrProtocol.Wrapf("command is %d bytes instead of %d", len(data), CommandSize)
	}

	cmd.Magic = binary.LittleEndian.Uint32(data[0:])
	cmd.Kind = Kind(binary.LittleEndian.Uint32(data[4:]))
	for i := range cmd.Data {
		cmd.Data[i] = int32(binary.LittleEndian.Uint32(data[8+i*4:]))
	}
	copy(cmd.Message[:], data[8+DataCount*4:])

	return nil
}

func (cmd Command) encode(data []byte) {
	binary.LittleEndian.PutUint32(data[0:], cmd.Magic)
	binary.LittleEndian.PutUint32(data[4:], uint32(cmd.Kind))
	for i, value := range cmd.Data {
		binary.LittleEndian.PutUint32(data[8+i*4:], uint32(value))
	}
	copy(data[8+DataCount*4:], cmd.Message[:])
}

func (cmd Command) String() string {
	return fmt.Sprintf("%s %v %q", cmd.Kind, cmd.Data, cmd.Text())
}
