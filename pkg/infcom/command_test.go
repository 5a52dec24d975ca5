/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package infcom

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Juice-Labs/annserver/pkg/errors"
)

func TestCommandRoundTrip(t *testing.T) {
	cmd := NewCommand(SendMode, ModeInference, 2, 224, 224, 3, 1000, 1, 1).WithMessage("resnet50 topk=5")
	cmd.SetFloat(13, 0.25)

	data, err := cmd.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != CommandSize {
		t.Fatalf("expected %d bytes, got %d", CommandSize, len(data))
	}
	if binary.LittleEndian.Uint32(data[0:]) != Magic {
		t.Error("magic must lead the encoding")
	}

	var decoded Command
	err = decoded.UnmarshalBinary(data)
	if err != nil {
		t.Fatal(err)
	}

	if decoded != cmd {
		t.Errorf("expected %v, got %v", cmd, decoded)
	}
	if decoded.Float(13) != 0.25 {
		t.Errorf("expected 0.25, got %f", decoded.Float(13))
	}
}

func TestMessageTruncation(t *testing.T) {
	long := strings.Repeat("x", 100)

	cmd := NewCommand(Done, -1).WithMessage(long)
	if cmd.Text() != long[:MessageSize] {
		t.Errorf("expected message truncated to %d bytes, got %d", MessageSize, len(cmd.Text()))
	}

	cmd.SetMessage("short")
	if cmd.Text() != "short" {
		t.Errorf("expected %q, got %q", "short", cmd.Text())
	}
	if !bytes.Equal(cmd.Message[5:], make([]byte, MessageSize-5)) {
		t.Error("message must be NUL padded")
	}
}

func TestUnmarshalRejectsShortInput(t *testing.T) {
	var cmd Command
	err := cmd.UnmarshalBinary(make([]byte, CommandSize-1))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("expected %v, got %v", ErrProtocol, err)
	}
}

func TestRecvValidation(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server, time.Second)
	clientConn := NewConn(client, time.Second)

	go func() {
		bad := NewCommand(SendMode)
		bad.Magic = 0xdeadbeef
		clientConn.Send(bad)
		clientConn.Send(NewCommand(SendImages, 1))
		clientConn.Send(NewCommand(Done))
	}()

	_, err := serverConn.Recv(Any)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("bad magic: expected %v, got %v", ErrProtocol, err)
	}

	_, err = serverConn.Recv(SendMode)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("wrong kind: expected %v, got %v", ErrProtocol, err)
	}

	cmd, err := serverConn.Recv(Any)
	if err != nil || cmd.Kind != Done {
		t.Errorf("expected DONE, got %v, %v", cmd, err)
	}
}

func TestFrames(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server, time.Second)
	clientConn := NewConn(client, time.Second)

	payload := bytes.Repeat([]byte{1, 2, 3}, MaxPacketSize)

	go func() {
		clientConn.SendFrame(7, payload)
		clientConn.SendFrame(-1, []byte{1})
	}()

	tag, data, err := serverConn.RecvFrame()
	if err != nil {
		t.Fatal(err)
	}
	if tag != 7 || !bytes.Equal(data, payload) {
		t.Errorf("expected tag 7 with %d bytes, got tag %d with %d bytes", len(payload), tag, len(data))
	}

	_, _, err = serverConn.RecvFrame()
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("negative tag: expected %v, got %v", ErrProtocol, err)
	}
}

func TestBadEOFMarker(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server, time.Second)

	go func() {
		frame := make([]byte, 8+4+4)
		binary.LittleEndian.PutUint32(frame[0:], 3)
		binary.LittleEndian.PutUint32(frame[4:], 4)
		binary.LittleEndian.PutUint32(frame[12:], 0x11111111)
		client.Write(frame)
	}()

	_, _, err := serverConn.RecvFrame()
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("expected %v, got %v", ErrProtocol, err)
	}
}

func TestRecvTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server, 20*time.Millisecond)

	_, err := serverConn.Recv(Any)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected %v, got %v", ErrTransport, err)
	}
	if errors.KindOf(err) != "transport" {
		t.Errorf("expected kind transport, got %s", errors.KindOf(err))
	}
}

func TestResultEncoding(t *testing.T) {
	results := []Result{
		{Tag: 1, Label: 10},
		{Tag: 2, Label: 20},
	}

	decoded, err := DecodeResults(EncodeResults(results, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 || decoded[1].Tag != 2 || decoded[1].Label != 20 {
		t.Errorf("unexpected results %v", decoded)
	}

	if ResultsPerCommand(0) != 6 || ResultsPerCommand(1) != 4 || ResultsPerCommand(5) != 1 {
		t.Error("unexpected results per command")
	}

	topK := []Result{
		{Tag: 5, Labels: []int32{3, 1}, Probabilities: []float32{0.75, 0.25}},
	}

	decoded, err = DecodeResults(EncodeResults(topK, 2))
	if err != nil {
		t.Fatal(err)
	}
	if decoded[0].Tag != 5 || decoded[0].Label != 3 || decoded[0].Labels[1] != 1 || decoded[0].Probabilities[0] != 0.75 {
		t.Errorf("unexpected top-K result %v", decoded[0])
	}
}
