/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package infcom

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

const (
	DefaultTimeout = 3 * time.Second

	// How long Abort waits for the peer to acknowledge DONE.
	abortAckTimeout = 500 * time.Millisecond

	frameHeaderSize = 8
)

// Conn exchanges commands and image frames over one stream connection. Every
// read and write is bounded by the connection timeout.
type Conn struct {
	conn    net.Conn
	timeout time.Duration
}

func NewConn(conn net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		conn:    conn,
		timeout: timeout,
	}
}

func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "--"
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) setDeadline(timeout time.Duration) {
	if timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(timeout))
	}
}

func (c *Conn) write(data []byte) error {
	c.setDeadline(c.timeout)

	_, err := c.conn.Write(data)
	if err != nil {
		return ErrTransport.Wrapf("write(len:%d) to %s failed, %w", len(data), c.RemoteAddr(), err)
	}
	return nil
}

func (c *Conn) read(data []byte) error {
	c.setDeadline(c.timeout)

	n, err := io.ReadFull(c.conn, data)
	if err != nil {
		return ErrTransport.Wrapf("read(len:%d) from %s failed after %d bytes, %w", len(data), c.RemoteAddr(), n, err)
	}
	return nil
}

func (c *Conn) Send(cmd Command) error {
	data, _ := cmd.MarshalBinary()
	return c.write(data)
}

// Recv reads one command and checks its magic. Unless expected is Any, a
// command of another kind is a protocol violation.
func (c *Conn) Recv(expected Kind) (Command, error) {
	var cmd Command

	data := make([]byte, CommandSize)
	err := c.read(data)
	if err != nil {
		return cmd, err
	}

	err = cmd.UnmarshalBinary(data)
	if err != nil {
		return cmd, err
	}

	if cmd.Magic != Magic {
		return cmd, ErrProtocol.Wrapf("magic is 0x%08x instead of 0x%08x", cmd.Magic, Magic)
	}

	if expected != Any && cmd.Kind != expected {
		return cmd, ErrProtocol.Wrapf("command is %s instead of %s", cmd.Kind, expected)
	}

	return cmd, nil
}

// Exchange sends cmd and waits for the peer to echo a command of the same kind.
func (c *Conn) Exchange(cmd Command) (Command, error) {
	err := c.Send(cmd)
	if err != nil {
		return Command{}, err
	}

	return c.Recv(cmd.Kind)
}

// SendFrame writes {tag,size} followed by the payload and the EOF marker.
func (c *Conn) SendFrame(tag int32, payload []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(header[0:], uint32(tag))
	binary.LittleEndian.PutUint32(header[4:], uint32(len(payload)))

	err := c.write(header)
	if err != nil {
		return err
	}

	return c.SendPayload(payload)
}

// SendPayload writes payload in packets followed by the EOF marker.
func (c *Conn) SendPayload(payload []byte) error {
	for pos := 0; pos < len(payload); pos += MaxPacketSize {
		err := c.write(payload[pos:min(pos+MaxPacketSize, len(payload))])
		if err != nil {
			return err
		}
	}

	marker := make([]byte, 4)
	binary.LittleEndian.PutUint32(marker, EOFMarker)
	return c.write(marker)
}

// RecvFrame reads one {tag,size} header, its payload and the EOF marker.
func (c *Conn) RecvFrame() (int32, []byte, error) {
	header := make([]byte, frameHeaderSize)
	err := c.read(header)
	if err != nil {
		return 0, nil, err
	}

	tag := int32(binary.LittleEndian.Uint32(header[0:]))
	size := int32(binary.LittleEndian.Uint32(header[4:]))
	if tag < 0 || size <= 0 || size > MaxImageSize {
		return 0, nil, ErrProtocol.Wrapf("invalid (tag:%d,size:%d) from %s", tag, size, c.RemoteAddr())
	}

	payload, err := c.RecvPayload(int(size))
	if err != nil {
		return 0, nil, err
	}

	return tag, payload, nil
}

// RecvPayload reads size bytes in packets followed by the EOF marker. The
// deadline is renewed for every packet so large payloads are not cut off.
func (c *Conn) RecvPayload(size int) ([]byte, error) {
	payload := make([]byte, size)
	for pos := 0; pos < size; pos += MaxPacketSize {
		err := c.read(payload[pos:min(pos+MaxPacketSize, size)])
		if err != nil {
			return nil, err
		}
	}

	marker := make([]byte, 4)
	err := c.read(marker)
	if err != nil {
		return nil, err
	}

	if value := binary.LittleEndian.Uint32(marker); value != EOFMarker {
		return nil, ErrProtocol.Wrapf("eofMarker 0x%08x (incorrect)", value)
	}

	return payload, nil
}

// Abort reports cause to the peer with DONE{-1}, gives it a moment to
// acknowledge and closes the connection. Every step is best effort.
func (c *Conn) Abort(cause error) error {
	text := "aborted"
	if cause != nil {
		text = cause.Error()
	}

	data, _ := NewCommand(Done, -1).WithMessage(text).MarshalBinary()

	c.setDeadline(c.timeout)
	_, err := c.conn.Write(data)
	if err == nil {
		c.setDeadline(abortAckTimeout)
		io.ReadFull(c.conn, data)
	}

	return c.conn.Close()
}
