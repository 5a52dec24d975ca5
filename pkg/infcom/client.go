/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package infcom

import (
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/Juice-Labs/annserver/pkg/errors"
)

var (
	ErrRejected = errors.NewKind("rejected", "infcom: server ended the session with an error")
)

// ModelDesc describes one catalog entry as reported by configure mode.
type ModelDesc struct {
	Name   string
	Input  [3]int32
	Output [3]int32

	ReverseChannels bool
	Multiply        [3]float32
	Add             [3]float32
}

// Command returns the MODEL_INFO describing desc.
func (desc ModelDesc) Command() Command {
	reverse := int32(0)
	if desc.ReverseChannels {
		reverse = 1
	}

	cmd := NewCommand(ModelInfo,
		desc.Input[0], desc.Input[1], desc.Input[2],
		desc.Output[0], desc.Output[1], desc.Output[2],
		reverse).WithMessage(desc.Name)
	for i := 0; i < 3; i++ {
		cmd.SetFloat(7+i, desc.Multiply[i])
		cmd.SetFloat(10+i, desc.Add[i])
	}
	return cmd
}

func ModelDescFromCommand(cmd Command) ModelDesc {
	desc := ModelDesc{
		Name:            cmd.Text(),
		Input:           [3]int32{cmd.Data[0], cmd.Data[1], cmd.Data[2]},
		Output:          [3]int32{cmd.Data[3], cmd.Data[4], cmd.Data[5]},
		ReverseChannels: cmd.Data[6] != 0,
	}
	for i := 0; i < 3; i++ {
		desc.Multiply[i] = cmd.Float(7 + i)
		desc.Add[i] = cmd.Float(10 + i)
	}
	return desc
}

// ImageSource feeds images to Client.Run. Next returns io.EOF once exhausted.
type ImageSource interface {
	Next() (tag int32, data []byte, err error)
}

type RunConfig struct {
	Model   string
	Devices int32
	Input   [3]int32
	Output  [3]int32

	// Appended to the model name, for example "topk=5".
	Options []string

	// Called for every INFERENCE_INITIALIZATION the server reports.
	Progress func(percent int32, text string)

	// Called after every batch of images is sent.
	Sent func(count int)
}

// Client drives the client side of the protocol.
type Client struct {
	conn *Conn
}

func Dial(ctx context.Context, address string, timeout time.Duration) (*Client, error) {
	dialer := net.Dialer{
		Timeout: timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, ErrTransport.Wrap(err)
	}

	return NewClient(conn, timeout), nil
}

func NewClient(conn net.Conn, timeout time.Duration) *Client {
	return &Client{
		conn: NewConn(conn, timeout),
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) sendMode(mode int32, devices int32, input, output [3]int32, message string) error {
	cmd, err := c.conn.Recv(Any)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case SendMode:
	case Done:
		// Refused before the handshake, for example when the server is busy.
		err = c.finish(cmd)
		if err == nil {
			err = ErrRejected.Wrapf("%s before %s", cmd.Kind, SendMode)
		}
		return err
	default:
		return ErrProtocol.Wrapf("command is %s instead of %s", cmd.Kind, SendMode)
	}

	return c.conn.Send(NewCommand(SendMode, mode, devices,
		input[0], input[1], input[2],
		output[0], output[1], output[2]).WithMessage(message))
}

// finish acknowledges a DONE from the server, and reports the error it
// carries if any.
func (c *Client) finish(done Command) error {
	err := c.conn.Send(NewCommand(Done))
	if done.Data[0] != 0 {
		return ErrRejected.Wrapf("%s", done.Text())
	}

	return err
}

// Configure lists the models the server can run along with its device count.
func (c *Client) Configure() (int32, []ModelDesc, error) {
	err := c.sendMode(ModeConfigure, 0, [3]int32{}, [3]int32{}, "")
	if err != nil {
		return 0, nil, err
	}

	info, err := c.conn.Recv(Any)
	if err != nil {
		return 0, nil, err
	}

	switch info.Kind {
	case Done:
		return 0, nil, c.finish(info)
	case ConfigInfo:
	default:
		return 0, nil, ErrProtocol.Wrapf("command is %s instead of %s", info.Kind, ConfigInfo)
	}

	err = c.conn.Send(info)
	if err != nil {
		return 0, nil, err
	}

	models := make([]ModelDesc, 0, max(info.Data[0], 0))
	for i := int32(0); i < info.Data[0]; i++ {
		cmd, err := c.conn.Recv(ModelInfo)
		if err != nil {
			return 0, nil, err
		}

		err = c.conn.Send(cmd)
		if err != nil {
			return 0, nil, err
		}

		models = append(models, ModelDescFromCommand(cmd))
	}

	err = c.conn.Send(NewCommand(Done))
	if err != nil {
		return 0, nil, err
	}

	// The closing DONE is a courtesy; the listing is already complete.
	c.conn.Recv(Done)

	return info.Data[1], models, nil
}

// Upload stores artifact on the server as the graph of a new model.
func (c *Client) Upload(model string, input, output [3]int32, fileName string, artifact []byte) error {
	err := c.sendMode(ModeCompiler, 0, input, output, model)
	if err != nil {
		return err
	}

	cmd, err := c.conn.Recv(Any)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case Done:
		return c.finish(cmd)
	case SendModelFile1:
	default:
		return ErrProtocol.Wrapf("command is %s instead of %s", cmd.Kind, SendModelFile1)
	}

	err = c.conn.Send(NewCommand(SendModelFile1, int32(len(artifact))).WithMessage(fileName))
	if err == nil {
		err = c.conn.SendPayload(artifact)
	}
	if err != nil {
		return err
	}

	for {
		cmd, err = c.conn.Recv(Any)
		if err != nil {
			return err
		}

		switch cmd.Kind {
		case CompilerStatus:
			if cmd.Data[0] < 0 {
				return ErrRejected.Wrapf("%s", cmd.Text())
			}
		case Done:
			return c.finish(cmd)
		default:
			return ErrProtocol.Wrapf("unexpected %s during upload", cmd.Kind)
		}
	}
}

// Run streams every image of source to the server and reports each result
// through onResult. It returns once the server has delivered the final DONE.
func (c *Client) Run(config RunConfig, source ImageSource, onResult func(Result)) error {
	message := strings.Join(append([]string{config.Model}, config.Options...), " ")

	err := c.sendMode(ModeInference, config.Devices, config.Input, config.Output, message)
	if err != nil {
		return err
	}

	exhausted := false
	for {
		cmd, err := c.conn.Recv(Any)
		if err != nil {
			return err
		}

		switch cmd.Kind {
		case InferenceInitialization:
			if config.Progress != nil {
				config.Progress(cmd.Data[0], cmd.Text())
			}

			err = c.conn.Send(cmd)

		case SendImages:
			if exhausted {
				return ErrProtocol.Wrapf("%s after the end of input", cmd.Kind)
			}

			exhausted, err = c.sendImages(int(cmd.Data[0]), source, config.Sent)

		case InferenceResult, TopKInferenceResult:
			var results []Result
			results, err = DecodeResults(cmd)
			if err != nil {
				return err
			}

			for _, result := range results {
				onResult(result)
			}

			err = c.conn.Send(cmd)

		case Done:
			return c.finish(cmd)

		default:
			return ErrProtocol.Wrapf("unexpected %s during inference", cmd.Kind)
		}

		if err != nil {
			return err
		}
	}
}

// sendImages answers one SEND_IMAGES request for up to n images. It reports
// true once the end of input has been signalled with a negative count.
func (c *Client) sendImages(n int, source ImageSource, sent func(int)) (bool, error) {
	type image struct {
		tag  int32
		data []byte
	}

	images := make([]image, 0, n)
	for len(images) < n {
		tag, data, err := source.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return false, err
		}

		images = append(images, image{tag: tag, data: data})
	}

	if len(images) == 0 {
		return true, c.conn.Send(NewCommand(SendImages, -1))
	}

	err := c.conn.Send(NewCommand(SendImages, int32(len(images))))
	if err != nil {
		return false, err
	}

	for _, image := range images {
		err = c.conn.SendFrame(image.tag, image.data)
		if err != nil {
			return false, err
		}
	}

	if sent != nil {
		sent(len(images))
	}

	return false, nil
}
