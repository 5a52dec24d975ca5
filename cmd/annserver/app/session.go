/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/errors"
	"github.com/Juice-Labs/annserver/pkg/imaging"
	"github.com/Juice-Labs/annserver/pkg/infcom"
	"github.com/Juice-Labs/annserver/pkg/logger"
	"github.com/Juice-Labs/annserver/pkg/pipeline"
	"github.com/Juice-Labs/annserver/pkg/registry"
	"github.com/Juice-Labs/annserver/pkg/restapi"
	"github.com/Juice-Labs/annserver/pkg/sentry"
	"github.com/Juice-Labs/annserver/pkg/task"
)

var (
	ErrCancelled     = errors.NewKind("cancelled", "session: cancelled")
	ErrUnsupported   = errors.NewKind("protocol", "session: mode is not supported")
	ErrInvalidMode   = errors.NewKind("protocol", "session: invalid mode")
	ErrInvalidOption = errors.NewKind("protocol", "session: invalid option")
)

// Session serves one client connection from the mode handshake to DONE.
type Session struct {
	Id      string
	Started time.Time

	server *Server
	conn   *infcom.Conn
	logger *zap.SugaredLogger

	// Engine workers run here. Cancelling it ends the session.
	taskManager *task.TaskManager

	mutex   sync.Mutex
	mode    string
	state   string
	model   string
	topK    int
	devices []int
	engine  *pipeline.Engine

	imagesReceived atomic.Uint64
	resultsSent    atomic.Uint64
}

func newSession(ctx context.Context, id string, server *Server, conn *infcom.Conn) *Session {
	return &Session{
		Id:          id,
		Started:     time.Now(),
		server:      server,
		conn:        conn,
		logger:      logger.With("session", id, "client", conn.RemoteAddr()),
		taskManager: task.NewTaskManager(ctx),
		state:       restapi.SessionHandshake,
	}
}

func (session *Session) Session() restapi.Session {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	inFlight := 0
	if session.engine != nil {
		inFlight = session.engine.InFlight()
	}

	return restapi.Session{
		Id:             session.Id,
		Address:        session.conn.RemoteAddr(),
		Mode:           session.mode,
		State:          session.state,
		Model:          session.model,
		TopK:           session.topK,
		Devices:        append([]int{}, session.devices...),
		Started:        session.Started,
		ImagesReceived: session.imagesReceived.Load(),
		ResultsSent:    session.resultsSent.Load(),
		InFlight:       inFlight,
	}
}

func (session *Session) setState(state string) {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	session.state = state
}

// Cancel stops the session at its next poll. The client is told with DONE{-1}.
func (session *Session) Cancel() {
	session.taskManager.Cancel()
}

// Run serves the connection until the session ends, then closes it. Every
// failure is reported to the client with DONE{-1} before closing.
func (session *Session) Run() error {
	session.logger.Info("session started")

	err := session.run()

	session.setState(restapi.SessionClosing)
	session.taskManager.Cancel()

	if err != nil {
		session.logger.Warnf("session failed, %v", err)
		session.report(err)
		session.conn.Abort(err)
	} else {
		session.conn.Close()
	}

	session.logger.Infof("session ended, received %d images, sent %d results",
		session.imagesReceived.Load(), session.resultsSent.Load())

	return err
}

// report sends failures caused by the server side rather than the client to
// the error reporter.
func (session *Session) report(err error) {
	kind := errors.KindOf(err)
	switch kind {
	case "compute", "unknown":
		sentry.CaptureError(err, map[string]string{
			"session": session.Id,
			"kind":    kind,
		})
	}
}

func (session *Session) run() error {
	request, err := session.conn.Exchange(infcom.NewCommand(infcom.SendMode))
	if err != nil {
		return err
	}

	mode := request.Data[0]
	switch mode {
	case infcom.ModeConfigure:
		return session.runMode(restapi.ModeConfigure, func() error {
			return session.configure()
		})

	case infcom.ModeCompiler:
		return session.runMode(restapi.ModeUpload, func() error {
			return session.upload(request)
		})

	case infcom.ModeInference:
		return session.runMode(restapi.ModeInference, func() error {
			return session.inference(request)
		})

	case infcom.ModeShadow:
		return ErrUnsupported.Wrapf("shadow mode is not supported")

	default:
		return ErrInvalidMode.Wrapf("mode %d", mode)
	}
}

func (session *Session) runMode(mode string, fn func() error) error {
	session.mutex.Lock()
	session.mode = mode
	session.mutex.Unlock()

	session.server.metrics.SessionStarted(mode)

	err := fn()
	session.server.metrics.SessionEnded(err)
	return err
}

// dims reads three consecutive W, H, C values from data.
func dims(data []int32) compute.Dims {
	return compute.Dims{W: data[0], H: data[1], C: data[2]}
}

// parseModel splits "modelName [options]" and applies the options it knows.
func (session *Session) parseModel(message string) (string, int, error) {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return "", 0, nil
	}

	topK := 0
	for _, option := range fields[1:] {
		key, value, _ := strings.Cut(option, "=")
		switch key {
		case "topk":
			k, err := strconv.Atoi(value)
			if err != nil || k < 1 || k > infcom.MaxTopK {
				return "", 0, ErrInvalidOption.Wrapf("%q, expected 1..%d", option, infcom.MaxTopK)
			}
			topK = k

		default:
			session.logger.Warnf("ignoring unknown option %q", option)
		}
	}

	return fields[0], topK, nil
}

func (session *Session) progress(percent int, format string, a ...any) error {
	_, err := session.conn.Exchange(infcom.NewCommand(infcom.InferenceInitialization, int32(percent)).
		WithMessage(fmt.Sprintf(format, a...)))
	return err
}

func (session *Session) inference(request infcom.Command) error {
	name, topK, err := session.parseModel(request.Text())
	if err != nil {
		return err
	}

	input, output := dims(request.Data[2:5]), dims(request.Data[5:8])

	model, found := session.server.registry.Resolve(name, input, output)
	if !found {
		return registry.ErrModelNotFound.Wrapf("%q input %s output %s", name, input, output)
	}
	if topK > model.Output.Size() {
		return ErrInvalidOption.Wrapf("top-%d of %d classes", topK, model.Output.Size())
	}

	ids, err := session.server.leases.Lease(int(request.Data[1]))
	if err != nil {
		return err
	}
	session.server.metrics.DevicesLeased(len(ids))

	defer func() {
		session.server.leases.Release(ids)
		session.server.metrics.DevicesLeased(-len(ids))
	}()

	session.mutex.Lock()
	session.model = model.Name
	session.topK = topK
	session.devices = ids
	session.mutex.Unlock()

	session.logger.Infof("running %s %s -> %s on devices %v, top-%d", model.Name, model.Input, model.Output, ids, topK)

	err = session.progress(0, "leased %d devices", len(ids))
	if err != nil {
		return err
	}

	config := pipeline.Config{
		BatchSize:     session.server.config.BatchSize,
		PoolDepth:     session.server.config.PoolDepth,
		DecodeWorkers: session.server.config.DecodeWorkers,
		Input:         model.Input,
		Output:        model.Output,
		TopK:          topK,
		Preprocess: imaging.Preprocess{
			ReverseChannels: model.ReverseChannels,
			Multiply:        model.Multiply,
			Add:             model.Add,
		},
		Observer: session.server.metrics,
		Logger:   session.logger,
	}

	graphs := make([]pipeline.DeviceGraph, 0, len(ids))
	defer func() {
		for _, graph := range graphs {
			err := graph.Graph.Close()
			if err != nil {
				session.logger.Warnf("closing graph on device %d failed, %v", graph.Device, err)
			}
		}
	}()

	for i, id := range ids {
		graph, err := session.server.backend.CreateGraph(id, model.Artifact, config.InputDesc(), config.OutputDesc())
		if err != nil {
			return err
		}
		graphs = append(graphs, pipeline.DeviceGraph{Device: id, Graph: graph})

		err = session.progress(10+80*(i+1)/len(ids), "created graph on device %d", id)
		if err != nil {
			return err
		}
	}

	engine, err := pipeline.NewEngine(config, graphs)
	if err != nil {
		return err
	}

	engine.Start(session.taskManager)
	defer func() {
		session.taskManager.Cancel()
		session.taskManager.Wait()
	}()

	session.mutex.Lock()
	session.engine = engine
	session.mutex.Unlock()

	err = session.progress(100, "ready")
	if err != nil {
		return err
	}

	session.setState(restapi.SessionRunning)
	return session.serve(engine, topK)
}

// serve exchanges images and results until every result of the session has
// been delivered.
func (session *Session) serve(engine *pipeline.Engine, topK int) error {
	ctx := session.taskManager.Ctx()
	perCommand := infcom.ResultsPerCommand(topK)
	endOfInput := false

	for {
		if ctx.Err() != nil {
			return session.stopped()
		}

		didSomething := false

		for {
			results, done := engine.Drain(perCommand)
			if len(results) == 0 {
				if done {
					return session.finish()
				}
				break
			}

			didSomething = true

			err := session.sendResults(results, topK)
			if err != nil {
				return err
			}
		}

		if !endOfInput && engine.InFlight() < session.server.config.MaxInFlight {
			didSomething = true

			var err error
			endOfInput, err = session.receiveImages(engine)
			if err != nil {
				return err
			}
		}

		if !didSomething {
			select {
			case <-ctx.Done():
			case <-time.After(session.server.config.IdlePoll):
			}
		}
	}
}

// stopped reports why the session context ended: an engine failure, or an
// explicit cancellation.
func (session *Session) stopped() error {
	err := session.taskManager.Wait()
	if err != nil {
		return err
	}

	return ErrCancelled
}

func (session *Session) sendResults(results []pipeline.Result, topK int) error {
	converted := make([]infcom.Result, len(results))
	for i, result := range results {
		converted[i] = infcom.Result(result)
	}

	_, err := session.conn.Exchange(infcom.EncodeResults(converted, topK))
	if err != nil {
		return err
	}

	session.resultsSent.Add(uint64(len(results)))
	session.server.metrics.ResultsSent(len(results))
	return nil
}

// receiveImages asks the client for more images and submits those it sends.
// It reports true once the client has signalled the end of input.
func (session *Session) receiveImages(engine *pipeline.Engine) (bool, error) {
	requested := min(infcom.MaxImagesPerRequest, session.server.config.MaxInFlight-engine.InFlight())

	reply, err := session.conn.Exchange(infcom.NewCommand(infcom.SendImages, int32(requested)))
	if err != nil {
		return false, err
	}

	count := reply.Data[0]
	if count < 0 {
		session.setState(restapi.SessionDraining)
		engine.Submit(pipeline.Sentinel())
		return true, nil
	}
	if count > int32(requested) {
		return false, infcom.ErrProtocol.Wrapf("client sends %d images, %d were requested", count, requested)
	}

	for i := int32(0); i < count; i++ {
		tag, payload, err := session.conn.RecvFrame()
		if err != nil {
			return false, err
		}

		engine.Submit(pipeline.Job{Tag: tag, Payload: payload})
	}

	session.imagesReceived.Add(uint64(count))
	session.server.metrics.ImagesReceived(int(count))
	return false, nil
}

// finish sends DONE{0} and waits for the client to acknowledge it.
func (session *Session) finish() error {
	session.setState(restapi.SessionClosing)

	_, err := session.conn.Exchange(infcom.NewCommand(infcom.Done))
	return err
}
