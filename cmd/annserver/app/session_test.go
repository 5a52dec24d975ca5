/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"bytes"
	"context"
	"flag"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/device"
	"github.com/Juice-Labs/annserver/pkg/errors"
	"github.com/Juice-Labs/annserver/pkg/infcom"
	"github.com/Juice-Labs/annserver/pkg/registry"
	"github.com/Juice-Labs/annserver/pkg/restapi"
	"github.com/Juice-Labs/annserver/pkg/task"
)

var (
	testInput  = [3]int32{4, 4, 3}
	testOutput = [3]int32{1, 1, 10}
)

type testServer struct {
	*Server

	group *task.TaskManager
}

func newTestServer(t *testing.T, devices int, backend compute.Backend, modify func(*Config)) *testServer {
	t.Helper()

	models, err := registry.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	artifact := filepath.Join(t.TempDir(), "graph.bin")
	err = os.WriteFile(artifact, []byte("graph"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	err = models.Add(registry.Model{
		Name:     "net",
		Input:    compute.Dims{W: 4, H: 4, C: 3},
		Output:   compute.Dims{W: 1, H: 1, C: 10},
		Artifact: artifact,
		Source:   registry.SourceConfigured,
		Multiply: [3]float32{1, 1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	config := Config{
		BatchSize:         4,
		PoolDepth:         2,
		DecodeWorkers:     2,
		IdlePoll:          time.Millisecond,
		ConnectionTimeout: 3 * time.Second,
		MaxInFlight:       64,
		MaxSessions:       4,
		MaxArtifactSize:   1024 * 1024,
	}
	if modify != nil {
		modify(&config)
	}

	if backend == nil {
		backend = compute.NewReference()
	}

	server, err := NewServer(config, "test", device.NewLeases(device.Anonymous(devices)), models, backend)
	if err != nil {
		t.Fatal(err)
	}

	return &testServer{
		Server: server,
		group:  task.NewTaskManager(context.Background()),
	}
}

// connect serves one end of a pipe and returns a client on the other.
func (server *testServer) connect() *infcom.Client {
	serverConn, clientConn := net.Pipe()
	server.Serve(server.group, serverConn)
	return infcom.NewClient(clientConn, 3*time.Second)
}

// join waits for every session to end.
func (server *testServer) join(t *testing.T) {
	t.Helper()

	err := server.group.Join()
	if err != nil {
		t.Errorf("server group failed with, %v", err)
	}
}

func encodePng(t *testing.T, value uint8) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, color.RGBA{R: value, G: value, B: value, A: 255})
		}
	}

	var buffer bytes.Buffer
	err := png.Encode(&buffer, img)
	if err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

type sliceSource struct {
	images [][]byte
	next   int
}

func (source *sliceSource) Next() (int32, []byte, error) {
	if source.next >= len(source.images) {
		return 0, nil, io.EOF
	}

	tag := int32(source.next)
	source.next++
	return tag, source.images[tag], nil
}

func newSliceSource(t *testing.T, count int) *sliceSource {
	source := &sliceSource{}
	for i := 0; i < count; i++ {
		source.images = append(source.images, encodePng(t, uint8(i)))
	}
	return source
}

// endlessSource never runs out of images.
type endlessSource struct {
	image []byte
	next  int32
}

func (source *endlessSource) Next() (int32, []byte, error) {
	source.next++
	return source.next, source.image, nil
}

func runConfig(devices int32, options ...string) infcom.RunConfig {
	return infcom.RunConfig{
		Model:   "net",
		Devices: devices,
		Input:   testInput,
		Output:  testOutput,
		Options: options,
	}
}

func TestInferenceRoundTrip(t *testing.T) {
	server := newTestServer(t, 2, nil, nil)
	client := server.connect()
	defer client.Close()

	const images = 50

	var progress []int32
	config := runConfig(2)
	config.Progress = func(percent int32, text string) {
		progress = append(progress, percent)
	}

	seen := map[int32]int{}
	err := client.Run(config, newSliceSource(t, images), func(result infcom.Result) {
		seen[result.Tag]++
		if result.Label < 0 || result.Label >= 10 {
			t.Errorf("tag %d has label %d", result.Tag, result.Label)
		}
	})
	if err != nil {
		t.Fatalf("run failed with, %v", err)
	}

	if len(seen) != images {
		t.Errorf("expected %d tags, got %d", images, len(seen))
	}
	for tag, count := range seen {
		if count != 1 {
			t.Errorf("tag %d delivered %d times", tag, count)
		}
	}

	if len(progress) == 0 || progress[0] != 0 || progress[len(progress)-1] != 100 {
		t.Errorf("expected progress from 0 to 100, got %v", progress)
	}

	server.join(t)

	if server.leases.Free() != 2 {
		t.Errorf("expected both devices to be released, %d free", server.leases.Free())
	}
}

func TestInferenceTopK(t *testing.T) {
	server := newTestServer(t, 1, nil, nil)
	client := server.connect()
	defer client.Close()

	count := 0
	err := client.Run(runConfig(1, "topk=3", "verbose"), newSliceSource(t, 9), func(result infcom.Result) {
		count++
		if len(result.Labels) != 3 || len(result.Probabilities) != 3 {
			t.Errorf("tag %d has %d labels", result.Tag, len(result.Labels))
			return
		}
		if result.Label != result.Labels[0] {
			t.Errorf("tag %d label %d is not the best of %v", result.Tag, result.Label, result.Labels)
		}
		if result.Probabilities[0] < result.Probabilities[2] {
			t.Errorf("tag %d probabilities are not descending, %v", result.Tag, result.Probabilities)
		}
	})
	if err != nil {
		t.Fatalf("run failed with, %v", err)
	}

	if count != 9 {
		t.Errorf("expected 9 results, got %d", count)
	}

	server.join(t)
}

func TestImmediateEndOfInput(t *testing.T) {
	server := newTestServer(t, 2, nil, nil)
	client := server.connect()
	defer client.Close()

	count := 0
	err := client.Run(runConfig(2), &sliceSource{}, func(result infcom.Result) {
		count++
	})
	if err != nil {
		t.Fatalf("run failed with, %v", err)
	}

	if count != 0 {
		t.Errorf("expected no results, got %d", count)
	}

	server.join(t)

	if server.leases.Free() != 2 {
		t.Errorf("expected both devices to be released, %d free", server.leases.Free())
	}
}

func TestInsufficientDevices(t *testing.T) {
	server := newTestServer(t, 1, nil, nil)
	client := server.connect()
	defer client.Close()

	err := client.Run(runConfig(2), newSliceSource(t, 4), func(result infcom.Result) {
		t.Errorf("unexpected result for tag %d", result.Tag)
	})
	if !errors.Is(err, infcom.ErrRejected) {
		t.Fatalf("expected the session to be rejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "device") {
		t.Errorf("expected the rejection to name devices, got %v", err)
	}

	server.join(t)

	if server.leases.Free() != 1 {
		t.Errorf("expected the free device to stay free, %d free", server.leases.Free())
	}
}

func TestUnknownModel(t *testing.T) {
	server := newTestServer(t, 1, nil, nil)
	client := server.connect()
	defer client.Close()

	config := runConfig(1)
	config.Output = [3]int32{1, 1, 1000}

	err := client.Run(config, newSliceSource(t, 1), func(infcom.Result) {})
	if !errors.Is(err, infcom.ErrRejected) {
		t.Fatalf("expected the session to be rejected, got %v", err)
	}

	server.join(t)

	if server.leases.Free() != 1 {
		t.Errorf("expected no device to be leased, %d free", server.leases.Free())
	}
}

func TestInvalidTopK(t *testing.T) {
	server := newTestServer(t, 1, nil, nil)
	client := server.connect()
	defer client.Close()

	err := client.Run(runConfig(1, "topk=9"), newSliceSource(t, 1), func(infcom.Result) {})
	if !errors.Is(err, infcom.ErrRejected) {
		t.Fatalf("expected the session to be rejected, got %v", err)
	}

	server.join(t)
}

type failingBackend struct {
	*compute.Reference
}

func (backend failingBackend) CreateGraph(device int, artifact string, input compute.TensorDesc, output compute.TensorDesc) (compute.Graph, error) {
	graph, err := backend.Reference.CreateGraph(device, artifact, input, output)
	if err != nil {
		return nil, err
	}
	return failingGraph{graph}, nil
}

type failingGraph struct {
	compute.Graph
}

func (failingGraph) Process() error {
	return compute.ErrComputeBackend.Wrapf("device lost")
}

func TestComputeFailureIsolatesSession(t *testing.T) {
	server := newTestServer(t, 2, failingBackend{compute.NewReference()}, nil)
	client := server.connect()
	defer client.Close()

	err := client.Run(runConfig(2), newSliceSource(t, 20), func(infcom.Result) {})
	if !errors.Is(err, infcom.ErrRejected) {
		t.Fatalf("expected the session to fail, got %v", err)
	}

	server.join(t)

	if server.leases.Free() != 2 {
		t.Errorf("expected both devices to be released, %d free", server.leases.Free())
	}

	// The server keeps serving other sessions.
	other := server.connect()
	defer other.Close()

	maxDevices, models, err := other.Configure()
	if err != nil {
		t.Fatalf("configure after a failed session failed with, %v", err)
	}
	if maxDevices != 2 || len(models) != 1 {
		t.Errorf("expected 2 devices and 1 model, got %d and %d", maxDevices, len(models))
	}

	server.join(t)
}

func TestConfigure(t *testing.T) {
	server := newTestServer(t, 3, nil, nil)
	client := server.connect()
	defer client.Close()

	maxDevices, models, err := client.Configure()
	if err != nil {
		t.Fatalf("configure failed with, %v", err)
	}

	if maxDevices != 3 {
		t.Errorf("expected 3 devices, got %d", maxDevices)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}

	model := models[0]
	if model.Name != "net" || model.Input != testInput || model.Output != testOutput {
		t.Errorf("unexpected model %+v", model)
	}
	if model.Multiply != [3]float32{1, 1, 1} {
		t.Errorf("unexpected multiply %v", model.Multiply)
	}

	server.join(t)
}

func TestUpload(t *testing.T) {
	server := newTestServer(t, 1, nil, nil)

	client := server.connect()
	err := client.Upload("uploaded", testInput, [3]int32{1, 1, 5}, "graph.bin", []byte("uploaded graph"))
	client.Close()
	if err != nil {
		t.Fatalf("upload failed with, %v", err)
	}

	server.join(t)

	model, err := server.registry.Get("uploaded")
	if err != nil {
		t.Fatal(err)
	}
	if model.Source != registry.SourceUploaded || model.Digest == "" {
		t.Errorf("unexpected model %+v", model)
	}

	data, err := os.ReadFile(model.Artifact)
	if err != nil || string(data) != "uploaded graph" {
		t.Errorf("artifact holds %q, %v", data, err)
	}

	// The uploaded model serves inference right away.
	client = server.connect()
	defer client.Close()

	config := runConfig(1)
	config.Model = "uploaded"
	config.Output = [3]int32{1, 1, 5}

	count := 0
	err = client.Run(config, newSliceSource(t, 5), func(result infcom.Result) {
		count++
		if result.Label < 0 || result.Label >= 5 {
			t.Errorf("tag %d has label %d", result.Tag, result.Label)
		}
	})
	if err != nil {
		t.Fatalf("run failed with, %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 results, got %d", count)
	}

	server.join(t)
}

func TestUploadRejectsInvalidName(t *testing.T) {
	server := newTestServer(t, 1, nil, nil)
	client := server.connect()
	defer client.Close()

	err := client.Upload("../escape", testInput, testOutput, "graph.bin", []byte("graph"))
	if !errors.Is(err, infcom.ErrRejected) {
		t.Fatalf("expected the upload to be rejected, got %v", err)
	}

	server.join(t)

	_, err = server.registry.Get("../escape")
	if !errors.Is(err, registry.ErrModelNotFound) {
		t.Errorf("expected no model to be registered, got %v", err)
	}
}

func TestShadowModeIsRejected(t *testing.T) {
	server := newTestServer(t, 1, nil, nil)

	serverConn, clientConn := net.Pipe()
	server.Serve(server.group, serverConn)

	conn := infcom.NewConn(clientConn, 3*time.Second)
	defer conn.Close()

	_, err := conn.Recv(infcom.SendMode)
	if err != nil {
		t.Fatal(err)
	}

	err = conn.Send(infcom.NewCommand(infcom.SendMode, infcom.ModeShadow))
	if err != nil {
		t.Fatal(err)
	}

	done, err := conn.Recv(infcom.Done)
	if err != nil {
		t.Fatal(err)
	}
	if done.Data[0] != -1 || !strings.Contains(done.Text(), "shadow") {
		t.Errorf("unexpected reply %s", done)
	}

	conn.Send(infcom.NewCommand(infcom.Done))

	server.join(t)
}

func TestProtocolViolation(t *testing.T) {
	server := newTestServer(t, 1, nil, nil)

	serverConn, clientConn := net.Pipe()
	server.Serve(server.group, serverConn)

	conn := infcom.NewConn(clientConn, 3*time.Second)
	defer conn.Close()

	_, err := conn.Recv(infcom.SendMode)
	if err != nil {
		t.Fatal(err)
	}

	err = conn.Send(infcom.NewCommand(infcom.SendImages, 1))
	if err != nil {
		t.Fatal(err)
	}

	done, err := conn.Recv(infcom.Done)
	if err != nil {
		t.Fatal(err)
	}
	if done.Data[0] != -1 {
		t.Errorf("expected an error status, got %s", done)
	}

	server.join(t)
}

func TestServerBusy(t *testing.T) {
	server := newTestServer(t, 1, nil, func(config *Config) {
		config.MaxSessions = 1
	})

	serverConn, clientConn := net.Pipe()
	server.Serve(server.group, serverConn)

	first := infcom.NewConn(clientConn, 3*time.Second)
	_, err := first.Recv(infcom.SendMode)
	if err != nil {
		t.Fatal(err)
	}

	second := server.connect()
	defer second.Close()

	_, _, err = second.Configure()
	if !errors.Is(err, infcom.ErrRejected) {
		t.Errorf("expected the second session to be refused, got %v", err)
	}

	first.Close()
	server.join(t)

	if server.sessionCount() != 0 {
		t.Errorf("expected no sessions, got %d", server.sessionCount())
	}
}

func TestHttpEndpoints(t *testing.T) {
	server := newTestServer(t, 2, nil, func(config *Config) {
		config.HttpAddress = "127.0.0.1:0"
		config.MaxInFlight = 8
	})

	httpServer := httptest.NewServer(server.Http.Handler())
	defer httpServer.Close()

	api := restapi.RestApi{
		Scheme:  "http",
		Address: strings.TrimPrefix(httpServer.URL, "http://"),
	}

	status, err := api.Status()
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Devices) != 2 || status.FreeDevices != 2 || status.Backend != "reference" {
		t.Errorf("unexpected status %+v", status)
	}

	models, err := api.Models()
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 || models[0].Name != "net" || models[0].Source != "configured" {
		t.Errorf("unexpected models %+v", models)
	}

	client := server.connect()
	defer client.Close()

	var once sync.Once
	cancelled := make(chan error, 1)

	err = client.Run(runConfig(1), &endlessSource{image: encodePng(t, 7)}, func(result infcom.Result) {
		once.Do(func() {
			go func() {
				sessions, err := api.Sessions()
				if err == nil && len(sessions) != 1 {
					err = errors.Newf("expected 1 session, got %d", len(sessions))
				}
				if err == nil {
					if sessions[0].Mode != restapi.ModeInference || len(sessions[0].Devices) != 1 {
						err = errors.Newf("unexpected session %+v", sessions[0])
					}
				}
				if err == nil {
					err = api.CancelSession(sessions[0].Id)
				}
				cancelled <- err
			}()
		})
	})
	if !errors.Is(err, infcom.ErrRejected) {
		t.Errorf("expected the cancelled session to be rejected, got %v", err)
	}

	err = <-cancelled
	if err != nil {
		t.Error(err)
	}

	server.join(t)

	err = api.CancelSession("missing")
	if err == nil {
		t.Error("expected cancelling an unknown session to fail")
	}

	status, err = api.Status()
	if err != nil {
		t.Fatal(err)
	}
	if status.FreeDevices != 2 || status.Sessions != 0 {
		t.Errorf("unexpected status after the session, %+v", status)
	}
}

func TestServerRun(t *testing.T) {
	server := newTestServer(t, 1, nil, func(config *Config) {
		config.Address = "127.0.0.1:0"
		config.AcceptRate = 100
	})

	err := server.Run(server.group)
	if err != nil {
		t.Fatal(err)
	}

	client, err := infcom.Dial(context.Background(), server.Addr(), 3*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	err = client.Run(runConfig(1), newSliceSource(t, 6), func(infcom.Result) {
		count++
	})
	client.Close()
	if err != nil {
		t.Fatalf("run over tcp failed with, %v", err)
	}
	if count != 6 {
		t.Errorf("expected 6 results, got %d", count)
	}

	server.group.Cancel()
	err = server.group.Wait()
	if err != nil {
		t.Errorf("server stopped with, %v", err)
	}
}

func TestInFlightBelowBatchSizeIsRejected(t *testing.T) {
	models, err := registry.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	leases := device.NewLeases(device.Anonymous(1))

	for _, config := range []Config{
		{BatchSize: 4, PoolDepth: 2, MaxInFlight: 3},
		{BatchSize: 0, PoolDepth: 2, MaxInFlight: 64},
		{BatchSize: 4, PoolDepth: 0, MaxInFlight: 64},
	} {
		_, err := NewServer(config, "test", leases, models, compute.NewReference())
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("batch size %d, pool depth %d, max in flight %d: expected ErrInvalidConfig, got %v",
				config.BatchSize, config.PoolDepth, config.MaxInFlight, err)
		}
	}

	server := newTestServer(t, 1, nil, func(config *Config) {
		config.BatchSize = 4
		config.MaxInFlight = 4
	})

	images := make([][]byte, 9)
	for i := range images {
		images[i] = encodePng(t, uint8(i*20))
	}

	client := server.connect()
	received := map[int32]int{}
	err = client.Run(runConfig(1), &sliceSource{images: images}, func(result infcom.Result) {
		received[result.Tag]++
	})
	if err != nil {
		t.Fatal(err)
	}
	server.join(t)

	if len(received) != len(images) {
		t.Errorf("expected %d results, got %d", len(images), len(received))
	}
	if server.leases.Free() != 1 {
		t.Errorf("expected the device to be released, %d free", server.leases.Free())
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(m.Run())
}
