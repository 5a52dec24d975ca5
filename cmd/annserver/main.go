/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"flag"
	"fmt"

	"github.com/joho/godotenv"

	"github.com/Juice-Labs/annserver/cmd/annserver/app"
	"github.com/Juice-Labs/annserver/cmd/internal/build"
	"github.com/Juice-Labs/annserver/pkg/appmain"
	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/crypto"
	"github.com/Juice-Labs/annserver/pkg/device"
	"github.com/Juice-Labs/annserver/pkg/logger"
	"github.com/Juice-Labs/annserver/pkg/registry"
	"github.com/Juice-Labs/annserver/pkg/task"
)

var (
	modelsFile    = flag.String("models", "", "YAML catalog of the configured models")
	uploadDir     = flag.String("upload-dir", "uploads", "Directory receiving uploaded model artifacts")
	backendName   = flag.String("backend", "reference", "Compute backend, reference or process")
	runner        = flag.String("runner", "annrunner", "Runner executable of the process backend")
	runnerLibrary = flag.String("runner-library", "", "Shared library the process backend requires before spawning runners")
)

func newBackend() (compute.Backend, error) {
	switch *backendName {
	case "reference":
		return compute.NewReference(), nil
	case "process":
		return compute.NewProcess(*runner, *runnerLibrary), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", *backendName)
	}
}

func main() {
	appmain.Run(appmain.Config{
		Name:    "ANN Inference Server",
		Version: build.Version,
	}, func(group task.Group) error {
		if err := godotenv.Load(); err != nil {
			logger.Infof("Could not load .env file: %v", err)
		}

		devices, err := device.Detect()
		if err != nil {
			return err
		}

		models, err := registry.New(*uploadDir)
		if err != nil {
			return err
		}

		if *modelsFile != "" {
			err = models.LoadCatalog(*modelsFile)
			if err != nil {
				return err
			}
		}

		backend, err := newBackend()
		if err != nil {
			return err
		}

		config := app.ConfigFromFlags()
		config.HttpTLS, err = crypto.TLSConfigFromFlags()
		if err != nil {
			return err
		}
		if config.HttpTLS == nil {
			logger.Warning("TLS is disabled, the HTTP endpoints are served over http")
		}

		server, err := app.NewServer(config, build.Version, device.NewLeases(devices), models, backend)
		if err != nil {
			return err
		}

		group.Go("Server", server)
		return nil
	})
}
