/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"flag"

	"github.com/Juice-Labs/annserver/cmd/internal/build"
	"github.com/Juice-Labs/annserver/pkg/appmain"
	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/logger"
	"github.com/Juice-Labs/annserver/pkg/task"
)

var (
	ipcFd  = flag.Int("ipc-fd", compute.RunnerFd, "Inherited socket carrying graph requests")
	device = flag.Int("device", 0, "Device the graphs of this runner are created on")
)

// annrunner hosts the graph of one device for the process backend of annserver.
func main() {
	appmain.Run(appmain.Config{
		Name:    "ANN Runner",
		Version: build.Version,
	}, func(group task.Group) error {
		defer group.Cancel()

		conn, err := compute.RunnerConn(*ipcFd)
		if err != nil {
			return err
		}
		defer conn.Close()

		logger.Infof("serving device %d", *device)

		go func() {
			<-group.Ctx().Done()
			conn.Close()
		}()

		err = compute.ServeRunner(conn, compute.NewReference())
		if group.Ctx().Err() != nil {
			return nil
		}
		return err
	})
}
