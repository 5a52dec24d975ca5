//go:build !linux

/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package compute

import (
	"net"
	"os/exec"

	"github.com/Juice-Labs/annserver/pkg/errors"
)

const RunnerFd = 3

var ErrUnsupported = errors.New("compute: runner processes are only supported on linux")

func probeLibrary(name string) error {
	return ErrUnsupported
}

func spawnRunner(runner string, args []string, env []string, device int) (*exec.Cmd, net.Conn, error) {
	return nil, nil, ErrUnsupported
}

func RunnerConn(fd int) (net.Conn, error) {
	return nil, ErrUnsupported
}
