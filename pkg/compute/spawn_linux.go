/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package compute

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/NVIDIA/go-nvml/pkg/dl"
	"golang.org/x/sys/unix"
)

// The runner finds its end of the socketpair here, the first of ExtraFiles.
const RunnerFd = 3

func probeLibrary(name string) error {
	lib := dl.New(name, dl.RTLD_NOW|dl.RTLD_GLOBAL)
	err := lib.Open()
	if err != nil {
		return err
	}

	return lib.Close()
}

func spawnRunner(runner string, args []string, env []string, device int) (*exec.Cmd, net.Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, err
	}

	parentFile := os.NewFile(uintptr(fds[0]), "runner-parent")
	childFile := os.NewFile(uintptr(fds[1]), "runner-child")
	defer childFile.Close()

	conn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		return nil, nil, err
	}

	args = append(append([]string{}, args...), "--ipc-fd", strconv.Itoa(RunnerFd), "--device", strconv.Itoa(device))

	cmd := exec.Command(runner, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: unix.SIGKILL,
	}

	err = cmd.Start()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return cmd, conn, nil
}

// RunnerConn returns the runner's end of the socketpair inherited at fd.
func RunnerConn(fd int) (net.Conn, error) {
	file := os.NewFile(uintptr(fd), "runner-ipc")
	defer file.Close()

	return net.FileConn(file)
}
