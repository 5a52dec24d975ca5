/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package appmain

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Juice-Labs/annserver/pkg/logger"
	"github.com/Juice-Labs/annserver/pkg/sentry"
	"github.com/Juice-Labs/annserver/pkg/task"
)

type Config struct {
	Name    string
	Version string

	SentryConfig sentry.ClientOptions
}

const (
	ExitSuccess = 0
	ExitFailure = 1
)

var (
	printVersion = flag.Bool("version", false, "Prints the version and exits")
)

// Run parses flags, sets up logging and error reporting, then runs logic in a
// task group until SIGINT, SIGTERM or a task failure cancels it.
func Run(config Config, logic task.TaskFn) {
	flag.Parse()

	if *printVersion {
		fmt.Fprintln(os.Stdout, config.Version)
		os.Exit(ExitSuccess)
	}

	err := run(config, logic)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitFailure)
	}
}

func run(config Config, logic task.TaskFn) error {
	err := sentry.Initialize(config.SentryConfig)
	if err != nil {
		return err
	}
	defer sentry.Close()

	err = logger.Configure()
	if err != nil {
		return err
	}
	defer logger.Close()

	logger.Info(config.Name, ", v", config.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	taskManager := task.NewTaskManager(ctx)
	taskManager.GoFn("AppMain", logic)

	err = taskManager.Wait()
	if err != nil {
		logger.Error(err)
	}

	return err
}
