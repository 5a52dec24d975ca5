/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Juice-Labs/annserver/cmd/internal/build"
	"github.com/Juice-Labs/annserver/pkg/infcom"
	"github.com/Juice-Labs/annserver/pkg/logger"
)

var (
	address string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "annclient",
	Short:         "Client of the ANN inference server",
	Version:       build.Version,
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err == nil {
			if value, found := os.LookupEnv("ANNSERVER_ADDRESS"); found && !cmd.Flags().Changed("address") {
				address = value
			}
		}

		return logger.Configure()
	},
}

func dial(cmd *cobra.Command) (*infcom.Client, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	return infcom.Dial(ctx, address, timeout)
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&address, "address", "127.0.0.1:28282", "Address of the inference server")
	pflags.DurationVar(&timeout, "timeout", infcom.DefaultTimeout, "Deadline of every socket operation")

	// Logging flags are registered with the standard flag package.
	pflags.AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(configCmd, runCmd, uploadCmd, statusCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Close()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
