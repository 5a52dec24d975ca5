/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	uploadInput  string
	uploadOutput string
)

var uploadCmd = &cobra.Command{
	Use:   "upload MODEL ARTIFACT",
	Short: "Uploads a graph artifact as a new model",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := parseDims(uploadInput)
		if err != nil {
			return err
		}
		output, err := parseDims(uploadOutput)
		if err != nil {
			return err
		}

		artifact, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}

		client, err := dial(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		err = client.Upload(args[0], input, output, filepath.Base(args[1]), artifact)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s, %d bytes\n", args[0], len(artifact))
		return nil
	},
}

func init() {
	flags := uploadCmd.Flags()
	flags.StringVar(&uploadInput, "input", "", "Input dims WxHxC")
	flags.StringVar(&uploadOutput, "output", "", "Output dims WxHxC")
	uploadCmd.MarkFlagRequired("input")
	uploadCmd.MarkFlagRequired("output")
}
