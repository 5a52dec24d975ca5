/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Lists the models the server can run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dial(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		maxDevices, models, err := client.Configure()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "devices: %d\n", maxDevices)

		writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "MODEL\tINPUT\tOUTPUT\tREVERSE\tMULTIPLY\tADD")
		for _, model := range models {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%t\t%v\t%v\n", model.Name,
				formatDims(model.Input), formatDims(model.Output),
				model.ReverseChannels, model.Multiply, model.Add)
		}
		return writer.Flush()
	},
}
