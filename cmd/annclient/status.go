/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Juice-Labs/annserver/pkg/restapi"
)

var (
	httpAddress string
	cancelId    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the devices and sessions of the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api := restapi.RestApi{
			Scheme:  "http",
			Address: httpAddress,
		}

		if cancelId != "" {
			err := api.CancelSessionWithContext(cmd.Context(), cancelId)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", cancelId)
			return nil
		}

		status, err := api.StatusWithContext(cmd.Context())
		if err != nil {
			return err
		}

		sessions, err := api.SessionsWithContext(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s v%s on %s, %s backend\n", status.Hostname, status.Version, status.Address, status.Backend)
		fmt.Fprintf(out, "devices: %d free of %d\n", status.FreeDevices, len(status.Devices))
		for _, device := range status.Devices {
			state := "idle"
			if device.Leased {
				state = "leased"
			}
			fmt.Fprintf(out, "  %d: %s (%s)\n", device.Index, device.Name, state)
		}

		fmt.Fprintf(out, "sessions: %d of %d\n", status.Sessions, status.MaxSessions)

		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tCLIENT\tMODE\tSTATE\tMODEL\tDEVICES\tRECEIVED\tSENT\tIN FLIGHT")
		for _, session := range sessions {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%v\t%d\t%d\t%d\n", session.Id, session.Address,
				session.Mode, session.State, session.Model, session.Devices,
				session.ImagesReceived, session.ResultsSent, session.InFlight)
		}
		return writer.Flush()
	},
}

func init() {
	flags := statusCmd.Flags()
	flags.StringVar(&httpAddress, "http-address", "127.0.0.1:28283", "Address of the status endpoints")
	flags.StringVar(&cancelId, "cancel", "", "Cancels the session with this id instead")
}
