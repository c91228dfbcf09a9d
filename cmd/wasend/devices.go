package main

import (
	"github.com/spf13/cobra"

	"wasender/internal/devices"
)

func newDevicesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Aliases: []string{"dev"},
		Short:   "List gateway devices",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, err := root.client()
			if err != nil {
				return err
			}
			list, err := devices.NewRegistry(gw).List(cmd.Context())
			if err != nil {
				return err
			}
			renderDevices(cmd.OutOrStdout(), list)
			return nil
		},
	}
}
