package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"parlor/server"
)

var ctlCmd = &cobra.Command{
	Use:       "ctl <stats|shutdown>",
	Short:     "Send a command to a running server over its control socket",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{server.ControlStats, server.ControlShutdown},
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := server.SendControl(cfg.Control.Socket, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ctlCmd)
}
