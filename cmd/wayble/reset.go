package main

import (
	"github.com/spf13/cobra"
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the Bluetooth stack and forget the last device",
	Long: `Tear down any live connection, recreate the Bluetooth stack and clear the
last-device cache, so the next send starts with a fresh scan.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func runReset(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	cmd.SilenceUsage = true

	ctx, cancel := signalContext()
	defer cancel()

	err = rt.engine.ResetRadioStack(ctx)
	rt.notify(rt.out)
	return err
}
