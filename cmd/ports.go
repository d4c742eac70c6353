package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go-syncstart/midi"
	"go-syncstart/sequencer"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI outputs and drum kits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		names, err := midi.ListOutPorts(midi.ScanTimeout)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "MIDI outputs:")
		if len(names) == 0 {
			fmt.Fprintln(out, "  (none)")
		}
		for i, name := range names {
			mark := " "
			if name == cfg.MIDI.OutPort {
				mark = "*"
			}
			fmt.Fprintf(out, " %s%d: %s\n", mark, i, name)
		}

		fmt.Fprintln(out, "\nKits:")
		for _, name := range sequencer.KitNames() {
			kit := sequencer.Kits[name]
			fmt.Fprintf(out, "  %-5s %-16s %v\n", name, kit.Name, kit.Notes)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(portsCmd)
}
