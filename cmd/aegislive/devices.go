package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Nathan-Asif/AegisMedix/capture"
	"github.com/Nathan-Asif/AegisMedix/playback"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices and the output a session would use",
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := capture.ListInputs()
		if err != nil {
			return fmt.Errorf("failed to list inputs: %w", err)
		}
		outputs, err := playback.ListOutputs()
		if err != nil {
			return fmt.Errorf("failed to list outputs: %w", err)
		}
		printDevices(cmd.OutOrStdout(), inputs, outputs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func printDevices(w io.Writer, inputs []capture.InputInfo, outputs []playback.DeviceInfo) {
	fmt.Fprintln(w, labelStyle.Render("Inputs"))
	for _, d := range inputs {
		fmt.Fprintf(w, "  %s%s\n", d.Name, defaultMark(d.IsDefault))
	}

	fmt.Fprintln(w, labelStyle.Render("Outputs"))
	for _, d := range outputs {
		fmt.Fprintf(w, "  %s%s\n", d.Name, defaultMark(d.IsDefault))
	}

	if selected, ok := playback.SelectOutput(outputs); ok {
		fmt.Fprintf(w, "\nSpeech plays on: %s\n", activeStyle.Render(selected.Name))
	} else {
		fmt.Fprintln(w, "\n"+errorStyle.Render("No output device available"))
	}
}

func defaultMark(isDefault bool) string {
	if isDefault {
		return " (default)"
	}
	return ""
}
