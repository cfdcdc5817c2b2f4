// Command aegislive runs live voice and video consultations from a terminal.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Nathan-Asif/AegisMedix/logger"
)

var rootCmd = &cobra.Command{
	Use:   "aegislive",
	Short: "Real-time voice and video consultation client",
	Long: `aegislive streams microphone audio and camera snapshots to the consultation
service, plays the assistant's synthesized speech, and prints the transcript
and end-of-session summary.`,
	Version:      versionString(),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("verbose") {
			return nil
		}
		verbose, err := cmd.Flags().GetBool("verbose")
		if err != nil {
			return err
		}
		logger.SetVerbose(verbose)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.StringP("config", "c", "", "Configuration file path (default ./aegislive.yaml)")
	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
