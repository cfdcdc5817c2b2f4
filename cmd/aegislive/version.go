package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.built=...".
var (
	version = ""
	commit  = ""
	built   = ""
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionInfo())
		},
	})
}

// versionString prefers the linker-set version, then the module version
// recorded by go install.
func versionString() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func versionInfo() string {
	s := "aegislive version " + versionString()
	if commit != "" {
		s += "\ncommit: " + commit
	}
	if built != "" {
		s += "\nbuilt: " + built
	}
	return s
}
