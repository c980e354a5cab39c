package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "0.1.0"
	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"
	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print detailed version information including Git commit and build date.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), versionFields())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json")
	return cmd
}

func versionFields() cli.Fields {
	return cli.Fields{
		{Name: "Relay", Value: Version},
		{Name: "Git Commit", Value: GitCommit},
		{Name: "Build Date", Value: BuildDate},
		{Name: "Go Version", Value: runtime.Version()},
		{Name: "OS/Arch", Value: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)},
	}
}
