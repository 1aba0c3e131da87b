package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"dockwatch.sh/internal/version"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of dockwatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Fprintf(out, "%s version %s\n", bold("dockwatch"), green(info.Version))
			fmt.Fprintf(out, "  commit:  %s\n", info.CommitSHA)
			fmt.Fprintf(out, "  built:   %s\n", info.BuildTime)
			fmt.Fprintf(out, "  go:      %s\n", info.GoVersion)
			fmt.Fprintf(out, "  os/arch: %s\n", info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print build information as JSON")
	return cmd
}
