package main

import (
	"github.com/spf13/cobra"

	"slotfinder/internal/mcptool"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the find_free_slots tool over stdio (MCP)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}

			tool := mcptool.New(a.finder, mcptool.Options{
				Source:          a.defaultSource(),
				Days:            a.cfg.DaysToSearch,
				MinimumDuration: a.cfg.MinimumDuration(),
				Location:        a.cfg.Location(),
				Cap:             a.cfg.DisplayCap,
			})
			return mcptool.ServeStdio(mcptool.NewServer(version, tool))
		},
	}
}
