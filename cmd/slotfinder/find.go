package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"slotfinder/internal/availability"
	"slotfinder/internal/config"
	"slotfinder/internal/report"
)

type findOptions struct {
	source   string
	url      string
	days     int
	hours    float64
	asJSON   bool
	cap      int
	timezone string
}

// findFailure is the --json output when no slot list could be computed.
type findFailure struct {
	Status availability.Status `json:"status"`
	Error  string              `json:"error"`
}

func newFindCmd(root *rootOptions) *cobra.Command {
	opts := &findOptions{}

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Print free slots for one calendar and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}

			source := opts.source
			if opts.url != "" {
				a.calendar.AllowRawURL = true
				source = opts.url
			}
			if source == "" {
				source = a.defaultSource()
			}
			if source == "" {
				return errNoSource
			}

			req := availability.Request{
				Source:          source,
				Days:            a.cfg.DaysToSearch,
				MinimumDuration: a.cfg.MinimumDuration(),
			}
			if cmd.Flags().Changed("days") {
				req.Days = opts.days
			}
			if cmd.Flags().Changed("hours") {
				req.MinimumDuration = config.HoursToDuration(opts.hours)
				if req.MinimumDuration <= 0 {
					return fmt.Errorf("--hours must be positive, got %v", opts.hours)
				}
			}

			tz := a.cfg.Timezone
			if opts.timezone != "" {
				tz = opts.timezone
			}
			loc, err := report.LoadLocation(tz)
			if err != nil {
				return err
			}
			displayCap := a.cfg.DisplayCap
			if cmd.Flags().Changed("cap") {
				displayCap = opts.cap
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			res := a.finder.Find(ctx, req)
			ropts := report.Options{Location: loc, Cap: displayCap}

			failed := res.Status == availability.StatusFetchFailure || res.Status == availability.StatusInvalidRequest

			out := cmd.OutOrStdout()
			if opts.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				var payload any = report.Structured(res, ropts)
				if failed {
					payload = findFailure{Status: res.Status, Error: res.Err.Error()}
				}
				if err := enc.Encode(payload); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, report.Summary(res, ropts))
			}

			if failed {
				return res.Err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "Configured calendar id (default: first configured)")
	cmd.Flags().StringVar(&opts.url, "url", "", "ICS URL to read instead of a configured calendar")
	cmd.Flags().IntVar(&opts.days, "days", availability.DefaultDays, "Days ahead to search")
	cmd.Flags().Float64Var(&opts.hours, "hours", 1, "Minimum slot length in hours")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print slots as JSON")
	cmd.Flags().IntVar(&opts.cap, "cap", report.DefaultCap, "Maximum slots to print (-1 for all)")
	cmd.Flags().StringVar(&opts.timezone, "timezone", "", "Display timezone (default: config timezone)")

	return cmd
}
