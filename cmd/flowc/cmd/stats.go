package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/samaelod/flowc/compiler"
	"github.com/samaelod/flowc/profile"
)

var colorHeader = color.New(color.Bold, color.FgHiBlue).SprintFunc()

func init() {
	rootCmd.AddCommand(statsCmd)
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats <profile.lua|capture.pcap>",
	Short: "Show the expected load of a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := compiler.New(compilerOptions())
		if err := c.Load(args[0]); err != nil {
			return err
		}
		stats, err := c.Stats()
		if err != nil {
			return err
		}
		printStats(os.Stdout, stats)
		return nil
	},
}

func printStats(out io.Writer, s *profile.Stats) {
	fmt.Fprintf(out, "%s %d buffers, %d programs, %d address pools\n\n", colorHeader("Profile:"), s.Buffers, s.Programs, s.Pools)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, colorHeader("TEMPLATE\tGROUP\tCPS\tBYTES/CONN\tBANDWIDTH"))
	for _, t := range s.Templates {
		group := t.Group
		if group == "" {
			group = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%g\t%s\t%s\n", t.Index, group, t.CPS, humanize.Bytes(t.TotalBytes), humanize.SIWithDigits(t.BPS, 2, "bps"))
	}
	fmt.Fprintf(w, "total\t\t%g\t\t%s\n", s.TotalCPS, humanize.SIWithDigits(s.TotalBPS, 2, "bps"))
	w.Flush()
}
