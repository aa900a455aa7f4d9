package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ptparser/internal/pt"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [extract.osm.pbf]",
	Short: "Summarise parse statuses of the selected routes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")

		p, err := newParser(cmd.Context(), args)
		if err != nil {
			return err
		}
		routes, err := p.PublicTransports(cmd.Context(), state.cfg.Gap)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %d relations, gap %.0f m, %d threads\n\n", p.Path(), len(routes), state.cfg.Gap, p.Threads())
		if err := writeSummary(out, routes); err != nil {
			return err
		}
		if verbose {
			fmt.Fprintln(out)
			return writeDegraded(out, routes)
		}
		return nil
	},
}

type statusCount struct {
	code   uint64
	routes int
	modes  map[string]int
}

func summarize(routes []pt.Route) []statusCount {
	byCode := map[uint64]*statusCount{}
	for _, r := range routes {
		sc, ok := byCode[r.Status.Code]
		if !ok {
			sc = &statusCount{code: r.Status.Code, modes: map[string]int{}}
			byCode[r.Status.Code] = sc
		}
		sc.routes++
		sc.modes[r.Mode()]++
	}
	out := make([]statusCount, 0, len(byCode))
	for _, sc := range byCode {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].code < out[j].code })
	return out
}

func writeSummary(w io.Writer, routes []pt.Route) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tROUTES\tMODES")
	for _, sc := range summarize(routes) {
		modes := make([]string, 0, len(sc.modes))
		for m := range sc.modes {
			modes = append(modes, m)
		}
		sort.Strings(modes)
		line := ""
		for i, m := range modes {
			if i > 0 {
				line += " "
			}
			line += fmt.Sprintf("%s=%d", m, sc.modes[m])
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\n", sc.code, sc.routes, line)
	}
	return tw.Flush()
}

func writeDegraded(w io.Writer, routes []pt.Route) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tNAME\tSTATUS\tDETAIL")
	for _, r := range routes {
		if r.OK() {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", r.ID, r.Mode(), r.Name(), r.Status.Code, r.Status.Detail)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolP("verbose", "v", false, "list every degraded route")
}
