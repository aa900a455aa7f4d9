package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ptparser/internal/export"
)

var extractCmd = &cobra.Command{
	Use:   "extract [extract.osm.pbf]",
	Short: "Extract routes and write them to a file",
	Long:  `Extract every selected relation and write the routes as json, yaml, geojson or a csv listing of stops.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatName, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		p, err := newParser(cmd.Context(), args)
		if err != nil {
			return err
		}
		routes, err := p.PublicTransports(cmd.Context(), state.cfg.Gap)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" && output != "-" {
			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer file.Close()
			w = file
		}
		if err := export.Write(w, format, routes); err != nil {
			return fmt.Errorf("failed to write %s: %w", format, err)
		}
		state.logger.Info("routes written",
			zap.Int("routes", len(routes)),
			zap.String("format", string(format)),
			zap.String("output", output),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("format", "f", "json", "output format: json, yaml, geojson or csv")
	extractCmd.Flags().StringP("output", "o", "-", "output file path (- for stdout)")
}
