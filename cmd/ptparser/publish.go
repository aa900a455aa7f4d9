package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ptparser/internal/publisher"
)

var publishCmd = &cobra.Command{
	Use:   "publish [extract.osm.pbf]",
	Short: "Publish routes to NATS",
	Long:  `Extract the routes and publish one JSON message per route on <prefix>.<mode>.<relation id>.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := newParser(ctx, args)
		if err != nil {
			return err
		}
		routes, err := p.PublicTransports(ctx, state.cfg.Gap)
		if err != nil {
			return err
		}

		pub, err := publisher.NewNATSPublisher(state.logger, state.cfg.NATSURL, state.cfg.NATSSubjectPrefix,
			state.cfg.LogNATSSubjects, wrapPublisherMetrics(state.mcol))
		if err != nil {
			return err
		}
		defer pub.Close()

		runID := uuid.NewString()
		sent, err := pub.PublishRoutes(ctx, runID, routes)
		if err != nil {
			return fmt.Errorf("published %d of %d routes: %w", sent, len(routes), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %d routes (run %s)\n", sent, runID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
