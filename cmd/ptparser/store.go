package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"ptparser/internal/db"
)

var storeCmd = &cobra.Command{
	Use:   "store [extract.osm.pbf]",
	Short: "Extract routes and save them to Postgres or SQLite",
	Long: `Extract the routes and write them as one import run. STORE_DRIVER selects
pgx (DATABASE_URL or PG* variables) or sqlite (SQLITE_PATH).`,
	Args: cobra.MaximumNArgs(1),
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

		sqlDB, err := openStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		run, err := db.SaveRun(ctx, state.logger, sqlDB, db.Run{
			ID:      uuid.NewString(),
			Source:  p.Path(),
			Filter:  p.Filter(),
			Gap:     state.cfg.Gap,
			Threads: p.Threads(),
		}, routes)
		if state.mcol != nil {
			state.mcol.ObserveStore(len(routes), err)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored run %s: %d routes, %d degraded\n", run.ID, run.Routes, run.Degraded)
		return nil
	},
}

var storeRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored import runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		source, _ := cmd.Flags().GetString("source")

		sqlDB, err := openStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		var runs []db.Run
		if source != "" {
			run, err := db.LatestRun(ctx, sqlDB, source)
			if err != nil {
				return err
			}
			runs = []db.Run{run}
		} else if runs, err = db.Runs(ctx, sqlDB, limit); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tIMPORTED\tROUTES\tDEGRADED\tGAP\tSOURCE")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.0f\t%s\n",
				r.ID, r.ImportedAt.Format(time.RFC3339), r.Routes, r.Degraded, r.Gap, r.Source)
		}
		return tw.Flush()
	},
}

var storeRoutesCmd = &cobra.Command{
	Use:   "routes <run-id>",
	Short: "List the routes of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sqlDB, err := openStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		routes, err := db.RoutesOf(ctx, sqlDB, args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tMODE\tNAME\tSTOPS\tSEGMENTS\tSTATUS")
		for _, r := range routes {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d %s\n",
				r.ID, r.Mode, r.Name, r.Stops, r.Segments, r.StatusCode, r.StatusDetail)
		}
		return tw.Flush()
	},
}

// openStore connects to the configured store and ensures its schema.
func openStore(ctx context.Context, cmd *cobra.Command) (*sqlx.DB, error) {
	dsn, err := state.cfg.StoreDSN()
	if err != nil {
		return nil, err
	}
	if name, _ := cmd.Flags().GetString("dbname"); name != "" {
		if dsn, err = db.SelectDatabase(state.cfg.StoreDriver, dsn, name); err != nil {
			return nil, fmt.Errorf("compose DSN: %w", err)
		}
	}
	sqlDB, err := db.Open(state.cfg.StoreDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := db.EnsureSchema(ctx, state.logger, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeRunsCmd, storeRoutesCmd)

	storeCmd.PersistentFlags().String("dbname", "", "database to use instead of the configured one (a Postgres database or a SQLite file name)")
	storeRunsCmd.Flags().Int("limit", 20, "number of runs to list")
	storeRunsCmd.Flags().String("source", "", "show only the latest run whose source contains this text")
}
