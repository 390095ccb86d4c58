package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/llmgov/internal/observability"
)

func newTelemetryCmd() *cobra.Command {
	var (
		dbPath string
		recent int
	)

	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Summarize telemetry stored by the SQLite sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := observability.NewSQLiteSink(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = sink.Shutdown(cmd.Context()) }()

			out := cmd.OutOrStdout()
			summary, err := sink.Summary(cmd.Context())
			if err != nil {
				return err
			}
			if len(summary) == 0 {
				fmt.Fprintln(out, "No telemetry recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tREQUESTS\tFAILURES\tCACHE HITS\tTOKENS\tCOST (USD)")
			for _, s := range summary {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.4f\n",
					s.Provider, s.Requests, s.Failures, s.CacheHits, s.TotalTokens, s.TotalCostUSD)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if recent <= 0 {
				return nil
			}
			records, err := sink.Recent(cmd.Context(), recent)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tREQUEST ID\tPROVIDER\tMODEL\tLATENCY\tTOKENS\tCOST\tSTATUS")
			for _, r := range records {
				status := "ok"
				if !r.Success {
					status = "failed"
				} else if r.CacheHit {
					status = "cached"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0fms\t%d\t%.6f\t%s\n",
					r.Timestamp.Format("2006-01-02T15:04:05"), r.RequestID, r.Provider, r.Model,
					r.LatencyMs, r.Tokens.Total, r.CostUSD, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "llmgov-telemetry.db", "SQLite telemetry database")
	cmd.Flags().IntVar(&recent, "recent", 0, "also list the N most recent records")
	return cmd
}
