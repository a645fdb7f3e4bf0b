package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/persistence/runs"
)

func newListCmd() *cobra.Command {
	var (
		storePath string
		filter    run.Filter
		status    string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent tool invocations from a run history database",
		Long: `The list command reads the run history written by serve. The database is
locked while a server has it open, so stop the server or point --store-path at
a copy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if storePath == "" {
				storePath = os.Getenv("CWL_MCP_STORE_PATH")
			}
			if storePath == "" {
				return fmt.Errorf("--store-path or CWL_MCP_STORE_PATH is required")
			}
			if _, err := os.Stat(storePath); err != nil {
				return fmt.Errorf("run history %s: %w", storePath, err)
			}
			filter.Status = run.Status(status)

			store, err := runs.NewBoltStore(storePath, 0, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if records == nil {
				records = []run.Record{}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			return printRecords(cmd.OutOrStdout(), records)
		},
	}

	f := cmd.Flags()
	f.StringVar(&storePath, "store-path", "", "Run history database path (defaults to CWL_MCP_STORE_PATH)")
	f.StringVar(&filter.Tool, "tool", "", "Only show runs of this tool")
	f.StringVar(&status, "status", "", "Only show runs with this status (succeeded, failed)")
	f.IntVar(&filter.Limit, "limit", 20, "Maximum number of runs to show")
	f.BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func printRecords(out io.Writer, records []run.Record) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTOOL\tSTATUS\tEXIT\tSTARTED\tDURATION\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Tool, r.Status, r.ExitCode,
			r.StartedAt.Local().Format(time.DateTime),
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
			r.ErrorCode)
	}
	return w.Flush()
}
