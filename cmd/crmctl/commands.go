package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/character-tun/character-crm-sub000/internal/app"
	"github.com/character-tun/character-crm-sub000/internal/catalog"
	"github.com/character-tun/character-crm-sub000/internal/queue"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage != "postgres" {
			return fmt.Errorf("migrate needs STORAGE=postgres, got %q", cfg.Storage)
		}
		st, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		st.Close()
		fmt.Println("migrations applied")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <catalog.yaml>",
	Short: "Create the templates and statuses listed in a catalog file",
	Long:  "Existing codes are left untouched, so seeding is safe to repeat.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := catalog.Load(args[0])
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := catalog.Seed(cmd.Context(), file, rt.Templates, rt.Registry)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("templates: %d created, %d skipped\n", res.TemplatesCreated, res.TemplatesSkipped)
		fmt.Printf("statuses:  %d created, %d skipped\n", res.StatusesCreated, res.StatusesSkipped)
		return nil
	},
}

var metricsLastN int

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show action queue counts and recent failures",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		m, err := rt.Queue.Metrics(cmd.Context(), metricsLastN)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(m)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "waiting\t%d\n", m.Waiting)
		fmt.Fprintf(tw, "active\t%d\n", m.Active)
		fmt.Fprintf(tw, "delayed\t%d\n", m.Delayed)
		fmt.Fprintf(tw, "processed (24h)\t%d\n", m.Processed24h)
		fmt.Fprintf(tw, "failed (24h)\t%d\n", m.Failed24h)
		fmt.Fprintf(tw, "failed (1h)\t%d\n", m.FailedLastHour)
		for _, f := range m.FailedLastN {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.At.Format("2006-01-02 15:04:05"), f.JobID, f.Error)
		}
		return tw.Flush()
	},
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect or clear the dry-run outbox",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List simulated notifications and documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		entries, err := rt.Store.ListOutbox(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(entries)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AT\tTYPE\tORDER\tTEMPLATE\tRECIPIENT")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.At.Format("2006-01-02 15:04:05"), e.Type, e.OrderID, e.TemplateRef, e.Recipient)
		}
		return tw.Flush()
	},
}

var outboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every outbox entry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.Store.ClearOutbox(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("outbox cleared")
		return nil
	},
}

func init() {
	metricsCmd.Flags().IntVar(&metricsLastN, "last", queue.DefaultLastN, "Number of recent failures to show")
	outboxCmd.AddCommand(outboxListCmd)
	outboxCmd.AddCommand(outboxClearCmd)
}
