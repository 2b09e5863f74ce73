package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mira/internal/config"
	"mira/internal/schedule"
	"mira/internal/store"
)

func newJobsCmd() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage scheduled jobs",
	}
	jobs.AddCommand(newJobsListCmd())
	jobs.AddCommand(newJobsAddCmd())
	jobs.AddCommand(newJobsApproveCmd())
	return jobs
}

func openStore() (*store.SQLiteStore, *schedule.Calculator, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return db, schedule.NewCalculator(loc), nil
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			jobs, err := db.ListJobs(context.Background())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSCHEDULE\tORIGIN\tENABLED\tAPPROVED\tNEXT RUN\tPROMPT")
			for _, j := range jobs {
				next := "-"
				if !j.NextRun.IsZero() {
					next = j.NextRun.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%s\t%s\n",
					j.ID, j.Schedule, j.Origin, j.Enabled, j.Approved, next, ellipsis(j.Prompt, 40))
			}
			return w.Flush()
		},
	}
}

func newJobsAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <schedule> <prompt>",
		Short: "Add an operator job (enabled and approved immediately)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, calc, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			spec, err := schedule.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid schedule %q: %w", args[0], err)
			}

			job := store.Job{
				ID:       uuid.NewString(),
				Name:     name,
				Schedule: spec.Raw,
				Kind:     string(spec.Kind),
				Prompt:   args[1],
				Enabled:  true,
				Approved: true,
				Origin:   store.OriginOperator,
				NextRun:  calc.NextRunSpec(spec, time.Now()),
			}
			if err := db.InsertJob(context.Background(), job); err != nil {
				return err
			}
			fmt.Printf("added job %s, next run %s\n", job.ID, job.NextRun.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human-readable job name")
	return cmd
}

func newJobsApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve and enable an agent-created job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := db.ApproveJob(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("job %s approved\n", args[0])
			return nil
		},
	}
}

func ellipsis(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
