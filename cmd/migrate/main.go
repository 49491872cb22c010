package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the PostgreSQL schema of the pool proxy store",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				dsn = os.Getenv("PROXY_POSTGRES_DSN")
			}
			if dsn == "" {
				return fmt.Errorf("a DSN is required: pass --dsn or set PROXY_POSTGRES_DSN")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string")

	withRunner := func(fn func(cmd *cobra.Command, r *migrations.Runner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			r, err := migrations.OpenPostgres(dsn)
			if err != nil {
				return err
			}
			defer r.Close()
			return fn(cmd, r)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(cmd *cobra.Command, r *migrations.Runner) error {
			if err := r.Up(); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			cmd.Println("migrations applied")
			return nil
		}),
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(cmd *cobra.Command, r *migrations.Runner) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			if err := r.Down(steps); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			cmd.Printf("rolled back %d step(s)\n", steps)
			return nil
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	root.AddCommand(down)

	root.AddCommand(&cobra.Command{
		Use:   "goto VERSION",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withRunner(func(cmd *cobra.Command, r *migrations.Runner) error {
				if err := r.Goto(uint(v)); err != nil {
					return fmt.Errorf("migrate goto: %w", err)
				}
				cmd.Printf("schema at version %d\n", v)
				return nil
			})(cmd, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(cmd *cobra.Command, r *migrations.Runner) error {
			st, err := r.Status()
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			state := "clean"
			switch {
			case st.Dirty:
				state = "dirty"
			case st.Pending():
				state = "pending"
			}
			cmd.Printf("current version: %d of %d (%s)\n", st.Current, st.Latest, state)
			return nil
		}),
	})
	return root
}
