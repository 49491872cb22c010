package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/config"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	backend    string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "storageutil",
		Short:        "Export, import, verify and copy pool proxy state",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&g.backend, "backend", "", "override storage_backend from the config")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "operation timeout")

	root.AddCommand(exportCmd(g), importCmd(g), verifyCmd(g), copyCmd(g))
	return root
}

func exportCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored entry as a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			b, err := openBackend(ctx, g, g.backend)
			if err != nil {
				return err
			}
			defer b.Close()

			snap, err := storage.Export(ctx, b)
			if err != nil {
				return err
			}
			if err := writeSnapshot(cmd.OutOrStdout(), file, snap); err != nil {
				return err
			}
			cmd.PrintErrf("exported %d entries\n", len(snap.Entries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "output file (default stdout)")
	return cmd
}

func importCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a JSON snapshot into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := readSnapshot(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			b, err := openBackend(ctx, g, g.backend)
			if err != nil {
				return err
			}
			defer b.Close()

			n, err := storage.Import(ctx, b, snap)
			if err != nil {
				return err
			}
			cmd.Printf("imported %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "input file (default stdin)")
	return cmd
}

func verifyCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare the store against a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := readSnapshot(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			b, err := openBackend(ctx, g, g.backend)
			if err != nil {
				return err
			}
			defer b.Close()

			diff, err := storage.Diff(ctx, b, snap)
			if err != nil {
				return err
			}
			if len(diff) == 0 {
				cmd.Println("storage matches snapshot")
				return nil
			}
			for _, key := range diff {
				cmd.Println("differs:", key)
			}
			return fmt.Errorf("%d keys differ", len(diff))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot file (default stdin)")
	return cmd
}

func copyCmd(g *globalFlags) *cobra.Command {
	var from, to string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy every entry from one backend to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if from == "" || to == "" || from == to {
				return fmt.Errorf("--from and --to must name two different backends")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			src, err := openBackend(ctx, g, from)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			defer src.Close()
			snap, err := storage.Export(ctx, src)
			if err != nil {
				return err
			}
			if dryRun {
				cmd.Printf("would copy %d entries from %s to %s\n", len(snap.Entries), from, to)
				return nil
			}

			dst, err := openBackend(ctx, g, to)
			if err != nil {
				return fmt.Errorf("destination: %w", err)
			}
			defer dst.Close()
			n, err := storage.Import(ctx, dst, snap)
			if err != nil {
				return err
			}
			diff, err := storage.Diff(ctx, dst, snap)
			if err != nil {
				return err
			}
			cmd.Printf("copied %d entries from %s to %s (%d keys differ afterwards)\n", n, from, to, len(diff))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source backend (file, redis, postgres, mongodb)")
	cmd.Flags().StringVar(&to, "to", "", "destination backend")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only count what would be copied")
	return cmd
}

func openBackend(ctx context.Context, g *globalFlags, kind string) (storage.Backend, error) {
	cfg := config.DefaultConfig()
	if g.configPath != "" {
		loaded, err := config.LoadFile(g.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg)
	opts := cfg.StorageOptions()
	if kind != "" {
		opts.Backend = kind
	}
	b, _, err := storage.Open(ctx, opts)
	return b, err
}

func writeSnapshot(stdout io.Writer, path string, snap *storage.Snapshot) error {
	w := stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open export file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func readSnapshot(stdin io.Reader, path string) (*storage.Snapshot, error) {
	r := stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		r = f
	}
	var snap storage.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
