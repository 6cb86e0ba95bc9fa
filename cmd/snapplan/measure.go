package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
	"github.com/clarencejohnson126/SnapPlanApp/internal/services"
	"github.com/clarencejohnson126/SnapPlanApp/internal/store"
)

var measureCmd = &cobra.Command{
	Use:   "measure <file.pdf>",
	Short: "Extract rooms, doors and drywall from a plan",
	Long: `Runs the full pipeline on one PDF and prints the result as JSON.

Examples:
  # Auto-detect the scale and extract everything
  snapplan measure grundriss_3og.pdf

  # Doors only, from the schedule on page 2
  snapplan measure tuerliste.pdf --options doors --page 2

  # Force the scale and compute drywall at 2.60 m
  snapplan measure plan.pdf --scale 1:50 --wall-height 2.6 --save`,
	Args: cobra.ExactArgs(1),
	RunE: runMeasure,
}

func init() {
	f := measureCmd.Flags()
	f.String("scale", "auto", `drawing scale "1:N" or "auto"`)
	f.Int("page", 0, "only process this page (1-based, 0 = all)")
	f.StringSlice("options", nil, "analyses to run: doors, flooring, drywall, windows (default all)")
	f.Float64("wall-height", 0, "wall height in meters for drywall (overrides config)")
	f.Float64("balcony-factor", -1, "area factor for balconies and terraces (overrides config)")
	f.Bool("save", false, "store the run in the local SQLite database")
	f.Bool("force", false, "process even when a completed run exists for the same file")
	f.String("output", "", "output file path (default: stdout)")

	rootCmd.AddCommand(measureCmd)
}

// requestFromFlags builds the per-run request from command flags.
func requestFromFlags(cmd *cobra.Command) (models.ExtractConfig, error) {
	f := cmd.Flags()
	var req models.ExtractConfig
	var err error
	if req.Scale, err = f.GetString("scale"); err != nil {
		return req, err
	}
	page, err := f.GetInt("page")
	if err != nil {
		return req, err
	}
	if page > 0 {
		req.PageNumber = &page
	}
	opts, err := f.GetStringSlice("options")
	if err != nil {
		return req, err
	}
	for _, o := range opts {
		req.ExtractOptions = append(req.ExtractOptions, strings.ToLower(strings.TrimSpace(o)))
	}
	if req.WallHeightM, err = f.GetFloat64("wall-height"); err != nil {
		return req, err
	}
	bf, err := f.GetFloat64("balcony-factor")
	if err != nil {
		return req, err
	}
	if bf >= 0 {
		req.BalconyFactor = &bf
	}
	return req, nil
}

func loadDocument(ctx context.Context, path string, dpi float64) (*pdfdoc.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return pdfdoc.Load(ctx, data, dpi)
}

func storePath() string {
	if cfg.SQLitePath == "" {
		return "snapplan.db"
	}
	return cfg.SQLitePath
}

func openStore(ctx context.Context) (*store.SQLiteSink, error) {
	return store.NewSQLite(ctx, storePath())
}

func runMeasure(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}
	opts := cfg.Options().WithRequest(req)
	opts.Filename = filepath.Base(args[0])
	if err := opts.Validate(); err != nil {
		return err
	}

	doc, err := loadDocument(ctx, args[0], opts.DPI)
	if err != nil {
		return err
	}

	rt, err := rules.Default()
	if err != nil {
		return err
	}
	pipeOpts, closeBackends, err := cfg.PipelineOptions(ctx)
	if err != nil {
		return err
	}
	defer closeBackends()

	save, _ := cmd.Flags().GetBool("save")
	force, _ := cmd.Flags().GetBool("force")
	if save {
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		if !force {
			existing, dup, err := db.FindCompletedByHash(ctx, doc.Hash)
			if err != nil {
				return err
			}
			if dup {
				fmt.Fprintf(cmd.ErrOrStderr(), "already measured as run %s (use --force to repeat)\n", existing)
				res, err := db.GetResult(ctx, existing)
				if err != nil {
					return err
				}
				return writeJSON(cmd, res)
			}
		}
		pipeOpts = append(pipeOpts, services.WithSinks(db))
	}

	_, res, runErr := services.NewPipeline(rt, pipeOpts...).Run(ctx, doc, opts)
	if res != nil {
		if err := writeJSON(cmd, res); err != nil {
			return err
		}
	}
	return runErr
}

func writeJSON(cmd *cobra.Command, v any) error {
	var w io.Writer = cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
