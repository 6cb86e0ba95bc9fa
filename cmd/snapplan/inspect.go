package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
	"github.com/clarencejohnson126/SnapPlanApp/internal/services"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <file.pdf>",
	Short: "Report the input category and recommended pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate <file.pdf>",
	Short: "Detect the drawing scale",
	Long: `Searches scale annotations and dimension lines and prints the calibration.
A supplied --scale is checked against the drawing's own annotation.`,
	Args: cobra.ExactArgs(1),
	RunE: runCalibrate,
}

func init() {
	classifyCmd.Flags().String("output", "", "output file path (default: stdout)")

	f := calibrateCmd.Flags()
	f.String("scale", "auto", `expected scale "1:N" or "auto"`)
	f.Int("page", 1, "page searched first")
	f.String("output", "", "output file path (default: stdout)")

	rootCmd.AddCommand(classifyCmd, calibrateCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cfg.Options()
	doc, err := loadDocument(ctx, args[0], opts.DPI)
	if err != nil {
		return err
	}
	rt, err := rules.Default()
	if err != nil {
		return err
	}
	cls, err := services.NewClassifier(rt, opts.ClassifierPages).Classify(doc)
	if err != nil {
		return err
	}
	return writeJSON(cmd, cls)
}

type calibrationReport struct {
	Scale      *models.ScaleInfo `json:"scale,omitempty"`
	Annotation *models.ScaleInfo `json:"annotation,omitempty"`
	Matches    *bool             `json:"matches_annotation,omitempty"`
	Deviation  float64           `json:"deviation,omitempty"`
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cfg.Options()
	doc, err := loadDocument(ctx, args[0], opts.DPI)
	if err != nil {
		return err
	}
	rt, err := rules.Default()
	if err != nil {
		return err
	}
	scale, _ := cmd.Flags().GetString("scale")
	page, _ := cmd.Flags().GetInt("page")

	c := services.NewCalibrator(rt)
	sc, err := c.Calibrate(doc, page, services.CalibrationRequest{Scale: scale})
	if err != nil {
		return err
	}
	info := sc.Info(true)
	info.NeedsReview = sc.NeedsReview(opts.ReviewThreshold)
	report := calibrationReport{Scale: &info}

	if ann := c.Annotation(doc, page); ann != nil && sc.Method() == models.ScaleMethodUserInput {
		ai := ann.Info(false)
		ok, dev := services.ValidateScale(sc.PixelsPerMeter(), ann.PixelsPerMeter(), 0.05)
		report.Annotation, report.Matches, report.Deviation = &ai, &ok, dev
		if !ok {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s deviates %.1f%% from the annotation %s\n", sc.ScaleString(), dev*100, ann.ScaleString())
		}
	}
	return writeJSON(cmd, report)
}
