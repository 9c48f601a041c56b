package main

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/solarmap/internal/geometry"
	"github.com/sells-group/solarmap/internal/report"
	"github.com/sells-group/solarmap/pkg/pvwatts"
)

var (
	estimateInput  string
	estimateFormat string
	estimateXLSX   string
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate solar output for a polygon file",
	Long:  "Reads a polygon from a GeoJSON, WKT or shapefile input, validates it and requests a PVWatts estimate for it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("estimate"); err != nil {
			return err
		}

		format, err := report.ParseFormat(estimateFormat)
		if err != nil {
			return err
		}

		return runEstimate(cmd.Context(), cmd.OutOrStdout(), newValidator(cfg), newEstimateClient(cfg), estimateOptions{
			Input:  estimateInput,
			Format: format,
			XLSX:   estimateXLSX,
		})
	},
}

func init() {
	estimateCmd.Flags().StringVar(&estimateInput, "input", "", "polygon file (.geojson, .json, .wkt, .shp)")
	estimateCmd.Flags().StringVar(&estimateFormat, "format", "text", "output format: json, yaml or text")
	estimateCmd.Flags().StringVar(&estimateXLSX, "xlsx", "", "also write the estimate to this workbook")
	_ = estimateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(estimateCmd)
}

type estimateOptions struct {
	Input  string
	Format report.Format
	XLSX   string
}

// runEstimate performs one validate-and-fetch pass for a polygon file. A
// rejected polygon or service error is reported and returned as an error.
func runEstimate(ctx context.Context, w io.Writer, v *geometry.Validator, client pvwatts.Client, opts estimateOptions) error {
	log := zap.L().With(zap.String("input", opts.Input))

	poly, err := geometry.ReadFile(opts.Input)
	if err != nil {
		return err
	}

	check := buildValidation(v, opts.Input, poly)
	if !check.Valid {
		if err := report.Write(w, opts.Format, check); err != nil {
			return err
		}
		return eris.Errorf("estimate: polygon rejected: %s", check.Message)
	}

	log.Info("requesting estimate",
		zap.Float64("capacity_kw", check.Request.SystemCapacityKW),
		zap.Float64("lat", check.Request.Lat),
		zap.Float64("lon", check.Request.Lon),
	)

	resp, err := client.FetchEstimate(ctx, *check.Request)
	if err != nil {
		return eris.Wrap(err, "estimate: fetch")
	}

	est := &report.Estimate{
		Geometry: check.Geometry,
		Request:  *check.Request,
		Outputs:  resp.Outputs,
		Station:  resp.StationInfo,
		Warnings: resp.Warnings,
		Errors:   resp.Errors,
	}

	if err := report.Write(w, opts.Format, est); err != nil {
		return err
	}

	if opts.XLSX != "" {
		if err := report.WriteXLSX(opts.XLSX, est); err != nil {
			return err
		}
		log.Info("wrote workbook", zap.String("path", opts.XLSX))
	}

	if resp.HasErrors() {
		return eris.Errorf("estimate: service rejected request: %s", strings.Join(resp.Errors, "; "))
	}
	return nil
}
