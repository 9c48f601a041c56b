package main

import (
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/solarmap/internal/geometry"
	"github.com/sells-group/solarmap/internal/report"
)

var (
	validateInput  string
	validateFormat string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a polygon file against the capacity bounds",
	Long:  "Computes area, centroid and system capacity for a polygon without calling the estimate service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("validate"); err != nil {
			return err
		}

		format, err := report.ParseFormat(validateFormat)
		if err != nil {
			return err
		}

		return runValidate(cmd.OutOrStdout(), newValidator(cfg), validateInput, format)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateInput, "input", "", "polygon file (.geojson, .json, .wkt, .shp)")
	validateCmd.Flags().StringVar(&validateFormat, "format", "text", "output format: json, yaml or text")
	_ = validateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(w io.Writer, v *geometry.Validator, input string, format report.Format) error {
	poly, err := geometry.ReadFile(input)
	if err != nil {
		return err
	}

	check := buildValidation(v, input, poly)
	if err := report.Write(w, format, check); err != nil {
		return err
	}
	if !check.Valid {
		return eris.Errorf("validate: polygon rejected: %s", check.Reason)
	}
	return nil
}

// buildValidation derives the polygon geometry and applies the validator.
func buildValidation(v *geometry.Validator, input string, poly *geom.Polygon) *report.Validation {
	// Centroid failures surface through Validate below.
	derived, _ := geometry.Derive(poly)

	check := &report.Validation{
		Geometry: report.Geometry{
			Input:            input,
			AreaSquareMeters: derived.AreaSquareMeters,
			CentroidLon:      derived.CentroidLon,
			CentroidLat:      derived.CentroidLat,
			ModuleEfficiency: v.Efficiency(),
			CapacityKW:       v.Capacity(derived.AreaSquareMeters),
		},
	}

	req, err := v.Validate(poly)
	if err != nil {
		check.Message = err.Error()
		var verr *geometry.ValidationError
		if errors.As(err, &verr) {
			check.Reason = verr.Reason.String()
		}
		return check
	}

	check.Valid = true
	check.Request = &req
	return check
}
