// Package report renders estimates and geometry checks for the CLI.
package report

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/solarmap/pkg/pvwatts"
)

// Format selects the output encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatText:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", eris.Errorf("report: unknown format %q (want json, yaml or text)", s)
	}
}

// Report is anything this package can render.
type Report interface {
	writeText(p *message.Printer, w io.Writer) error
}

// Geometry describes the polygon an estimate was derived from.
type Geometry struct {
	Input            string  `json:"input,omitempty" yaml:"input,omitempty"`
	AreaSquareMeters float64 `json:"area_m2" yaml:"area_m2"`
	CentroidLon      float64 `json:"centroid_lon" yaml:"centroid_lon"`
	CentroidLat      float64 `json:"centroid_lat" yaml:"centroid_lat"`
	ModuleEfficiency float64 `json:"module_efficiency" yaml:"module_efficiency"`
	CapacityKW       float64 `json:"capacity_kw" yaml:"capacity_kw"`
}

// Validation is the result of checking a polygon without calling the
// estimate service.
type Validation struct {
	Geometry `yaml:",inline"`
	Valid    bool             `json:"valid" yaml:"valid"`
	Reason   string           `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message  string           `json:"message,omitempty" yaml:"message,omitempty"`
	Request  *pvwatts.Request `json:"request,omitempty" yaml:"request,omitempty"`
}

// Estimate is a completed estimate for one polygon. Errors holds the service
// error list when it rejected the request.
type Estimate struct {
	Geometry `yaml:",inline"`
	Request  pvwatts.Request      `json:"request" yaml:"request"`
	Outputs  *pvwatts.Outputs     `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Station  *pvwatts.StationInfo `json:"station,omitempty" yaml:"station,omitempty"`
	Warnings []string             `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Errors   []string             `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Write renders r to w in the given format.
func Write(w io.Writer, format Format, r Report) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(r), "report: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: encode yaml")
	case FormatText:
		return r.writeText(message.NewPrinter(language.English), w)
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}

var monthNames = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// textWriter accumulates the first write error so renderers can print
// line after line and check once.
type textWriter struct {
	p   *message.Printer
	w   io.Writer
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = t.p.Fprintf(t.w, format, args...)
}

func (g Geometry) writeText(t *textWriter) {
	if g.Input != "" {
		t.printf("Input:             %s\n", g.Input)
	}
	t.printf("Area:              %.1f m²\n", g.AreaSquareMeters)
	t.printf("Centroid:          %.6f, %.6f (lat, lon)\n", g.CentroidLat, g.CentroidLon)
	t.printf("Module efficiency: %.2f\n", g.ModuleEfficiency)
	t.printf("System capacity:   %.2f kW\n", g.CapacityKW)
}

func (v *Validation) writeText(p *message.Printer, w io.Writer) error {
	t := &textWriter{p: p, w: w}
	v.Geometry.writeText(t)
	if v.Valid {
		t.printf("Status:            valid\n")
	} else {
		t.printf("Status:            invalid (%s)\n", v.Reason)
		if v.Message != "" {
			t.printf("                   %s\n", v.Message)
		}
	}
	return eris.Wrap(t.err, "report: write text")
}

func (e *Estimate) writeText(p *message.Printer, w io.Writer) error {
	t := &textWriter{p: p, w: w}
	e.Geometry.writeText(t)

	if len(e.Errors) > 0 {
		t.printf("\nThe estimate service rejected the request:\n")
		for _, msg := range e.Errors {
			t.printf("  - %s\n", msg)
		}
		return eris.Wrap(t.err, "report: write text")
	}

	if e.Station != nil {
		loc := e.Station.City
		if e.Station.State != "" {
			loc += ", " + e.Station.State
		}
		t.printf("Weather station:   %s (%d m away)\n", strings.TrimPrefix(loc, ", "), e.Station.Distance)
	}

	if o := e.Outputs; o != nil {
		t.printf("\nAnnual AC output:  %.0f kWh\n", o.ACAnnual)
		t.printf("Solar radiation:   %.2f kWh/m²/day\n", o.SolradAnnual)
		t.printf("Capacity factor:   %.1f%%\n", o.CapacityFactor)

		if len(o.ACMonthly) > 0 {
			t.printf("\nMonth     AC (kWh)\n")
			for i, v := range o.ACMonthly {
				if i >= len(monthNames) {
					break
				}
				t.printf("%-5s %12.0f\n", monthNames[i], v)
			}
		}
	}

	for _, warn := range e.Warnings {
		t.printf("warning: %s\n", warn)
	}
	return eris.Wrap(t.err, "report: write text")
}
