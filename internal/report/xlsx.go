package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet names used in estimate workbooks.
const (
	SummarySheet = "Summary"
	MonthlySheet = "Monthly"
)

// WriteXLSX saves an estimate as a workbook with a summary sheet and, when
// outputs are present, a monthly production sheet.
func WriteXLSX(path string, e *Estimate) error {
	if e == nil {
		return eris.New("xlsx: nil estimate")
	}

	f := xlsx.NewFile()

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "xlsx: add summary sheet")
	}
	addRow(summary, "Field", "Value")
	if e.Input != "" {
		addRow(summary, "Input", e.Input)
	}
	addFloatRow(summary, "Area (m2)", e.AreaSquareMeters)
	addFloatRow(summary, "Centroid latitude", e.CentroidLat)
	addFloatRow(summary, "Centroid longitude", e.CentroidLon)
	addFloatRow(summary, "Module efficiency", e.ModuleEfficiency)
	addFloatRow(summary, "System capacity (kW)", e.Request.SystemCapacityKW)

	for _, msg := range e.Errors {
		addRow(summary, "Error", msg)
	}
	for _, msg := range e.Warnings {
		addRow(summary, "Warning", msg)
	}

	if o := e.Outputs; o != nil {
		addFloatRow(summary, "Annual AC output (kWh)", o.ACAnnual)
		addFloatRow(summary, "Solar radiation (kWh/m2/day)", o.SolradAnnual)
		addFloatRow(summary, "Capacity factor (%)", o.CapacityFactor)

		monthly, err := f.AddSheet(MonthlySheet)
		if err != nil {
			return eris.Wrap(err, "xlsx: add monthly sheet")
		}
		addRow(monthly, "Month", "AC (kWh)", "DC (kWh)", "POA (kWh/m2)", "Solar radiation (kWh/m2/day)")
		for i, name := range monthNames {
			row := monthly.AddRow()
			row.AddCell().SetString(name)
			for _, series := range [][]float64{o.ACMonthly, o.DCMonthly, o.POAMonthly, o.SolradMonthly} {
				cell := row.AddCell()
				if i < len(series) {
					cell.SetFloat(series[i])
				}
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addFloatRow(sheet *xlsx.Sheet, label string, v float64) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetFloat(v)
}
