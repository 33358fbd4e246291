// Package report builds the job-level savings report and the summary row
// persisted for each completed job.
package report

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"rooflytics/internal/energy"
	"rooflytics/internal/roof"
	"rooflytics/internal/version"
)

// Report aggregates one job. Totals keep full precision; use Rounded for
// display.
type Report struct {
	JobID                 string  `json:"job_id"`
	TileName              string  `json:"tile_name"`
	NumRoofs              int     `json:"num_roofs"`
	HotRoofs              int     `json:"hot_roofs"`
	CoolRoofs             int     `json:"cool_roofs"`
	TotalEnergyKWhPerYear float64 `json:"total_energy_kwh_per_year"`
	TotalCostPerYear      float64 `json:"total_cost_per_year"`
	TotalCO2KgPerYear     float64 `json:"total_co2_kg_per_year"`
}

// SummaryRow is the record stored per completed job. It repeats the report
// aggregates and the model constants that produced them.
type SummaryRow struct {
	Report
	UsageFactor   float64   `json:"usage_factor"`
	MaxKWhPerRoof float64   `json:"max_kwh_per_roof"`
	CreatedAt     time.Time `json:"created_at"`
	Version       string    `json:"version"`
}

// New builds a report from classified roofs and their estimates.
func New(jobID, tileName string, roofs []roof.Roof, estimates []energy.Estimate) Report {
	hot, cool := 0, 0
	for _, r := range roofs {
		switch r.Class {
		case roof.Hot:
			hot++
		case roof.Cool:
			cool++
		}
	}
	totals := energy.Sum(estimates)

	return Report{
		JobID:                 jobID,
		TileName:              tileName,
		NumRoofs:              len(roofs),
		HotRoofs:              hot,
		CoolRoofs:             cool,
		TotalEnergyKWhPerYear: totals.EnergyKWhPerYear,
		TotalCostPerYear:      totals.CostPerYear,
		TotalCO2KgPerYear:     totals.CO2KgPerYear,
	}
}

// Rounded returns a copy with every total rounded to 2 decimal places.
func (r Report) Rounded() Report {
	r.TotalEnergyKWhPerYear = round2(r.TotalEnergyKWhPerYear)
	r.TotalCostPerYear = round2(r.TotalCostPerYear)
	r.TotalCO2KgPerYear = round2(r.TotalCO2KgPerYear)
	return r
}

// Summary returns the row persisted for this report. Totals are stored at
// full precision.
func (r Report) Summary(c energy.Constants, now time.Time) SummaryRow {
	return SummaryRow{
		Report:        r,
		UsageFactor:   c.UsageFactor,
		MaxKWhPerRoof: c.MaxKWhPerRoof,
		CreatedAt:     now.UTC(),
		Version:       version.Version,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
