package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rooflytics/internal/energy"
	"rooflytics/internal/roof"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() Report {
	roofs := []roof.Roof{
		{Label: 1, Class: roof.Hot},
		{Label: 2, Class: roof.Cool},
		{Label: 3, Class: roof.Hot},
	}
	estimates := []energy.Estimate{
		{Label: 1, EnergyKWhPerYear: 10.123456, CostPerYear: 3.0370368, CO2KgPerYear: 1.0123456},
		{Label: 2, EnergyKWhPerYear: 2.5, CostPerYear: 0.75, CO2KgPerYear: 0.25},
		{Label: 3, EnergyKWhPerYear: 5000, CostPerYear: 1500, CO2KgPerYear: 500},
	}
	return New("job-1", "tile_001.tif", roofs, estimates)
}

func TestNewSumsAndCounts(t *testing.T) {
	r := sampleReport()
	assert.Equal(t, 3, r.NumRoofs)
	assert.Equal(t, 2, r.HotRoofs)
	assert.Equal(t, 1, r.CoolRoofs)
	assert.InDelta(t, 5012.623456, r.TotalEnergyKWhPerYear, 1e-9)
	assert.InDelta(t, 1503.7870368, r.TotalCostPerYear, 1e-9)
}

func TestRoundedLeavesReceiverUnchanged(t *testing.T) {
	r := sampleReport()
	rounded := r.Rounded()

	assert.Equal(t, 5012.62, rounded.TotalEnergyKWhPerYear)
	assert.Equal(t, 1503.79, rounded.TotalCostPerYear)
	assert.Equal(t, 501.26, rounded.TotalCO2KgPerYear)
	assert.InDelta(t, 5012.623456, r.TotalEnergyKWhPerYear, 1e-9, "full precision retained")
}

func TestSummaryAndWriteJSON(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := energy.DefaultConstants()
	row := sampleReport().Summary(c, now)

	assert.Equal(t, 0.025, row.UsageFactor)
	assert.Equal(t, 5000.0, row.MaxKWhPerRoof)
	assert.Equal(t, now, row.CreatedAt)

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, WriteJSON(path, row))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, 3.0, fields["num_roofs"])
	assert.InDelta(t, 5012.623456, fields["total_energy_kwh_per_year"], 1e-9)
	assert.Equal(t, 0.025, fields["usage_factor"])
}
