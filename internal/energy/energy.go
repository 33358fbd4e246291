// Package energy estimates annual cooling savings from retrofitting roofs
// with reflective coatings.
package energy

import (
	"math"

	"rooflytics/internal/errs"
	"rooflytics/internal/mask"
	"rooflytics/internal/roof"

	"gonum.org/v1/gonum/floats"
)

// Assumed achievable reflectance improvement per thermal class.
const (
	DeltaReflectanceHot  = 0.4
	DeltaReflectanceCool = 0.1
)

// Constants are the physical and economic inputs of the savings model.
type Constants struct {
	SolarIrradiance   float64 `yaml:"solar_irradiance" json:"solar_irradiance"`     // kW/m²
	SunlightHours     float64 `yaml:"sunlight_hours" json:"sunlight_hours"`         // h/year
	CoolingEfficiency float64 `yaml:"cooling_efficiency" json:"cooling_efficiency"` // fraction
	ElectricityPrice  float64 `yaml:"electricity_price" json:"electricity_price"`   // currency/kWh
	EmissionFactor    float64 `yaml:"emission_factor" json:"emission_factor"`       // kg CO2/kWh
	UsageFactor       float64 `yaml:"usage_factor" json:"usage_factor"`             // realised share
	MaxKWhPerRoof     float64 `yaml:"max_kwh_per_roof" json:"max_kwh_per_roof"`     // cap per roof
}

// DefaultConstants returns the reference model for residential roofs.
func DefaultConstants() Constants {
	return Constants{
		SolarIrradiance:   0.75,
		SunlightHours:     1700,
		CoolingEfficiency: 0.65,
		ElectricityPrice:  0.30,
		EmissionFactor:    0.10,
		UsageFactor:       0.025,
		MaxKWhPerRoof:     5000,
	}
}

// Validate returns a ConfigurationError for the first non-finite or negative
// constant. The cap must be positive.
func (c Constants) Validate() error {
	fields := []struct {
		key string
		v   float64
	}{
		{"energy.solar_irradiance", c.SolarIrradiance},
		{"energy.sunlight_hours", c.SunlightHours},
		{"energy.cooling_efficiency", c.CoolingEfficiency},
		{"energy.electricity_price", c.ElectricityPrice},
		{"energy.emission_factor", c.EmissionFactor},
		{"energy.usage_factor", c.UsageFactor},
		{"energy.max_kwh_per_roof", c.MaxKWhPerRoof},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return errs.Config(f.key, "must be finite, got %v", f.v)
		}
		if f.v < 0 {
			return errs.Config(f.key, "cannot be negative, got %v", f.v)
		}
	}
	if c.MaxKWhPerRoof == 0 {
		return errs.Config("energy.max_kwh_per_roof", "must be positive")
	}
	if c.UsageFactor > 1 {
		return errs.Config("energy.usage_factor", "is a fraction, got %v", c.UsageFactor)
	}
	return nil
}

// Estimate is the annual savings of retrofitting one roof.
type Estimate struct {
	Label            int               `json:"label"`
	AreaM2           float64           `json:"area_m2"`
	Class            roof.ThermalClass `json:"roof_type"`
	EnergyKWhPerYear float64           `json:"energy_kwh_per_year"`
	CostPerYear      float64           `json:"cost_savings_per_year"`
	CO2KgPerYear     float64           `json:"co2_savings_kg_per_year"`
}

// Totals is the plain sum of a set of estimates.
type Totals struct {
	Roofs            int     `json:"roofs"`
	EnergyKWhPerYear float64 `json:"energy_kwh_per_year"`
	CostPerYear      float64 `json:"cost_per_year"`
	CO2KgPerYear     float64 `json:"co2_kg_per_year"`
}

// DeltaReflectance returns the reflectance improvement assumed for a class.
func DeltaReflectance(class roof.ThermalClass) float64 {
	if class == roof.Hot {
		return DeltaReflectanceHot
	}
	return DeltaReflectanceCool
}

// AreasM2 returns the ground area of every labelled component.
func AreasM2(lab *mask.Labeling, pixelAreaM2 float64) map[int]float64 {
	areas := make(map[int]float64, lab.Count())
	for label := 1; label <= lab.Count(); label++ {
		areas[label] = float64(lab.Area(label)) * pixelAreaM2
	}
	return areas
}

// RoofEnergy returns the capped annual savings in kWh for one roof.
func (c Constants) RoofEnergy(areaM2 float64, class roof.ThermalClass) float64 {
	kwh := areaM2 *
		c.SolarIrradiance *
		c.SunlightHours *
		DeltaReflectance(class) *
		c.CoolingEfficiency *
		c.UsageFactor

	// Cap per roof (residential realism)
	return math.Min(kwh, c.MaxKWhPerRoof)
}

// Estimate computes savings for every roof with a non-zero area. Roofs are
// expected to carry AreaM2 and a thermal class.
func Estimate(roofs []roof.Roof, c Constants) ([]Estimate, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	results := make([]Estimate, 0, len(roofs))
	for _, r := range roofs {
		if r.AreaM2 <= 0 {
			continue
		}

		kwh := c.RoofEnergy(r.AreaM2, r.Class)
		results = append(results, Estimate{
			Label:            r.Label,
			AreaM2:           r.AreaM2,
			Class:            r.Class,
			EnergyKWhPerYear: kwh,
			CostPerYear:      kwh * c.ElectricityPrice,
			CO2KgPerYear:     kwh * c.EmissionFactor,
		})
	}
	return results, nil
}

// Sum totals energy, cost and emissions across estimates.
func Sum(estimates []Estimate) Totals {
	kwh := make([]float64, len(estimates))
	cost := make([]float64, len(estimates))
	co2 := make([]float64, len(estimates))
	for i, e := range estimates {
		kwh[i] = e.EnergyKWhPerYear
		cost[i] = e.CostPerYear
		co2[i] = e.CO2KgPerYear
	}
	return Totals{
		Roofs:            len(estimates),
		EnergyKWhPerYear: floats.Sum(kwh),
		CostPerYear:      floats.Sum(cost),
		CO2KgPerYear:     floats.Sum(co2),
	}
}
